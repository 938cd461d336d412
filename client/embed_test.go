package client

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFileNames(t *testing.T) {
	names := FileNames()
	found := false
	for _, n := range names {
		if n == ScriptName {
			found = true
		}
	}
	if !found {
		t.Fatalf("FileNames() = %v, want %s", names, ScriptName)
	}
}

func TestGetFile(t *testing.T) {
	data, err := GetFile(ScriptName)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	// The script speaks the live protocol's event names.
	for _, want := range []string{`"khatt-live"`, `"khatt-state"`, `"can_share"`, `vsn=json`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("script missing %s", want)
		}
	}

	if _, err := GetFile("missing.js"); err == nil {
		t.Error("GetFile(missing.js) should fail")
	}
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(http.StripPrefix("/static/", Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/static/" + ScriptName)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q", resp.Header.Get("Cache-Control"))
	}
	body, _ := io.ReadAll(resp.Body)
	want, _ := GetFile(ScriptName)
	if !bytes.Equal(body, want) {
		t.Error("served script differs from embedded file")
	}
}

func TestHandler_ETag(t *testing.T) {
	srv := httptest.NewServer(http.StripPrefix("/static/", Handler()))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/static/"+ScriptName, nil)
	req.Header.Set("If-None-Match", `"`+Version(ScriptName)+`"`)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("status = %d, want 304", resp.StatusCode)
	}
}

func TestScriptURL(t *testing.T) {
	v := Version(ScriptName)
	if len(v) != 12 {
		t.Fatalf("Version = %q", v)
	}
	if got := ScriptURL("/static/"); got != "/static/khatt.js?v="+v {
		t.Errorf("ScriptURL = %q", got)
	}
	if Version("missing.js") != "" {
		t.Error("Version of a missing file should be empty")
	}
}
