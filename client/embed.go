// Package client embeds the browser script that drives the generator page:
// it opens the live socket, patches the preview and runs downloads,
// clipboard writes and share requests for the server.
package client

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"net/http"
	"slices"
	"sync"
)

// ScriptName is the file the page loads.
const ScriptName = "khatt.js"

//go:embed src/*.js
var src embed.FS

var (
	files  = mustSub(src, "src")
	etags  = map[string]string{}
	etagMu sync.Mutex
)

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Assets returns the embedded scripts.
func Assets() fs.FS { return files }

// GetFile returns the contents of an embedded script.
func GetFile(name string) ([]byte, error) {
	return fs.ReadFile(files, name)
}

// FileNames lists the embedded scripts in lexical order.
func FileNames() []string {
	names, _ := fs.Glob(files, "*.js")
	slices.Sort(names)
	return names
}

// Version is a short content hash of the script, for cache-busting URLs.
func Version(name string) string {
	etagMu.Lock()
	defer etagMu.Unlock()
	if v, ok := etags[name]; ok {
		return v
	}
	data, err := GetFile(name)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	v := hex.EncodeToString(sum[:6])
	etags[name] = v
	return v
}

// ScriptURL returns the script path under prefix with its version query.
func ScriptURL(prefix string) string {
	return prefix + ScriptName + "?v=" + Version(ScriptName)
}

// Handler serves the embedded scripts. Mount it behind http.StripPrefix.
// Browsers revalidate on every load and get 304 while the hash matches.
func Handler() http.Handler {
	fileServer := http.FileServerFS(files)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := Version(r.URL.Path); v != "" {
			w.Header().Set("ETag", `"`+v+`"`)
		}
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}
