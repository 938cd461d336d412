package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/khattlab/khatt/pkg/analytics"
)

func TestRecord(t *testing.T) {
	m := New("khatt")
	m.Record(analytics.EventExportPNG, analytics.Props{"result": "success", "duration_ms": int64(120)})
	m.Record(analytics.EventExportPNG, analytics.Props{"result": "error", "duration_ms": int64(3)})
	m.Record(analytics.EventShare, analytics.Props{"result": "cancelled", "duration_ms": int64(5000)})
	m.Record(analytics.EventUpload, analytics.Props{"bytes": int64(2048)})

	if got := m.Events.Value(analytics.EventExportPNG, "success"); got != 1 {
		t.Errorf("png success = %d", got)
	}
	if got := m.Events.Value(analytics.EventExportPNG, "error"); got != 1 {
		t.Errorf("png error = %d", got)
	}
	if got := m.Events.Value(analytics.EventUpload, "success"); got != 1 {
		t.Errorf("uploads = %d", got)
	}
	if got := m.ExportDuration.Count(); got != 3 {
		t.Errorf("export observations = %d, want 3", got)
	}
	if got := m.UploadBytes.Value(); got != 2048 {
		t.Errorf("upload bytes = %d", got)
	}
}

func TestHandler(t *testing.T) {
	m := New("khatt")
	sessions := 2
	m.Gauge("sessions", "Open live sessions.", func() int { return sessions })
	m.Record(analytics.EventExportSVG, analytics.Props{"result": "success", "duration_ms": int64(40)})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"# TYPE khatt_events_total counter",
		`khatt_events_total{event="export_svg",result="success"} 1`,
		"# TYPE khatt_export_duration_seconds histogram",
		`khatt_export_duration_seconds_bucket{le="0.025"} 0`,
		`khatt_export_duration_seconds_bucket{le="0.05"} 1`,
		`khatt_export_duration_seconds_bucket{le="+Inf"} 1`,
		"khatt_export_duration_seconds_sum 0.04",
		"khatt_export_duration_seconds_count 1",
		"khatt_upload_bytes_total 0",
		"# TYPE khatt_sessions gauge",
		"khatt_sessions 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHistogram_Buckets(t *testing.T) {
	h := NewHistogram("x", "x", []float64{1, 0.5})
	for _, v := range []float64{0.1, 0.5, 0.7, 3} {
		h.Observe(v)
	}
	var sb strings.Builder
	h.write(&countingWriter{w: &sb}, "")
	for _, want := range []string{`x_bucket{le="0.5"} 2`, `x_bucket{le="1"} 3`, `x_bucket{le="+Inf"} 4`, "x_count 4"} {
		if !strings.Contains(sb.String(), want) {
			t.Errorf("missing %q in:\n%s", want, sb.String())
		}
	}
}
