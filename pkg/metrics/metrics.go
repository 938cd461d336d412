// Package metrics keeps process counters for the generator and serves them
// in the Prometheus text format.
//
// Metrics is also an analytics.Sink: export and upload events recorded by
// the generator are counted as they pass through.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khattlab/khatt/pkg/analytics"
)

// DefaultBuckets are upper bounds in seconds for export durations. A 4x
// PNG of a large preview takes a few hundred milliseconds.
var DefaultBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds the generator's metrics.
type Metrics struct {
	namespace string

	// Events counts analytics events by event name and result.
	Events *CounterVec
	// ExportDuration observes export_* and copy/share durations.
	ExportDuration *Histogram
	// UploadBytes sums the size of accepted background images.
	UploadBytes *Counter

	mu     sync.RWMutex
	gauges []*GaugeFunc
}

// New creates the metrics set. Names are prefixed with namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		namespace:      namespace,
		Events:         NewCounterVec("events_total", "Analytics events by name and result.", "event", "result"),
		ExportDuration: NewHistogram("export_duration_seconds", "Time from export request to delivery.", DefaultBuckets),
		UploadBytes:    NewCounter("upload_bytes_total", "Bytes of accepted background images."),
	}
}

// Gauge registers a value read at scrape time, such as the session count.
func (m *Metrics) Gauge(name, help string, fn func() int) {
	m.mu.Lock()
	m.gauges = append(m.gauges, &GaugeFunc{name: name, help: help, fn: fn})
	m.mu.Unlock()
}

// Record implements analytics.Sink.
func (m *Metrics) Record(event string, props analytics.Props) {
	result, _ := props["result"].(string)
	if result == "" {
		result = "success"
	}
	m.Events.Inc(event, result)

	if ms, ok := number(props["duration_ms"]); ok && event != analytics.EventUpload {
		m.ExportDuration.Observe(ms / 1000)
	}
	if event == analytics.EventUpload {
		if n, ok := number(props["bytes"]); ok {
			m.UploadBytes.Add(int64(n))
		}
	}
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.WriteTo(w)
	})
}

// WriteTo writes every metric to w.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	m.Events.write(cw, m.namespace)
	m.ExportDuration.write(cw, m.namespace)
	m.UploadBytes.write(cw, m.namespace)

	m.mu.RLock()
	gauges := append([]*GaugeFunc(nil), m.gauges...)
	m.mu.RUnlock()
	for _, g := range gauges {
		g.write(cw, m.namespace)
	}
	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) printf(format string, args ...any) {
	if c.err != nil {
		return
	}
	n, err := fmt.Fprintf(c.w, format, args...)
	c.n += int64(n)
	c.err = err
}

func header(w *countingWriter, name, help, typ string) {
	w.printf("# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func fqName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc()            { c.value.Add(1) }
func (c *Counter) Add(delta int64) { c.value.Add(delta) }
func (c *Counter) Value() int64    { return c.value.Load() }

func (c *Counter) write(w *countingWriter, ns string) {
	name := fqName(ns, c.name)
	header(w, name, c.help, "counter")
	w.printf("%s %d\n", name, c.Value())
}

// GaugeFunc reports a value computed at scrape time.
type GaugeFunc struct {
	name string
	help string
	fn   func() int
}

func (g *GaugeFunc) write(w *countingWriter, ns string) {
	name := fqName(ns, g.name)
	header(w, name, g.help, "gauge")
	w.printf("%s %d\n", name, g.fn())
}

// CounterVec is a counter partitioned by label values.
type CounterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.RWMutex
	values map[string]*Counter
}

// NewCounterVec creates a counter vector with the given label names.
func NewCounterVec(name, help string, labels ...string) *CounterVec {
	return &CounterVec{
		name:   name,
		help:   help,
		labels: labels,
		values: make(map[string]*Counter),
	}
}

// With returns the counter for the label values, in label order.
func (cv *CounterVec) With(values ...string) *Counter {
	key := strings.Join(values, "\x00")

	cv.mu.RLock()
	c, ok := cv.values[key]
	cv.mu.RUnlock()
	if ok {
		return c
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()
	if c, ok := cv.values[key]; ok {
		return c
	}
	c = NewCounter(cv.name, cv.help)
	cv.values[key] = c
	return c
}

// Inc increments the counter for the label values.
func (cv *CounterVec) Inc(values ...string) {
	cv.With(values...).Inc()
}

// Value returns the count for the label values.
func (cv *CounterVec) Value(values ...string) int64 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	if c, ok := cv.values[strings.Join(values, "\x00")]; ok {
		return c.Value()
	}
	return 0
}

func (cv *CounterVec) write(w *countingWriter, ns string) {
	name := fqName(ns, cv.name)
	header(w, name, cv.help, "counter")

	cv.mu.RLock()
	keys := make([]string, 0, len(cv.values))
	for k := range cv.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.printf("%s{%s} %d\n", name, cv.labelPairs(strings.Split(k, "\x00")), cv.values[k].Value())
	}
	cv.mu.RUnlock()
}

func (cv *CounterVec) labelPairs(values []string) string {
	pairs := make([]string, 0, len(cv.labels))
	for i, l := range cv.labels {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		pairs = append(pairs, l+"="+strconv.Quote(v))
	}
	return strings.Join(pairs, ",")
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64

	mu     sync.Mutex
	counts []uint64
	sum    float64
	count  uint64
}

// NewHistogram creates a histogram with the given sorted upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	return &Histogram{name: name, help: help, buckets: b, counts: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := sort.SearchFloat64s(h.buckets, v); i < len(h.counts) {
		h.counts[i]++
	}
	h.sum += v
	h.count++
}

// ObserveSince records the time elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(w *countingWriter, ns string) {
	name := fqName(ns, h.name)
	header(w, name, h.help, "histogram")

	h.mu.Lock()
	defer h.mu.Unlock()
	var cum uint64
	for i, ub := range h.buckets {
		cum += h.counts[i]
		w.printf("%s_bucket{le=%q} %d\n", name, formatFloat(ub), cum)
	}
	w.printf("%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
	w.printf("%s_sum %s\n", name, formatFloat(h.sum))
	w.printf("%s_count %d\n", name, h.count)
}
