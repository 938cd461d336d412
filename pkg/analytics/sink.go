// Package analytics records product events such as exports. Handlers depend
// on the Sink interface and never on a concrete backend.
package analytics

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/khattlab/khatt/pkg/logging"
)

// Export event names.
const (
	EventExportPNG = "export_png"
	EventExportSVG = "export_svg"
	EventCopyImage = "copy_image"
	EventShare     = "share_image"
)

// EventUpload is recorded for each accepted background image.
const EventUpload = "background_upload"

// Props carries the properties of one event.
type Props map[string]any

// Sink records events. Record must not block the caller for long and must
// be safe for concurrent use.
type Sink interface {
	Record(event string, props Props)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event string, props Props)

func (f SinkFunc) Record(event string, props Props) { f(event, props) }

// Event is a recorded event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"event"`
	Props     Props     `json:"props,omitempty"`
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(string, Props) {}

// Recorder keeps events in memory.
type Recorder struct {
	events []Event
	mu     sync.Mutex
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends the event.
func (r *Recorder) Record(event string, props Props) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Timestamp: time.Now(), Name: event, Props: props})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// LogSink writes events to a structured logger at info level.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a sink logging through l.
func NewLogSink(l logging.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Record(event string, props Props) {
	fields := make([]logging.Field, 0, len(props)+1)
	fields = append(fields, logging.String("event", event))
	for k, v := range props {
		fields = append(fields, logging.Any(k, v))
	}
	s.logger.Info("analytics", fields...)
}

// JSONSink writes one JSON object per event.
type JSONSink struct {
	encoder *json.Encoder
	logger  logging.Logger
	mu      sync.Mutex
}

// NewJSONSink creates a sink encoding to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{encoder: json.NewEncoder(w), logger: logging.NopLogger{}}
}

func (s *JSONSink) Record(event string, props Props) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(Event{Timestamp: time.Now(), Name: event, Props: props}); err != nil {
		s.logger.Warn("analytics: encode failed", logging.Err(err))
	}
}

// Multi fans events out to several sinks.
type Multi []Sink

func (m Multi) Record(event string, props Props) {
	for _, s := range m {
		s.Record(event, props)
	}
}

// Async wraps a sink with a buffered queue drained by one goroutine. Events
// are dropped when the buffer is full.
type Async struct {
	sink    Sink
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  logging.Logger
	dropped int64
	mu      sync.Mutex
}

// NewAsync starts the queue worker.
func NewAsync(sink Sink, bufferSize int, logger logging.Logger) *Async {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	a := &Async{
		sink:   sink,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

func (a *Async) worker() {
	defer a.wg.Done()
	for {
		select {
		case e := <-a.events:
			a.sink.Record(e.Name, e.Props)
		case <-a.done:
			for {
				select {
				case e := <-a.events:
					a.sink.Record(e.Name, e.Props)
				default:
					return
				}
			}
		}
	}
}

// Record queues the event.
func (a *Async) Record(event string, props Props) {
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.events <- Event{Timestamp: time.Now(), Name: event, Props: props}:
	default:
		a.mu.Lock()
		a.dropped++
		n := a.dropped
		a.mu.Unlock()
		a.logger.Warn("analytics queue full, event dropped",
			logging.String("event", event),
			logging.Int64("dropped", n),
		)
	}
}

// Close stops the worker after draining queued events.
func (a *Async) Close() error {
	a.once.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
	if c, ok := a.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
