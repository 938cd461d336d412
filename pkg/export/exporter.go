// Package export turns preview snapshots into user-facing artifacts: PNG and
// SVG downloads, clipboard images and share-sheet files. Every failure is
// caught here and reported as exactly one notification.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/khattlab/khatt/pkg/analytics"
	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/snapshot"
	"github.com/khattlab/khatt/pkg/style"
)

// Scale factors per adapter.
const (
	PNGScale       = 4.0
	SVGScale       = 4.0
	ClipboardScale = 2.0
	ShareScale     = 2.0
)

// ShareTitle is the title of the share sheet.
const ShareTitle = "Arabic Calligraphy"

// Action names an export adapter.
type Action string

const (
	ActionPNG   Action = "png"
	ActionSVG   Action = "svg"
	ActionCopy  Action = "copy"
	ActionShare Action = "share"
)

// Rasterizer captures the preview. *snapshot.Rasterizer satisfies it.
type Rasterizer interface {
	Rasterize(ctx context.Context, ref *dom.Element, o style.Options, scale float64) (*snapshot.Snapshot, error)
}

// Preview exposes the live preview element. *preview.Renderer satisfies it.
type Preview interface {
	Element() *dom.Element
}

// Exporter runs the export adapters against one preview.
type Exporter struct {
	raster  Rasterizer
	preview Preview

	downloader Downloader
	clipboard  Clipboard
	sharer     Sharer
	notifier   Notifier
	sink       analytics.Sink
	logger     logging.Logger
	now        func() time.Time

	singleFlight bool
	inflight     map[Action]bool
	mu           sync.Mutex
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithDownloader(d Downloader) Option { return func(e *Exporter) { e.downloader = d } }
func WithClipboard(c Clipboard) Option   { return func(e *Exporter) { e.clipboard = c } }
func WithSharer(s Sharer) Option         { return func(e *Exporter) { e.sharer = s } }
func WithNotifier(n Notifier) Option     { return func(e *Exporter) { e.notifier = n } }
func WithSink(s analytics.Sink) Option   { return func(e *Exporter) { e.sink = s } }
func WithLogger(l logging.Logger) Option { return func(e *Exporter) { e.logger = l } }

// WithClock sets the time source used for file names.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// WithSingleFlight drops a repeated trigger of an action while the previous
// one is still running.
func WithSingleFlight(on bool) Option { return func(e *Exporter) { e.singleFlight = on } }

// New creates an exporter. Surfaces that are not configured report
// ErrSurfaceUnavailable when their action runs.
func New(r Rasterizer, p Preview, opts ...Option) *Exporter {
	e := &Exporter{
		raster:   r,
		preview:  p,
		notifier: NotifierFunc(func(Level, string) {}),
		sink:     analytics.Nop{},
		logger:   logging.NopLogger{},
		now:      time.Now,
		inflight: make(map[Action]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run dispatches action.
func (e *Exporter) Run(ctx context.Context, action Action, o style.Options) error {
	switch action {
	case ActionPNG:
		return e.ExportPNG(ctx, o)
	case ActionSVG:
		return e.ExportSVG(ctx, o)
	case ActionCopy:
		return e.CopyImage(ctx, o)
	case ActionShare:
		return e.Share(ctx, o)
	}
	return fmt.Errorf("unknown export action %q", action)
}

// ExportPNG downloads the preview as a PNG at scale 4.
func (e *Exporter) ExportPNG(ctx context.Context, o style.Options) error {
	return e.run(ctx, ActionPNG, analytics.EventExportPNG, func(ctx context.Context, props analytics.Props) (string, error) {
		if e.downloader == nil {
			return "", ErrSurfaceUnavailable
		}
		_, data, err := e.capture(ctx, o, PNGScale, props)
		if err != nil {
			return "", err
		}
		f := File{Name: FileName(e.now(), "png"), MIME: "image/png", Data: data}
		if err := e.downloader.Download(ctx, f); err != nil {
			return "", fmt.Errorf("download: %w", err)
		}
		return "Image downloaded.", nil
	})
}

// ExportSVG downloads the preview wrapped in an SVG document at scale 4.
func (e *Exporter) ExportSVG(ctx context.Context, o style.Options) error {
	return e.run(ctx, ActionSVG, analytics.EventExportSVG, func(ctx context.Context, props analytics.Props) (string, error) {
		if e.downloader == nil {
			return "", ErrSurfaceUnavailable
		}
		snap, data, err := e.capture(ctx, o, SVGScale, props)
		if err != nil {
			return "", err
		}
		f := File{
			Name: FileName(e.now(), "svg"),
			MIME: "image/svg+xml;charset=utf-8",
			Data: BuildSVG(snap, o, data),
			Blob: true,
		}
		if err := e.downloader.Download(ctx, f); err != nil {
			return "", fmt.Errorf("download: %w", err)
		}
		return "SVG downloaded.", nil
	})
}

// CopyImage writes the preview to the clipboard as a PNG at scale 2.
func (e *Exporter) CopyImage(ctx context.Context, o style.Options) error {
	return e.run(ctx, ActionCopy, analytics.EventCopyImage, func(ctx context.Context, props analytics.Props) (string, error) {
		if e.clipboard == nil {
			return "", ErrSurfaceUnavailable
		}
		_, data, err := e.capture(ctx, o, ClipboardScale, props)
		if err != nil {
			return "", err
		}
		if err := e.clipboard.WriteImage(ctx, "image/png", data); err != nil {
			return "", fmt.Errorf("%w: %w", ErrClipboardWriteFailed, err)
		}
		return "Image copied to clipboard.", nil
	})
}

// Share opens the share sheet with the preview as a PNG at scale 2. When the
// platform cannot attach files the text is shared alone and the user is
// warned. A dismissed sheet is not a failure.
func (e *Exporter) Share(ctx context.Context, o style.Options) error {
	return e.run(ctx, ActionShare, analytics.EventShare, func(ctx context.Context, props analytics.Props) (string, error) {
		if e.sharer == nil {
			return "", ErrSurfaceUnavailable
		}
		_, data, err := e.capture(ctx, o, ShareScale, props)
		if err != nil {
			return "", err
		}

		d := ShareData{
			Title: ShareTitle,
			Text:  o.Text,
			Files: []File{{Name: FileName(e.now(), "png"), MIME: "image/png", Data: data}},
		}
		withFiles := e.sharer.CanShare(ctx, d)
		if !withFiles {
			d.Files = nil
			props["fallback"] = "text"
		}
		if err := e.sharer.Share(ctx, d); err != nil {
			if IsCancelled(err) {
				return "", err
			}
			return "", fmt.Errorf("%w: %w", ErrShareFailed, err)
		}
		if !withFiles {
			e.notifier.Notify(LevelWarning, "The image could not be attached. Only the text was shared.")
		}
		return "", nil
	})
}

// capture rasterizes the preview and encodes it as PNG.
func (e *Exporter) capture(ctx context.Context, o style.Options, scale float64, props analytics.Props) (*snapshot.Snapshot, []byte, error) {
	var ref *dom.Element
	if e.preview != nil {
		ref = e.preview.Element()
	}
	snap, err := e.raster.Rasterize(ctx, ref, o, scale)
	if err != nil {
		return nil, nil, err
	}
	props["width"] = snap.Width
	props["height"] = snap.Height
	data, err := EncodePNG(snap.Image)
	if err != nil {
		return nil, nil, err
	}
	props["bytes"] = len(data)
	return snap, data, nil
}

type step func(ctx context.Context, props analytics.Props) (success string, err error)

func (e *Exporter) run(ctx context.Context, action Action, event string, fn step) error {
	if !e.acquire(action) {
		e.logger.Debug("export already running", logging.String("action", string(action)))
		return nil
	}
	defer e.release(action)

	start := time.Now()
	props := analytics.Props{"action": string(action)}
	msg, err := fn(ctx, props)
	props["duration_ms"] = time.Since(start).Milliseconds()

	switch {
	case err == nil:
		props["result"] = "success"
		e.sink.Record(event, props)
		if msg != "" {
			e.notifier.Notify(LevelSuccess, msg)
		}
		return nil

	case IsCancelled(err):
		props["result"] = "cancelled"
		e.sink.Record(event, props)
		e.logger.Debug("share cancelled", logging.String("action", string(action)))
		return nil
	}

	category, text := Classify(err)
	props["result"] = "error"
	props["category"] = string(category)
	e.sink.Record(event, props)
	e.logger.Warn("export failed",
		logging.String("action", string(action)),
		logging.String("category", string(category)),
		logging.Err(err),
	)
	e.notifier.Notify(LevelError, text)
	return err
}

func (e *Exporter) acquire(a Action) bool {
	if !e.singleFlight {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[a] {
		return false
	}
	e.inflight[a] = true
	return true
}

func (e *Exporter) release(a Action) {
	if !e.singleFlight {
		return
	}
	e.mu.Lock()
	delete(e.inflight, a)
	e.mu.Unlock()
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPNG, ActionSVG, ActionCopy, ActionShare:
		return a, nil
	}
	return "", errors.New("unknown export action: " + s)
}
