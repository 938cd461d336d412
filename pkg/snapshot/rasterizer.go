// Package snapshot captures the live preview as a bitmap. The preview is
// cloned into an off-screen container, the computed styles are re-applied to
// the clone as inline declarations, and the clone is handed to an Engine.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/style"
)

// Rasterization errors.
var (
	ErrPreviewUnavailable  = errors.New("preview element unavailable")
	ErrRasterizationFailed = errors.New("rasterization failed")
	ErrCaptureTooLarge     = errors.New("capture exceeds pixel limit")
)

// DefaultMaxPixels bounds one capture to 256 MiB of RGBA.
const DefaultMaxPixels = 64 << 20

// ContainerRole marks the detached containers created during capture.
const ContainerRole = "snapshot-container"

// offscreenLeft keeps the container rendered but outside the viewport.
const offscreenLeft = "-99999px"

// RenderOptions are passed to the engine for one capture.
type RenderOptions struct {
	// Scale is the export scale multiplied by the device pixel ratio.
	Scale      float64
	UseCORS    bool
	AllowTaint bool
	// BackgroundColor is nil so the node's own background shows through.
	BackgroundColor *color.RGBA
	// Width and Height pin the logical size to the measured preview.
	Width  float64
	Height float64
	// MaxPixels caps Width*Height*Scale². Engines fail with
	// ErrCaptureTooLarge above it. Zero means no cap.
	MaxPixels int
}

// Engine paints a node from its inline styles.
type Engine interface {
	Rasterize(ctx context.Context, node *dom.Element, opts RenderOptions) (*image.RGBA, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, node *dom.Element, opts RenderOptions) (*image.RGBA, error)

func (f EngineFunc) Rasterize(ctx context.Context, node *dom.Element, opts RenderOptions) (*image.RGBA, error) {
	return f(ctx, node, opts)
}

// Snapshot is the bitmap produced by one capture. It is never cached.
type Snapshot struct {
	Image *image.RGBA

	Width  int
	Height int

	LogicalWidth  float64
	LogicalHeight float64
	Scale         float64
}

// Rasterizer runs the clone-and-reapply capture.
type Rasterizer struct {
	doc    *dom.Document
	engine Engine
	dpr       func() float64
	maxPixels int
	logger    logging.Logger
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithDevicePixelRatio sets the source of the device pixel ratio.
func WithDevicePixelRatio(fn func() float64) Option {
	return func(r *Rasterizer) {
		r.dpr = fn
	}
}

// WithMaxPixels caps the bitmap size of one capture. Zero removes the cap.
func WithMaxPixels(n int) Option {
	return func(r *Rasterizer) {
		r.maxPixels = n
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Rasterizer) {
		r.logger = l
	}
}

// New creates a rasterizer appending its containers to doc.
func New(doc *dom.Document, engine Engine, opts ...Option) *Rasterizer {
	r := &Rasterizer{
		doc:    doc,
		engine: engine,
		dpr:       func() float64 { return 1 },
		maxPixels: DefaultMaxPixels,
		logger:    logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rasterize captures ref with the styles of o at scale times the device
// pixel ratio. The detached container is removed on every path. Nothing is
// retried.
func (r *Rasterizer) Rasterize(ctx context.Context, ref *dom.Element, o style.Options, scale float64) (_ *Snapshot, err error) {
	if ref == nil {
		return nil, ErrPreviewUnavailable
	}
	start := time.Now()

	var box dom.Box
	r.doc.View(func(*dom.Element) {
		box = ref.Box()
	})

	container := dom.NewElement("div")
	container.SetAttr("data-role", ContainerRole)
	container.SetAttr("aria-hidden", "true")
	cs := container.Style()
	cs.Set("position", "fixed")
	cs.Set("left", offscreenLeft)
	cs.Set("top", "0")
	cs.Set("width", preview.FormatPx(box.Width))
	cs.Set("height", preview.FormatPx(box.Height))
	cs.Set("pointer-events", "none")

	r.doc.Append(container)
	defer r.doc.RemoveChild(container)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: engine panic: %v", ErrRasterizationFailed, p)
		}
	}()

	var clone *dom.Element
	r.doc.Update(func(*dom.Element) {
		clone = ref.CloneDeep()
		container.AppendChild(clone)
	})

	if err := reapplyStyles(clone, o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRasterizationFailed, err)
	}

	effective := scale * r.dpr()
	img, err := r.engine.Rasterize(ctx, clone, RenderOptions{
		Scale:           effective,
		UseCORS:         true,
		AllowTaint:      true,
		BackgroundColor: nil,
		Width:           box.Width,
		Height:          box.Height,
		MaxPixels:       r.maxPixels,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRasterizationFailed, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: engine returned no bitmap", ErrRasterizationFailed)
	}

	b := img.Bounds()
	r.logger.Debug("preview rasterized",
		logging.Float64("scale", effective),
		logging.Int("width", b.Dx()),
		logging.Int("height", b.Dy()),
		logging.Duration("elapsed", time.Since(start)),
	)

	return &Snapshot{
		Image:         img,
		Width:         b.Dx(),
		Height:        b.Dy(),
		LogicalWidth:  box.Width,
		LogicalHeight: box.Height,
		Scale:         effective,
	}, nil
}

// reapplyStyles writes the styles the engine needs onto the clone, since
// the clone is not bound to the live renderer.
func reapplyStyles(clone *dom.Element, o style.Options) error {
	text := clone.FindByAttr("data-role", preview.TextRole)
	if text == nil {
		return errors.New("text element missing from preview")
	}

	ts := text.Style()
	preview.ApplyFontStyle(ts, o)
	preview.ResolveTextColorStyle(o).ApplyTo(ts)

	if o.Shadow.Enabled {
		ts.Set("text-shadow", preview.ResolveShadowStyle(o))
	} else {
		ts.Remove("text-shadow")
	}

	preview.ResolveBackgroundStyle(o).ApplyTo(clone.Style())
	return nil
}
