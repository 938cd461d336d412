// Package generator is the calligraphy live component. It owns one style
// model and preview per connection, maps page events onto the model's
// setters and runs exports against the socket-backed surfaces.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/khattlab/khatt/pkg/analytics"
	"github.com/khattlab/khatt/pkg/core"
	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/export"
	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/snapshot"
	"github.com/khattlab/khatt/pkg/snapshot/ggengine"
	"github.com/khattlab/khatt/pkg/style"
)

// Errors returned to the page.
var (
	ErrNotMounted   = errors.New("generator not mounted")
	ErrUnknownEvent = errors.New("unknown event")
	ErrUnknownFont  = errors.New("unknown font")
)

// Deps are shared by every generator instance.
type Deps struct {
	Fonts  *fonts.Loader
	Engine snapshot.Engine // defaults to ggengine over Fonts
	Sink   analytics.Sink
	Logger logging.Logger

	SingleFlight     bool
	DevicePixelRatio float64
	MaxPixels        int // zero keeps snapshot.DefaultMaxPixels
	ExportTimeout    time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.NopLogger{}
	}
	if d.Sink == nil {
		d.Sink = analytics.Nop{}
	}
	if d.Engine == nil && d.Fonts != nil {
		d.Engine = ggengine.New(d.Fonts, ggengine.WithLogger(d.Logger))
	}
	if d.DevicePixelRatio <= 0 {
		d.DevicePixelRatio = 1
	}
	if d.ExportTimeout <= 0 {
		d.ExportTimeout = core.DefaultTimeoutConfig().Request
	}
	return d
}

// NewFactory returns the route factory for the generator.
func NewFactory(d Deps) func() core.Component {
	d = d.withDefaults()
	return func() core.Component { return New(d) }
}

// Generator implements core.Component.
type Generator struct {
	core.BaseComponent

	deps Deps

	model    *style.Model
	preview  *preview.Renderer
	exporter *export.Exporter

	unsubscribe func()
	dpr         float64
	renderMu    sync.Mutex

	// ctx scopes background work (font loads, exports) to the connection.
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	mu sync.Mutex
}

// New creates an unmounted generator.
func New(d Deps) *Generator {
	return &Generator{deps: d.withDefaults()}
}

func (g *Generator) Name() string { return "generator" }

// Model returns the style model, nil before Mount.
func (g *Generator) Model() *style.Model {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.model
}

// Mount seeds the model from the page query ("font", "text") and the join
// payload ("viewport_width", "dpr").
func (g *Generator) Mount(ctx context.Context, params core.Params, session core.Session) error {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	opts := style.SeedFromQuery(q, g.resolver())
	if g.deps.Fonts != nil {
		opts.Font.State = g.deps.Fonts.State(opts.Font.Family)
	}

	doc := dom.NewDocument()
	pv := preview.NewRenderer(doc)
	if w, err := strconv.ParseFloat(params.Get("viewport_width"), 64); err == nil {
		pv.SetViewportWidth(w)
	}

	g.mu.Lock()
	g.dpr = g.deps.DevicePixelRatio
	if v, err := strconv.ParseFloat(params.Get("dpr"), 64); err == nil && v > 0 {
		g.dpr = v
	}
	g.model = style.NewModelWith(opts)
	g.preview = pv
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.mu.Unlock()

	model := g.model
	g.renderPreview(model, pv)
	g.unsubscribe = model.Subscribe(func(style.Change) {
		g.renderPreview(model, pv)
	})

	rasterOpts := []snapshot.Option{
		snapshot.WithDevicePixelRatio(g.devicePixelRatio),
		snapshot.WithLogger(g.deps.Logger),
	}
	if g.deps.MaxPixels > 0 {
		rasterOpts = append(rasterOpts, snapshot.WithMaxPixels(g.deps.MaxPixels))
	}
	raster := snapshot.New(doc, g.deps.Engine, rasterOpts...)
	exportOpts := []export.Option{
		export.WithSink(g.deps.Sink),
		export.WithLogger(g.deps.Logger),
		export.WithSingleFlight(g.deps.SingleFlight),
	}
	if socket := g.Socket(); socket != nil {
		s := socketSurfaces{socket: socket, logger: g.deps.Logger}
		exportOpts = append(exportOpts,
			export.WithDownloader(s),
			export.WithClipboard(s),
			export.WithSharer(s),
			export.WithNotifier(s),
		)
		g.loadFont(opts.Font)
	}
	g.exporter = export.New(raster, pv, exportOpts...)

	return nil
}

func (g *Generator) Render(ctx context.Context) core.Renderer {
	g.mu.Lock()
	model, pv := g.model, g.preview
	g.mu.Unlock()
	if model == nil {
		return nil
	}
	return core.RendererFunc(func(ctx context.Context, w io.Writer) error {
		return renderView(w, pv, model.Snapshot())
	})
}

// HandleEvent handles page events:
//
//	set       {field, value}
//	reset     {}
//	template  {text, font, color, background}
//	resize    {viewport_width, dpr}
//	export    {action: png|svg|copy|share}
func (g *Generator) HandleEvent(ctx context.Context, event string, payload map[string]any) error {
	model := g.Model()
	if model == nil {
		return ErrNotMounted
	}

	switch event {
	case "set":
		field, _ := payload["field"].(string)
		return g.set(model, field, payload["value"])

	case "reset":
		model.Reset()
		g.loadFont(model.Snapshot().Font)
		return nil

	case "template":
		before := model.Snapshot().Font.ID
		model.ApplyTemplate(style.Template{
			Text:       stringValue(payload["text"]),
			Font:       stringValue(payload["font"]),
			Color:      stringValue(payload["color"]),
			Background: stringValue(payload["background"]),
		}, g.resolver())
		if font := model.Snapshot().Font; font.ID != before {
			g.loadFont(font)
		}
		return nil

	case "resize":
		if v, err := toFloat(payload["dpr"]); err == nil && v > 0 {
			g.mu.Lock()
			g.dpr = v
			g.mu.Unlock()
		}
		if w, err := toFloat(payload["viewport_width"]); err == nil {
			g.preview.SetViewportWidth(w)
			g.renderPreview(model, g.preview)
		}
		return nil

	case "export":
		action, err := export.ParseAction(stringValue(payload["action"]))
		if err != nil {
			return err
		}
		g.runExport(action, model.Snapshot())
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
}

func (g *Generator) set(model *style.Model, field string, value any) error {
	if field == "font" {
		return g.selectFont(model, stringValue(value))
	}
	return ApplyField(model, field, value)
}

func (g *Generator) selectFont(model *style.Model, id string) error {
	reg := g.resolver()
	if reg == nil {
		return ErrUnknownFont
	}
	ref, ok := reg.Resolve(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFont, id)
	}
	ref.State = g.deps.Fonts.State(ref.Family)
	model.SetFont(ref)
	g.loadFont(ref)
	return nil
}

// loadFont starts a non-blocking load and refreshes the page when the
// state of the selected font changes.
func (g *Generator) loadFont(ref style.FontRef) {
	if g.deps.Fonts == nil || g.deps.Fonts.State(ref.Family).Settled() {
		return
	}
	g.mu.Lock()
	ctx, model := g.ctx, g.model
	g.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	model.SetFontState(ref.ID, style.FontLoading)

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		if err := g.deps.Fonts.LoadFont(ctx, ref.Family); err != nil {
			g.deps.Logger.Warn("font load failed", logging.String("font", ref.ID), logging.Err(err))
		}
		model.SetFontState(ref.ID, g.deps.Fonts.State(ref.Family))
		if socket := g.Socket(); socket != nil {
			if err := socket.Refresh(); err != nil && !errors.Is(err, core.ErrSocketClosed) {
				g.deps.Logger.Debug("refresh after font load failed", logging.Err(err))
			}
		}
	}()
}

// runExport runs one export off the event loop so the page can answer the
// clipboard and share requests the export makes. The options are the ones
// current when the user clicked.
func (g *Generator) runExport(action export.Action, o style.Options) {
	g.mu.Lock()
	parent := g.ctx
	g.mu.Unlock()

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		ctx, cancel := context.WithTimeout(parent, g.deps.ExportTimeout)
		defer cancel()
		// The exporter notifies the user; the error is only logged here.
		if err := g.exporter.Run(ctx, action, o); err != nil {
			g.deps.Logger.Debug("export finished with error",
				logging.String("action", string(action)),
				logging.Err(err),
			)
		}
	}()
}

// renderPreview renders the model's current options. Change notifications
// from concurrent mutations can arrive out of order, so their payload is
// not rendered.
func (g *Generator) renderPreview(model *style.Model, pv *preview.Renderer) {
	g.renderMu.Lock()
	defer g.renderMu.Unlock()
	pv.Render(model.Snapshot())
}

// Terminate stops background work and detaches the preview.
func (g *Generator) Terminate(ctx context.Context, reason core.TerminateReason) error {
	g.mu.Lock()
	cancel, pv := g.cancel, g.preview
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g.unsubscribe != nil {
		g.unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.deps.Logger.Warn("generator terminated with work pending", logging.String("reason", reason.String()))
	}

	if pv != nil {
		pv.Detach()
	}
	return nil
}

func (g *Generator) devicePixelRatio() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dpr
}

// resolver returns the font registry, or a nil interface without fonts.
func (g *Generator) resolver() style.FontResolver {
	if g.deps.Fonts == nil {
		return nil
	}
	return g.deps.Fonts.Registry()
}

func stringValue(v any) string {
	s, _ := toString(v)
	return s
}
