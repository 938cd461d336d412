package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khattlab/khatt/internal/generator"
	"github.com/khattlab/khatt/pkg/analytics"
	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/export"
	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/snapshot"
	"github.com/khattlab/khatt/pkg/snapshot/ggengine"
	"github.com/khattlab/khatt/pkg/style"
)

// ErrInvalidSet is returned for a --set value without "=".
var ErrInvalidSet = errors.New("--set expects field=value")

// renderOptions are the flags of the render command.
type renderOptions struct {
	text     string
	font     string
	formats  string
	outDir   string
	width    float64
	dpr      float64
	settings []string
}

func (c *CLI) renderCommand() *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a design to PNG or SVG",
		Long: `Render a design with the same rasterizer the editor uses for downloads.

Style fields use the editor's names, for example:

  khatt render --text "الخط العربي" --font reem-kufi \
    --set text_color=#8B5A2B --set shadow_enabled=true --format png,svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.render(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "text to render (default: the editor's default text)")
	cmd.Flags().StringVarP(&opts.font, "font", "f", "", "font id (see 'khatt fonts')")
	cmd.Flags().StringVar(&opts.formats, "format", "png", "comma-separated output formats: png, svg")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (default: render.output_dir)")
	cmd.Flags().Float64Var(&opts.width, "width", 800, "preview width in CSS pixels")
	cmd.Flags().Float64Var(&opts.dpr, "dpr", 0, "device pixel ratio (default: render.device_pixel_ratio)")
	cmd.Flags().StringArrayVarP(&opts.settings, "set", "s", nil, "style field as field=value, repeatable")

	return cmd
}

func (c *CLI) render(ctx context.Context, opts renderOptions) error {
	actions, err := parseFormats(opts.formats)
	if err != nil {
		return err
	}
	if opts.outDir == "" {
		opts.outDir = c.Config.Render.OutputDir
	}
	dpr := opts.dpr
	if dpr <= 0 {
		dpr = c.Config.Render.DevicePixelRatio
	}

	// "font" goes through the registry, not the field table.
	var fields [][2]string
	for _, s := range opts.settings {
		field, value, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidSet, s)
		}
		field = strings.TrimSpace(field)
		if field == "font" {
			opts.font = strings.TrimSpace(value)
			continue
		}
		fields = append(fields, [2]string{field, value})
	}

	reg := c.Config.FontRegistry()
	if opts.font != "" {
		if _, ok := reg.Lookup(opts.font); !ok {
			return fmt.Errorf("%w: %q", generator.ErrUnknownFont, opts.font)
		}
	}

	q := url.Values{}
	q.Set("font", opts.font)
	q.Set("text", opts.text)
	model := style.NewModelWith(style.SeedFromQuery(q, reg))
	for _, f := range fields {
		if err := generator.ApplyField(model, f[0], f[1]); err != nil {
			return err
		}
	}

	loader := fonts.NewLoader(reg, c.Config.Fonts.Dir, c.Logger)
	family := model.Snapshot().Font.Family
	if err := loader.LoadFont(ctx, family); err != nil {
		return err
	}
	model.SetFontState(model.Snapshot().Font.ID, loader.State(family))
	if loader.State(family) == style.FontFallback {
		c.printWarning("font file for %q not found in %s, using the fallback face", model.Snapshot().Font.ID, c.Config.Fonts.Dir)
	}

	doc := dom.NewDocument()
	pv := preview.NewRenderer(doc)
	pv.SetViewportWidth(opts.width)
	pv.Render(model.Snapshot())
	defer pv.Detach()

	raster := snapshot.New(doc, ggengine.New(loader, ggengine.WithLogger(c.Logger)),
		snapshot.WithDevicePixelRatio(func() float64 { return dpr }),
		snapshot.WithMaxPixels(c.Config.Render.MaxPixels),
		snapshot.WithLogger(c.Logger),
	)
	out := &export.DirDownloader{Dir: opts.outDir}
	exporter := export.New(raster, pv,
		export.WithDownloader(out),
		export.WithNotifier(c.notifier()),
		export.WithSink(analytics.NewLogSink(c.Logger)),
		export.WithLogger(c.Logger),
	)

	for _, a := range actions {
		if err := exporter.Run(ctx, a, model.Snapshot()); err != nil {
			return err
		}
	}
	for _, p := range out.Paths() {
		c.printFile(p)
	}
	return nil
}

// notifier prints exporter notifications.
func (c *CLI) notifier() export.Notifier {
	return export.NotifierFunc(func(level export.Level, message string) {
		switch level {
		case export.LevelSuccess:
			c.printSuccess("%s", message)
		case export.LevelWarning:
			c.printWarning("%s", message)
		case export.LevelError:
			c.printError("%s", message)
		default:
			c.printInfo("%s", message)
		}
	})
}

// parseFormats maps a comma-separated format list onto download actions.
func parseFormats(s string) ([]export.Action, error) {
	var actions []export.Action
	seen := make(map[export.Action]bool)
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		a, err := export.ParseAction(f)
		if err != nil || (a != export.ActionPNG && a != export.ActionSVG) {
			return nil, fmt.Errorf("unsupported format %q (want png or svg)", f)
		}
		if !seen[a] {
			seen[a] = true
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return nil, errors.New("no output format given")
	}
	return actions, nil
}
