// Package ggengine paints a preview node into a bitmap using gg for path
// coverage and go-text for Arabic shaping. Only the inline declarations the
// snapshot rasterizer writes onto the clone are read.
package ggengine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"

	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/snapshot"
)

// FaceSource resolves a CSS font-family to a parsed font.
// *fonts.Loader satisfies it.
type FaceSource interface {
	Source(family string) *text.FontSource
}

// Engine implements snapshot.Engine.
type Engine struct {
	fonts  FaceSource
	shaper text.Shaper
	logger logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithShaper replaces the go-text shaper.
func WithShaper(s text.Shaper) Option {
	return func(e *Engine) {
		e.shaper = s
	}
}

// New creates an engine that looks fonts up in fonts.
func New(fonts FaceSource, opts ...Option) *Engine {
	e := &Engine{
		fonts:  fonts,
		shaper: text.NewGoTextShaper(),
		logger: logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ snapshot.Engine = (*Engine)(nil)

// boxGeometry is the container box at device scale.
type boxGeometry struct {
	w, h    int
	radius  float64
	border  border
	hasEdge bool
	padding float64
	align   string
}

// Rasterize paints node, the cloned preview container, at opts.Scale.
func (e *Engine) Rasterize(ctx context.Context, node *dom.Element, opts snapshot.RenderOptions) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if node == nil {
		return nil, errors.New("nil node")
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	fw, fh := opts.Width*scale, opts.Height*scale
	if opts.MaxPixels > 0 && fw*fh > float64(opts.MaxPixels) {
		return nil, fmt.Errorf("%w: %.0fx%.0f over %d", snapshot.ErrCaptureTooLarge, fw, fh, opts.MaxPixels)
	}
	w := int(math.Round(fw))
	h := int(math.Round(fh))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty capture size %dx%d", w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if opts.BackgroundColor != nil {
		fill(dst, *opts.BackgroundColor)
	}

	cs := node.Style()
	geo := boxGeometry{
		w:       w,
		h:       h,
		radius:  parsePx(cs.Get("border-radius"), 0) * scale,
		padding: parsePx(cs.Get("padding"), 0) * scale,
		align:   strings.TrimSpace(cs.Get("text-align")),
	}
	if b, ok := parseBorder(cs.Get("border")); ok {
		b.width *= scale
		geo.border, geo.hasEdge = b, true
	}

	box, err := coverage(w, h, func(dc *gg.Context) error {
		dc.DrawRoundedRectangle(0, 0, float64(w), float64(h), geo.radius)
		return dc.Fill()
	})
	if err != nil {
		return nil, fmt.Errorf("box: %w", err)
	}

	if err := e.paintBackground(dst, box, cs, scale); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t := node.FindByAttr("data-role", preview.TextRole); t != nil {
		if err := e.paintText(dst, t, geo, scale); err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}
	}

	if geo.hasEdge {
		if err := paintBorder(dst, geo); err != nil {
			return nil, fmt.Errorf("border: %w", err)
		}
	}
	return dst, ctx.Err()
}

func fill(dst *image.RGBA, c color.RGBA) {
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i+0] = c.R
		dst.Pix[i+1] = c.G
		dst.Pix[i+2] = c.B
		dst.Pix[i+3] = c.A
	}
}

func (e *Engine) paintBackground(dst *image.RGBA, box *image.Alpha, cs *dom.Style, scale float64) error {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	if c, ok := parseColor(cs.Get("background-color")); ok && c.A > 0 {
		composite(dst, image.NewUniform(c), box)
	}

	raw := cs.Get("background-image")
	if raw == "" || raw == "none" {
		return nil
	}
	u, ok := preview.ParseCSSURL(raw)
	if !ok {
		return nil
	}
	img, err := decodeDataURL(u)
	if errors.Is(err, ErrUnsupportedImage) {
		e.logger.Warn("background image skipped", logging.String("reason", err.Error()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("background: %w", err)
	}

	size := cs.Get("background-size")
	if tw, th, ok := parseTileSize(size); ok && cs.Get("background-repeat") != "no-repeat" {
		tx := max(1, int(math.Round(tw*scale)))
		ty := max(1, int(math.Round(th*scale)))
		composite(dst, tiled(img, tx, ty, w, h), box)
		return nil
	}
	composite(dst, cover(img, w, h), box)
	return nil
}

func paintBorder(dst *image.RGBA, geo boxGeometry) error {
	bw := geo.border.width
	ring, err := coverage(geo.w, geo.h, func(dc *gg.Context) error {
		dc.SetLineWidth(bw)
		r := math.Max(0, geo.radius-bw/2)
		dc.DrawRoundedRectangle(bw/2, bw/2, float64(geo.w)-bw, float64(geo.h)-bw, r)
		return dc.Stroke()
	})
	if err != nil {
		return err
	}
	composite(dst, image.NewUniform(geo.border.color), ring)
	return nil
}

func (e *Engine) paintText(dst *image.RGBA, el *dom.Element, geo boxGeometry, scale float64) error {
	content := el.Text()
	if strings.TrimSpace(content) == "" {
		return nil
	}
	ts := el.Style()

	src := e.fonts.Source(ts.Get("font-family"))
	if src == nil {
		return errors.New("no font available")
	}
	size := parsePx(ts.Get("font-size"), 16) * scale
	weight, _ := strconv.Atoi(strings.TrimSpace(ts.Get("font-weight")))
	block := &textBlock{
		src:    src,
		size:   size,
		lines:  shapeText(e.shaper, src, content, size, parsePx(ts.Get("letter-spacing"), 0)*scale),
		italic: ts.Get("font-style") == "italic",
		bold:   weight >= 600,
	}
	m := src.Face(size).Metrics()
	block.ascent, block.descent = m.Ascent, m.Descent

	inset := geo.padding
	if geo.hasEdge {
		inset += geo.border.width
	}
	left, top := inset, inset
	width := float64(geo.w) - 2*inset
	lineBox := size * parseNumber(ts.Get("line-height"), 1.2)
	origins := block.layout(left, top, width, lineBox, geo.align)

	outlines := newOutlineCache()
	glyphs, err := coverage(geo.w, geo.h, func(dc *gg.Context) error {
		return block.paint(dc, outlines, origins, 0, 0)
	})
	if err != nil {
		return err
	}

	if sh, ok := parseTextShadow(ts.Get("text-shadow")); ok && sh.color.A > 0 {
		mask, err := coverage(geo.w, geo.h, func(dc *gg.Context) error {
			return block.paint(dc, outlines, origins, sh.dx*scale, sh.dy*scale)
		})
		if err != nil {
			return err
		}
		layer := blurred(tinted(mask, sh.color), sh.blur*scale)
		composite(dst, layer, nil)
	}

	var ink image.Image
	if ts.Get("-webkit-text-fill-color") == "transparent" {
		if brush, ok := parseLinearGradient(ts.Get("background"), left, left+width); ok {
			ink = horizontalInk(brush, geo.w, geo.h)
		}
	}
	if ink == nil {
		c, ok := parseColor(ts.Get("color"))
		if !ok {
			c = color.NRGBA{A: 255}
		}
		ink = image.NewUniform(c)
	}
	composite(dst, ink, glyphs)
	return nil
}
