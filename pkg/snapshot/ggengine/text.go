package ggengine

import (
	"strings"

	"github.com/go-text/typesetting/language"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/text/unicode/norm"
)

// italicSkew is the shear applied when the font has no italic face.
const italicSkew = 0.2

type placedGlyph struct {
	gid  text.GlyphID
	x, y float64
}

type shapedLine struct {
	glyphs []placedGlyph
	width  float64
}

// textBlock is the shaped content of the text element at device scale.
type textBlock struct {
	src     *text.FontSource
	size    float64
	lines   []shapedLine
	ascent  float64
	descent float64
	italic  bool
	bold    bool
}

// lineDirection picks RTL when the first strong character belongs to a
// right-to-left script.
func lineDirection(s string) text.Direction {
	for _, r := range s {
		switch language.LookupScript(r) {
		case language.Arabic, language.Hebrew, language.Syriac:
			return text.DirectionRTL
		case language.Common, language.Inherited:
			continue
		default:
			return text.DirectionLTR
		}
	}
	return text.DirectionLTR
}

// shapeText shapes every line of content. Letter spacing is added after
// each glyph, as CSS does.
func shapeText(shaper text.Shaper, src *text.FontSource, content string, size, spacing float64) []shapedLine {
	raw := strings.Split(norm.NFC.String(content), "\n")
	lines := make([]shapedLine, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimRight(s, "\r")
		if s == "" {
			lines = append(lines, shapedLine{})
			continue
		}
		face := src.Face(size, text.WithDirection(lineDirection(s)))
		shaped := shaper.Shape(s, face)

		line := shapedLine{glyphs: make([]placedGlyph, 0, len(shaped))}
		for i, g := range shaped {
			line.glyphs = append(line.glyphs, placedGlyph{
				gid: g.GID,
				x:   g.X + float64(i)*spacing,
				y:   g.Y,
			})
			line.width += g.XAdvance + spacing
		}
		lines = append(lines, line)
	}
	return lines
}

// origin is where a line's pen starts.
type origin struct {
	x, baseline float64
}

// layout positions each line inside the content box.
func (b *textBlock) layout(left, top, width, lineBox float64, align string) []origin {
	out := make([]origin, len(b.lines))
	for i, l := range b.lines {
		x := left
		switch align {
		case "center":
			x = left + (width-l.width)/2
		case "right", "end":
			x = left + width - l.width
		}
		lead := (lineBox - (b.ascent + b.descent)) / 2
		out[i] = origin{
			x:        x,
			baseline: top + float64(i)*lineBox + lead + b.ascent,
		}
	}
	return out
}

// trace adds the outlines of every glyph to the current path of dc,
// shifted by (dx, dy).
func (b *textBlock) trace(dc *gg.Context, outlines *outlineCache, origins []origin, dx, dy float64) {
	skew := 0.0
	if b.italic {
		skew = italicSkew
	}
	for li, line := range b.lines {
		o := origins[li]
		for _, g := range line.glyphs {
			ol := outlines.get(b.src, g.gid, b.size)
			if ol == nil || ol.IsEmpty() {
				continue
			}
			gx := o.x + g.x + dx
			gy := o.baseline - g.y + dy
			pt := func(p text.OutlinePoint) (float64, float64) {
				px, py := float64(p.X), float64(p.Y)
				return gx + px - skew*py, gy + py
			}
			open := false
			for _, seg := range ol.Segments {
				switch seg.Op {
				case text.OutlineOpMoveTo:
					if open {
						dc.ClosePath()
					}
					dc.MoveTo(pt(seg.Points[0]))
					open = true
				case text.OutlineOpLineTo:
					dc.LineTo(pt(seg.Points[0]))
				case text.OutlineOpQuadTo:
					cx, cy := pt(seg.Points[0])
					x, y := pt(seg.Points[1])
					dc.QuadraticTo(cx, cy, x, y)
				case text.OutlineOpCubicTo:
					c1x, c1y := pt(seg.Points[0])
					c2x, c2y := pt(seg.Points[1])
					x, y := pt(seg.Points[2])
					dc.CubicTo(c1x, c1y, c2x, c2y, x, y)
				}
			}
			if open {
				dc.ClosePath()
			}
		}
	}
}

// paint fills the traced glyphs, widening them with a stroke for bold
// weights the font does not provide.
func (b *textBlock) paint(dc *gg.Context, outlines *outlineCache, origins []origin, dx, dy float64) error {
	b.trace(dc, outlines, origins, dx, dy)
	if !b.bold {
		return dc.Fill()
	}
	if err := dc.FillPreserve(); err != nil {
		return err
	}
	dc.SetLineWidth(b.size * 0.035)
	return dc.Stroke()
}

// outlineCache memoizes glyph outlines for one capture. The extractor is
// not safe for concurrent use, so each capture owns its cache.
type outlineCache struct {
	ex    *text.OutlineExtractor
	cache map[text.GlyphID]*text.GlyphOutline
}

func newOutlineCache() *outlineCache {
	return &outlineCache{
		ex:    text.NewOutlineExtractor(),
		cache: make(map[text.GlyphID]*text.GlyphOutline),
	}
}

func (c *outlineCache) get(src *text.FontSource, gid text.GlyphID, size float64) *text.GlyphOutline {
	if ol, ok := c.cache[gid]; ok {
		return ol
	}
	ol, err := c.ex.ExtractOutline(src.Parsed(), gid, size)
	if err != nil {
		ol = nil
	}
	c.cache[gid] = ol
	return ol
}
