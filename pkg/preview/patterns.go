package preview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"sync"

	"github.com/gogpu/gg"
)

// Pattern is a built-in tiling background.
type Pattern struct {
	ID    string
	Label string
	Size  int

	paint func(dc *gg.Context, size float64)

	once    sync.Once
	tile    *image.NRGBA
	dataURL string
	err     error
}

// encodeTile is swapped in tests.
var encodeTile = png.Encode

// patternInk is the colour every pattern is drawn in.
var patternInk = color.NRGBA{R: 0x8B, G: 0x5A, B: 0x2B, A: 46}

// Tile returns the rendered tile.
func (p *Pattern) Tile() *image.NRGBA {
	p.render()
	return p.tile
}

// DataURL returns the tile as a PNG data URL, or "" when the tile could
// not be encoded.
func (p *Pattern) DataURL() string {
	p.render()
	return p.dataURL
}

// Err reports why the tile has no data URL.
func (p *Pattern) Err() error {
	p.render()
	return p.err
}

func (p *Pattern) render() {
	p.once.Do(func() {
		dc := gg.NewContext(p.Size, p.Size)
		defer dc.Close()
		dc.SetRGB(1, 1, 1)
		dc.SetLineWidth(1)
		p.paint(dc, float64(p.Size))

		p.tile = tint(dc.Image(), patternInk)
		var buf bytes.Buffer
		if err := encodeTile(&buf, p.tile); err != nil {
			p.err = fmt.Errorf("pattern %s: %w", p.ID, err)
			return
		}
		p.dataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	})
}

var patterns = map[string]*Pattern{
	"dots": {
		ID: "dots", Label: "Dots", Size: 20,
		paint: func(dc *gg.Context, s float64) {
			dc.DrawCircle(s/2, s/2, s/10)
			_ = dc.Fill()
		},
	},
	"grid": {
		ID: "grid", Label: "Grid", Size: 24,
		paint: func(dc *gg.Context, s float64) {
			dc.DrawLine(0, 0.5, s, 0.5)
			dc.DrawLine(0.5, 0, 0.5, s)
			_ = dc.Stroke()
		},
	},
	"diagonal": {
		ID: "diagonal", Label: "Diagonal lines", Size: 16,
		paint: func(dc *gg.Context, s float64) {
			dc.DrawLine(0, s, s, 0)
			dc.DrawLine(-s/2, s/2, s/2, -s/2)
			dc.DrawLine(s/2, s+s/2, s+s/2, s/2)
			_ = dc.Stroke()
		},
	},
	"stars": {
		ID: "stars", Label: "Eight-point stars", Size: 40,
		paint: func(dc *gg.Context, s float64) {
			drawStar(dc, s/2, s/2, s*0.3, s*0.14, 8)
			_ = dc.Fill()
		},
	},
	"arabesque": {
		ID: "arabesque", Label: "Arabesque", Size: 48,
		paint: func(dc *gg.Context, s float64) {
			r := s / 2
			for _, c := range [][2]float64{{0, 0}, {s, 0}, {0, s}, {s, s}} {
				dc.DrawCircle(c[0], c[1], r)
			}
			dc.DrawCircle(s/2, s/2, r*0.5)
			_ = dc.Stroke()
			drawStar(dc, s/2, s/2, r*0.35, r*0.18, 8)
			_ = dc.Fill()
		},
	},
}

// LookupPattern returns the built-in pattern with the given id.
func LookupPattern(id string) (*Pattern, bool) {
	p, ok := patterns[id]
	return p, ok
}

// Patterns lists the built-in patterns sorted by id.
func Patterns() []*Pattern {
	out := make([]*Pattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func drawStar(dc *gg.Context, cx, cy, outer, inner float64, points int) {
	step := math.Pi / float64(points)
	for i := 0; i < points*2; i++ {
		r := outer
		if i%2 == 1 {
			r = inner
		}
		a := float64(i)*step - math.Pi/2
		x, y := cx+r*math.Cos(a), cy+r*math.Sin(a)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.ClosePath()
}

// tint colours the coverage of shape with ink, scaling ink's alpha.
func tint(shape image.Image, ink color.NRGBA) *image.NRGBA {
	b := shape.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			_, _, _, a := shape.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if a == 0 {
				continue
			}
			i := out.PixOffset(x, y)
			out.Pix[i+0] = ink.R
			out.Pix[i+1] = ink.G
			out.Pix[i+2] = ink.B
			out.Pix[i+3] = uint8(uint32(ink.A) * (a >> 8) / 255)
		}
	}
	return out
}
