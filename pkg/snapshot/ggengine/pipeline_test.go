package ggengine_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/export"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/snapshot"
	"github.com/khattlab/khatt/pkg/snapshot/ggengine"
	"github.com/khattlab/khatt/pkg/style"
)

type goRegular struct {
	src *text.FontSource
}

func (f goRegular) Source(string) *text.FontSource { return f.src }

type captured struct {
	files []export.File
}

func (c *captured) Download(_ context.Context, f export.File) error {
	c.files = append(c.files, f)
	return nil
}

// pipeline renders o into a fresh document and wires the real engine
// behind the rasterizer and exporter.
func pipeline(t *testing.T, o style.Options, width float64, opts ...snapshot.Option) (*export.Exporter, *captured, *dom.Document) {
	t.Helper()
	src, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		t.Fatalf("NewFontSource() error = %v", err)
	}
	doc := dom.NewDocument()
	pv := preview.NewRenderer(doc)
	pv.SetViewportWidth(width)
	pv.Render(o)

	raster := snapshot.New(doc, ggengine.New(goRegular{src: src}), opts...)
	out := &captured{}
	return export.New(raster, pv, export.WithDownloader(out)), out, doc
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	return img
}

func rgba(c color.Color) color.RGBA {
	return color.RGBAModel.Convert(c).(color.RGBA)
}

func TestPipeline_PNGExport(t *testing.T) {
	o := style.Defaults()
	o.Text = "Khatt"
	o.TextColor = "#000000"
	o.BackgroundColor = "#FAF0DC"
	o.Shadow.Enabled = false

	e, out, _ := pipeline(t, o, 300)
	if err := e.ExportPNG(context.Background(), o); err != nil {
		t.Fatalf("ExportPNG() error = %v", err)
	}
	if len(out.files) != 1 {
		t.Fatalf("files = %d, want 1", len(out.files))
	}
	img := decodePNG(t, out.files[0].Data)

	box := preview.Measure(o, 300)
	b := img.Bounds()
	if b.Dx() != int(box.Width*export.PNGScale) || b.Dy() != int(box.Height*export.PNGScale) {
		t.Fatalf("bitmap = %dx%d, want %vx%v", b.Dx(), b.Dy(), box.Width*export.PNGScale, box.Height*export.PNGScale)
	}

	bg := color.RGBA{0xFA, 0xF0, 0xDC, 0xFF}
	for _, p := range []image.Point{{0, 0}, {b.Dx() - 1, 0}, {0, b.Dy() - 1}, {b.Dx() - 1, b.Dy() - 1}} {
		if c := rgba(img.At(p.X, p.Y)); c != bg {
			t.Errorf("corner %v = %v, want %v", p, c, bg)
		}
	}

	dark := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := rgba(img.At(x, y)); c.R < 40 && c.G < 40 && c.B < 40 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Error("no glyph pixels in the exported bitmap")
	}
}

func TestPipeline_GradientText(t *testing.T) {
	o := style.Defaults()
	o.Text = "HHHHHHHHHH"
	o.FontSize = 64
	o.GradientEnabled = true
	o.Gradient = style.Gradient{From: "#0000FF", To: "#FF0000"}
	o.Shadow.Enabled = false

	e, out, _ := pipeline(t, o, 600)
	if err := e.ExportPNG(context.Background(), o); err != nil {
		t.Fatalf("ExportPNG() error = %v", err)
	}
	img := decodePNG(t, out.files[0].Data)
	b := img.Bounds()

	// Fully inked pixels have no green on a blue to red ramp.
	var left, right struct{ r, b, n int }
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := rgba(img.At(x, y))
			if c.G > 30 {
				continue
			}
			half := &left
			if x >= b.Dx()/2 {
				half = &right
			}
			half.r += int(c.R)
			half.b += int(c.B)
			half.n++
		}
	}
	if left.n == 0 || right.n == 0 {
		t.Fatalf("ink pixels left=%d right=%d", left.n, right.n)
	}
	if left.r/left.n >= right.r/right.n {
		t.Errorf("red does not grow left to right: %d -> %d", left.r/left.n, right.r/right.n)
	}
	if left.b/left.n <= right.b/right.n {
		t.Errorf("blue does not fade left to right: %d -> %d", left.b/left.n, right.b/right.n)
	}
}

func TestPipeline_CaptureTooLarge(t *testing.T) {
	o := style.Defaults()
	o.Text = "H"
	o.FontSize = 100000
	o.Shadow.Enabled = false

	e, out, doc := pipeline(t, o, 2000, snapshot.WithMaxPixels(snapshot.DefaultMaxPixels))
	before := doc.NodeCount()

	err := e.ExportPNG(context.Background(), o)
	if !errors.Is(err, snapshot.ErrCaptureTooLarge) {
		t.Fatalf("err = %v, want ErrCaptureTooLarge", err)
	}
	if !errors.Is(err, snapshot.ErrRasterizationFailed) {
		t.Errorf("err = %v, want ErrRasterizationFailed", err)
	}
	if len(out.files) != 0 {
		t.Errorf("files = %d, want none", len(out.files))
	}
	if doc.NodeCount() != before {
		t.Errorf("NodeCount = %d, want %d", doc.NodeCount(), before)
	}
}
