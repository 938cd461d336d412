package ggengine

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for background images that are not data URLs.
var ErrUnsupportedImage = errors.New("only data: image URLs are supported")

// coverage renders shapes in opaque white with gg and returns their
// coverage as an alpha mask. Colour is applied afterwards by compositing,
// so only the fill coverage of the gg rasterizer is relied on.
func coverage(w, h int, paint func(dc *gg.Context) error) (*image.Alpha, error) {
	dc := gg.NewContext(w, h)
	defer dc.Close()
	dc.SetRGB(1, 1, 1)
	if err := paint(dc); err != nil {
		return nil, err
	}
	return alphaOf(dc.Image()), nil
}

func alphaOf(img image.Image) *image.Alpha {
	b := img.Bounds()
	out := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+b.Dx()*4]
			dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
			for x := range dst {
				dst[x] = src[x*4+3]
			}
		}
		return out
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Pix[y*out.Stride+x] = uint8(a >> 8)
		}
	}
	return out
}

// composite draws src over dst through mask.
func composite(dst *image.RGBA, src image.Image, mask image.Image) {
	draw.DrawMask(dst, dst.Bounds(), src, image.Point{}, mask, image.Point{}, draw.Over)
}

// horizontalInk samples a brush that varies along x only, once per column
// at the pixel centre, and repeats that row over the canvas.
func horizontalInk(b gg.Brush, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	row := out.Pix[:w*4]
	for x := range w {
		c := toNRGBA(b.ColorAt(float64(x)+0.5, 0))
		copy(row[x*4:], []uint8{c.R, c.G, c.B, c.A})
	}
	for y := 1; y < h; y++ {
		copy(out.Pix[y*out.Stride:], row)
	}
	return out
}

// tinted returns an image of col whose alpha is mask scaled by col's alpha.
func tinted(mask *image.Alpha, col color.NRGBA) *image.NRGBA {
	b := mask.Bounds()
	out := image.NewNRGBA(b)
	for i, a := range mask.Pix {
		if a == 0 {
			continue
		}
		j := i * 4
		out.Pix[j+0] = col.R
		out.Pix[j+1] = col.G
		out.Pix[j+2] = col.B
		out.Pix[j+3] = uint8(uint32(a) * uint32(col.A) / 255)
	}
	return out
}

// decodeDataURL decodes a base64 or percent-encoded data: URL image.
func decodeDataURL(u string) (image.Image, error) {
	if !strings.HasPrefix(u, "data:") {
		return nil, ErrUnsupportedImage
	}
	meta, payload, ok := strings.Cut(u[len("data:"):], ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}

	var data []byte
	var err error
	if strings.HasSuffix(meta, ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// tiled repeats tile, resized to tw x th, over a w x h canvas from the origin.
func tiled(tile image.Image, tw, th, w, h int) *image.NRGBA {
	scaled := imaging.Resize(tile, tw, th, imaging.Lanczos)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += th {
		for x := 0; x < w; x += tw {
			r := image.Rect(x, y, x+tw, y+th)
			draw.Draw(out, r, scaled, image.Point{}, draw.Src)
		}
	}
	return out
}

// cover scales img to fill w x h, cropping around the centre.
func cover(img image.Image, w, h int) *image.NRGBA {
	return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
}

// blurred applies a gaussian blur. CSS blur radius is twice the sigma.
func blurred(img image.Image, radius float64) *image.NRGBA {
	if radius <= 0 {
		return imaging.Clone(img)
	}
	return imaging.Blur(img, radius/2)
}
