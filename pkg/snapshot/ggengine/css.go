package ggengine

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
)

// parsePx reads a CSS length in px. Unitless numbers are accepted.
func parsePx(v string, def float64) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// parseNumber reads a unitless number.
func parseNumber(v string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// parseColor understands #hex, rgb(), rgba() and transparent.
func parseColor(v string) (color.NRGBA, bool) {
	v = strings.TrimSpace(strings.ToLower(v))
	switch {
	case v == "", v == "none":
		return color.NRGBA{}, false
	case v == "transparent":
		return color.NRGBA{}, true
	case strings.HasPrefix(v, "#"):
		return toNRGBA(gg.Hex(v)), true
	case strings.HasPrefix(v, "rgb"):
		open := strings.IndexByte(v, '(')
		end := strings.LastIndexByte(v, ')')
		if open < 0 || end < open {
			return color.NRGBA{}, false
		}
		parts := strings.Split(v[open+1:end], ",")
		if len(parts) < 3 {
			return color.NRGBA{}, false
		}
		c := color.NRGBA{
			R: channel(parts[0]),
			G: channel(parts[1]),
			B: channel(parts[2]),
			A: 255,
		}
		if len(parts) > 3 {
			c.A = uint8(clampUnit(parseNumber(parts[3], 1))*255 + 0.5)
		}
		return c, true
	}
	return color.NRGBA{}, false
}

func channel(s string) uint8 {
	f := parseNumber(s, 0)
	switch {
	case f < 0:
		f = 0
	case f > 255:
		f = 255
	}
	return uint8(f + 0.5)
}

func toNRGBA(c gg.RGBA) color.NRGBA {
	return color.NRGBA{
		R: uint8(clampUnit(c.R)*255 + 0.5),
		G: uint8(clampUnit(c.G)*255 + 0.5),
		B: uint8(clampUnit(c.B)*255 + 0.5),
		A: uint8(clampUnit(c.A)*255 + 0.5),
	}
}

func fromNRGBA(c color.NRGBA) gg.RGBA {
	return gg.RGBA2(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255, float64(c.A)/255)
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// splitTopLevel splits s on sep outside parentheses.
func splitTopLevel(s string, sep rune) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + len(string(sep))
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// parseLinearGradient reads "linear-gradient(90deg, a, b, ...)" into a gg
// brush running from x0 to x1 with evenly spaced stops. Only the
// left-to-right direction is produced by the preview.
func parseLinearGradient(v string, x0, x1 float64) (*gg.LinearGradientBrush, bool) {
	v = strings.TrimSpace(v)
	const prefix = "linear-gradient("
	if !strings.HasPrefix(v, prefix) || !strings.HasSuffix(v, ")") {
		return nil, false
	}
	args := splitTopLevel(v[len(prefix):len(v)-1], ',')
	if len(args) > 0 && (strings.HasSuffix(args[0], "deg") || strings.HasPrefix(args[0], "to ")) {
		args = args[1:]
	}
	var stops []color.NRGBA
	for _, a := range args {
		fields := strings.Fields(a)
		if len(fields) == 0 {
			continue
		}
		c, ok := parseColor(fields[0])
		if !ok {
			return nil, false
		}
		stops = append(stops, c)
	}
	if len(stops) < 2 {
		return nil, false
	}
	brush := gg.NewLinearGradientBrush(x0, 0, x1, 0)
	for i, c := range stops {
		brush.AddColorStop(float64(i)/float64(len(stops)-1), fromNRGBA(c))
	}
	return brush, true
}

// textShadow is a parsed single text-shadow.
type textShadow struct {
	dx, dy, blur float64
	color        color.NRGBA
}

// parseTextShadow reads "Xpx Ypx Bpx <color>".
func parseTextShadow(v string) (textShadow, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "none" {
		return textShadow{}, false
	}
	var lengths []float64
	var col string
	rest := v
	for rest != "" {
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, "rgb") || strings.HasPrefix(rest, "#") || strings.HasPrefix(rest, "transparent") {
			col = rest
			break
		}
		tok, tail, _ := strings.Cut(rest, " ")
		lengths = append(lengths, parsePx(tok, 0))
		rest = tail
	}
	if len(lengths) < 2 {
		return textShadow{}, false
	}
	s := textShadow{dx: lengths[0], dy: lengths[1], color: color.NRGBA{A: 255}}
	if len(lengths) > 2 {
		s.blur = lengths[2]
	}
	if c, ok := parseColor(col); ok {
		s.color = c
	}
	return s, true
}

// border is a parsed "Wpx solid <color>" shorthand.
type border struct {
	width float64
	color color.NRGBA
}

func parseBorder(v string) (border, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "none" {
		return border{}, false
	}
	fields := strings.SplitN(v, " ", 3)
	if len(fields) < 3 {
		return border{}, false
	}
	w := parsePx(fields[0], 0)
	c, ok := parseColor(fields[2])
	if w <= 0 || !ok {
		return border{}, false
	}
	return border{width: w, color: c}, true
}

// parseTileSize reads "Wpx Hpx" from background-size.
func parseTileSize(v string) (float64, float64, bool) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, 0, false
	}
	w, h := parsePx(fields[0], 0), parsePx(fields[1], 0)
	return w, h, w > 0 && h > 0
}
