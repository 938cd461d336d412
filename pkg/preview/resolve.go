// Package preview turns style options into the styled preview element.
package preview

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gg"

	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/style"
)

// ShadowNone is the disabled shadow sentinel.
const ShadowNone = "none"

// Tatweel is the Arabic elongation character.
const Tatweel = 'ـ'

// TextColorStyle is the colour declaration of the text element. Exactly one
// branch is populated: Color for solid text, the gradient trio otherwise.
type TextColorStyle struct {
	Color string

	Background           string
	WebkitBackgroundClip string
	BackgroundClip       string
	WebkitTextFillColor  string
}

// IsGradient reports whether the gradient branch is active.
func (s TextColorStyle) IsGradient() bool {
	return s.Background != ""
}

// ApplyTo writes the declaration onto st, clearing the other branch.
func (s TextColorStyle) ApplyTo(st *dom.Style) {
	st.Set("color", s.Color)
	st.Set("background", s.Background)
	st.Set("-webkit-background-clip", s.WebkitBackgroundClip)
	st.Set("background-clip", s.BackgroundClip)
	st.Set("-webkit-text-fill-color", s.WebkitTextFillColor)
}

// ResolveTextColorStyle picks the gradient-as-text-fill trio when the
// gradient is enabled and the solid colour otherwise.
func ResolveTextColorStyle(o style.Options) TextColorStyle {
	if o.GradientEnabled {
		return TextColorStyle{
			Background:           fmt.Sprintf("linear-gradient(90deg, %s, %s)", o.Gradient.From, o.Gradient.To),
			WebkitBackgroundClip: "text",
			BackgroundClip:       "text",
			WebkitTextFillColor:  "transparent",
		}
	}
	return TextColorStyle{Color: o.TextColor}
}

// ResolveShadowStyle composes the text-shadow value or ShadowNone.
func ResolveShadowStyle(o style.Options) string {
	if !o.Shadow.Enabled {
		return ShadowNone
	}
	return fmt.Sprintf("%spx %spx %spx %s",
		formatNumber(o.Shadow.OffsetX),
		formatNumber(o.Shadow.OffsetY),
		formatNumber(o.Shadow.Blur),
		RGBAString(o.Shadow.Color, o.Shadow.Opacity))
}

// RGBAString converts a hex colour and an opacity into an rgba() value.
func RGBAString(hex string, alpha float64) string {
	c := gg.Hex(hex)
	return fmt.Sprintf("rgba(%d, %d, %d, %s)",
		int(math.Round(c.R*255)), int(math.Round(c.G*255)), int(math.Round(c.B*255)),
		formatNumber(alpha))
}

// BackgroundStyle is the background declaration of the preview container.
// Image is empty when only the flat colour applies.
type BackgroundStyle struct {
	Image    string
	Color    string
	Size     string
	Position string
	Repeat   string
}

// ApplyTo writes the declaration onto st. Properties that do not apply are
// removed so a stale layer cannot survive.
func (b BackgroundStyle) ApplyTo(st *dom.Style) {
	st.Set("background-color", b.Color)
	st.Set("background-image", b.Image)
	st.Set("background-size", b.Size)
	st.Set("background-position", b.Position)
	st.Set("background-repeat", b.Repeat)
}

// ResolveBackgroundStyle applies image > pattern > colour precedence. An
// unknown pattern id falls back to the flat colour.
func ResolveBackgroundStyle(o style.Options) BackgroundStyle {
	bg := BackgroundStyle{Color: o.BackgroundColor}
	switch {
	case o.HasBackgroundImage():
		bg.Image = cssURL(o.BackgroundImage)
		bg.Size = "cover"
		bg.Position = "center"
		bg.Repeat = "no-repeat"
	case o.HasPattern():
		p, ok := LookupPattern(o.BackgroundPattern)
		if !ok {
			break
		}
		// Without a tile the colour shows alone rather than url("").
		src := p.DataURL()
		if src == "" {
			break
		}
		bg.Image = cssURL(src)
		bg.Size = fmt.Sprintf("%dpx %dpx", p.Size, p.Size)
		bg.Position = "0 0"
		bg.Repeat = "repeat"
	}
	return bg
}

// ApplyKashida inserts Length tatweel characters after every whitespace run.
// Letter connectivity is not checked.
func ApplyKashida(text string, o style.Options) string {
	if !o.Kashida.Enabled || o.Kashida.Length <= 0 {
		return text
	}
	ins := strings.Repeat(string(Tatweel), o.Kashida.Length)

	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		space := isSpace(r)
		if inSpace && !space {
			b.WriteString(ins)
		}
		b.WriteRune(r)
		inSpace = space
	}
	if inSpace {
		b.WriteString(ins)
	}
	return b.String()
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v', 0x00a0, 0x2000, 0x2001, 0x2002, 0x2003, 0x2004,
		0x2005, 0x2006, 0x2007, 0x2008, 0x2009, 0x200a, 0x2028, 0x2029, 0x202f, 0x205f, 0x3000:
		return true
	}
	return false
}

func cssURL(u string) string {
	return `url("` + u + `")`
}

// ParseCSSURL extracts the address from a url("...") value.
func ParseCSSURL(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "url(") || !strings.HasSuffix(v, ")") {
		return "", false
	}
	v = strings.TrimSpace(v[4 : len(v)-1])
	v = strings.Trim(v, `"'`)
	return v, v != ""
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatPx formats a pixel length.
func FormatPx(v float64) string {
	return formatNumber(v) + "px"
}
