package preview

import (
	"errors"
	"image"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gogpu/gg"

	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/style"
)

func TestResolveTextColorStyle(t *testing.T) {
	o := style.Defaults()
	o.TextColor = "#112233"

	solid := ResolveTextColorStyle(o)
	if solid.IsGradient() || solid.Color != "#112233" {
		t.Errorf("expected solid colour, got %+v", solid)
	}

	o.GradientEnabled = true
	grad := ResolveTextColorStyle(o)
	if !grad.IsGradient() {
		t.Fatal("expected gradient branch")
	}
	if grad.Color != "" {
		t.Error("solid colour must not be applied while the gradient is active")
	}
	if grad.Background != "linear-gradient(90deg, #8B5A2B, #D4AF37)" {
		t.Errorf("unexpected gradient %q", grad.Background)
	}
	if grad.WebkitBackgroundClip != "text" || grad.BackgroundClip != "text" || grad.WebkitTextFillColor != "transparent" {
		t.Errorf("incomplete gradient trio: %+v", grad)
	}
}

func TestTextColorStyle_ApplyToClearsOtherBranch(t *testing.T) {
	o := style.Defaults()
	st := dom.NewStyle()

	o.GradientEnabled = true
	ResolveTextColorStyle(o).ApplyTo(st)
	o.GradientEnabled = false
	ResolveTextColorStyle(o).ApplyTo(st)

	if st.Has("background") || st.Has("-webkit-text-fill-color") {
		t.Errorf("gradient declarations left behind: %s", st.CSSText())
	}
	if st.Get("color") != o.TextColor {
		t.Errorf("expected color %s, got %q", o.TextColor, st.Get("color"))
	}
}

func TestResolveShadowStyle(t *testing.T) {
	o := style.Defaults()
	if got := ResolveShadowStyle(o); got != ShadowNone {
		t.Errorf("expected %q, got %q", ShadowNone, got)
	}

	o.Shadow.Enabled = true
	o.Shadow.Color = "#FF8000"
	if got, want := ResolveShadowStyle(o), "2px 2px 4px rgba(255, 128, 0, 0.5)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveBackgroundStyle(t *testing.T) {
	o := style.Defaults()

	bg := ResolveBackgroundStyle(o)
	if bg.Image != "" || bg.Color != "#FFFFFF" {
		t.Errorf("expected flat colour, got %+v", bg)
	}

	o.BackgroundPattern = "dots"
	bg = ResolveBackgroundStyle(o)
	if !strings.HasPrefix(bg.Image, `url("data:image/png;base64,`) || bg.Repeat != "repeat" {
		t.Errorf("expected tiled pattern, got %+v", bg)
	}
	if bg.Size != "20px 20px" || bg.Position != "0 0" {
		t.Errorf("unexpected pattern geometry %q %q", bg.Size, bg.Position)
	}

	o.BackgroundImage = "data:image/png;base64,AAAA"
	bg = ResolveBackgroundStyle(o)
	if bg.Image != `url("data:image/png;base64,AAAA")` || bg.Size != "cover" || bg.Position != "center" {
		t.Errorf("expected image to win, got %+v", bg)
	}
	if bg.Color != "#FFFFFF" {
		t.Error("colour must remain the base layer")
	}

	o.BackgroundImage = ""
	o.BackgroundPattern = "no-such-pattern"
	if bg = ResolveBackgroundStyle(o); bg.Image != "" {
		t.Errorf("unknown pattern must fall back to colour, got %+v", bg)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	o := style.Defaults()
	o.GradientEnabled = true
	o.Shadow.Enabled = true
	o.BackgroundPattern = "stars"

	for i := 0; i < 3; i++ {
		if ResolveTextColorStyle(o) != ResolveTextColorStyle(o) {
			t.Fatal("text colour resolution is not stable")
		}
		if ResolveShadowStyle(o) != ResolveShadowStyle(o) {
			t.Fatal("shadow resolution is not stable")
		}
		if ResolveBackgroundStyle(o) != ResolveBackgroundStyle(o) {
			t.Fatal("background resolution is not stable")
		}
	}
}

func TestApplyKashida(t *testing.T) {
	o := style.Defaults()
	text := "بسم الله  الرحمن\tالرحيم"

	if got := ApplyKashida(text, o); got != text {
		t.Error("disabled kashida must return the text unchanged")
	}

	o.Kashida.Enabled = true
	for _, n := range []int{1, 2, 3} {
		o.Kashida.Length = n
		got := ApplyKashida(text, o)
		// three whitespace runs
		if c := strings.Count(got, string(Tatweel)); c != 3*n {
			t.Errorf("length %d: expected %d tatweels, got %d", n, 3*n, c)
		}
	}

	o.Kashida.Length = 2
	once := ApplyKashida(text, o)
	twice := ApplyKashida(once, o)
	if strings.Count(twice, string(Tatweel)) != 2*strings.Count(once, string(Tatweel)) {
		t.Error("expected repeated application to keep inserting")
	}

	if got := ApplyKashida("كلمة", o); got != "كلمة" {
		t.Errorf("text without whitespace must be unchanged, got %q", got)
	}
	if !utf8.ValidString(once) {
		t.Error("invalid UTF-8 output")
	}
}

func TestRenderer_Render(t *testing.T) {
	doc := dom.NewDocument()
	r := NewRenderer(doc)
	r.SetViewportWidth(300)

	o := style.Defaults()
	o.Text = "سطر\nسطر"
	o.FontSize = 20
	o.LineHeight = 2
	o.Padding = 10
	o.Border.Enabled = true
	o.Border.Width = 5
	o.GradientEnabled = true
	o.Kashida.Enabled = true
	r.Render(o)

	el := r.Element()
	if el == nil {
		t.Fatal("expected live element")
	}
	box := el.Box()
	if box.Width != 300 || box.Height != 2*20*2+2*15 {
		t.Errorf("unexpected box %+v", box)
	}

	text := el.FindByAttr("data-role", TextRole)
	if text == nil {
		t.Fatal("missing text element")
	}
	if text.Style().Get("-webkit-text-fill-color") != "transparent" {
		t.Error("gradient not applied to the text element")
	}
	if text.Text() != "سطر\nـسطر" {
		t.Errorf("expected kashida after the line break, got %q", text.Text())
	}
	if el.Style().Get("border") != "5px solid #8B5A2B" {
		t.Errorf("unexpected border %q", el.Style().Get("border"))
	}

	html := r.HTML()
	if !strings.Contains(html, `id="calligraphy-preview"`) || !strings.Contains(html, `data-font-state="not-loaded"`) {
		t.Errorf("unexpected html %s", html)
	}
}

func TestRenderer_Detach(t *testing.T) {
	doc := dom.NewDocument()
	r := NewRenderer(doc)
	r.Detach()
	if r.Element() != nil {
		t.Error("expected nil element after detach")
	}
}

func TestPatterns(t *testing.T) {
	ps := Patterns()
	if len(ps) != 5 {
		t.Fatalf("expected 5 patterns, got %d", len(ps))
	}
	for _, p := range ps {
		tile := p.Tile()
		if tile == nil || tile.Bounds().Dx() != p.Size {
			t.Errorf("%s: bad tile", p.ID)
		}
		if !strings.HasPrefix(p.DataURL(), "data:image/png;base64,") {
			t.Errorf("%s: bad data URL", p.ID)
		}
	}
}

func TestResolveBackgroundStyle_PatternEncodeError(t *testing.T) {
	orig := encodeTile
	encodeTile = func(io.Writer, image.Image) error { return errors.New("disk full") }
	t.Cleanup(func() { encodeTile = orig })

	p := &Pattern{ID: "broken", Label: "Broken", Size: 8, paint: func(dc *gg.Context, s float64) {
		dc.DrawRectangle(0, 0, s/2, s/2)
		_ = dc.Fill()
	}}
	patterns[p.ID] = p
	t.Cleanup(func() { delete(patterns, p.ID) })

	o := style.Defaults()
	o.BackgroundColor = "#ABCDEF"
	o.BackgroundPattern = p.ID

	bg := ResolveBackgroundStyle(o)
	if bg.Image != "" || bg.Repeat != "" {
		t.Errorf("background = %+v, want colour only", bg)
	}
	if bg.Color != "#ABCDEF" {
		t.Errorf("colour = %q", bg.Color)
	}
	if p.DataURL() != "" || p.Err() == nil {
		t.Errorf("DataURL = %q, Err = %v", p.DataURL(), p.Err())
	}
}

func TestParseCSSURL(t *testing.T) {
	u, ok := ParseCSSURL(`url("data:image/png;base64,AAAA")`)
	if !ok || u != "data:image/png;base64,AAAA" {
		t.Errorf("got %q %v", u, ok)
	}
	if _, ok := ParseCSSURL("none"); ok {
		t.Error("expected none to be rejected")
	}
}
