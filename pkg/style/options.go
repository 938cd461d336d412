// Package style holds the calligraphy style configuration that drives both
// the live preview and every export.
package style

import "strings"

// DefaultText is shown whenever the user clears the text field.
const DefaultText = "بسم الله الرحمن الرحيم"

// PatternNone marks the absence of a built-in background pattern.
const PatternNone = "none"

// FontWeight is one of the weights offered by the generator.
type FontWeight int

// Allowed font weights.
const (
	WeightLight   FontWeight = 300
	WeightRegular FontWeight = 400
	WeightMedium  FontWeight = 500
	WeightBold    FontWeight = 700
)

var allowedWeights = []FontWeight{WeightLight, WeightRegular, WeightMedium, WeightBold}

// FontStyle is normal or italic.
type FontStyle string

const (
	FontStyleNormal FontStyle = "normal"
	FontStyleItalic FontStyle = "italic"
)

// Alignment is the horizontal text alignment inside the preview.
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// FontState is the loading state reported by the font collaborator.
type FontState int

const (
	FontNotLoaded FontState = iota
	FontLoading
	FontLoaded
	// FontFallback means the font file is absent and the bundled fallback
	// face renders instead. It has no Arabic glyphs.
	FontFallback
)

func (s FontState) String() string {
	switch s {
	case FontLoading:
		return "loading"
	case FontLoaded:
		return "loaded"
	case FontFallback:
		return "fallback"
	default:
		return "not-loaded"
	}
}

// Settled reports whether loading has finished, from the file or the fallback.
func (s FontState) Settled() bool {
	return s == FontLoaded || s == FontFallback
}

// FontRef identifies a font by its logical id and the CSS family it resolves to.
type FontRef struct {
	ID     string
	Family string
	State  FontState
}

// Gradient is a two-stop linear gradient.
type Gradient struct {
	From string
	To   string
}

// Shadow describes the text shadow. Values are kept while disabled so
// toggling it back restores them.
type Shadow struct {
	Enabled bool
	OffsetX float64
	OffsetY float64
	Blur    float64
	Color   string
	Opacity float64
}

// Border describes the preview frame.
type Border struct {
	Enabled bool
	Color   string
	Width   float64
	Radius  float64
}

// Kashida controls tatweel insertion at render time.
type Kashida struct {
	Enabled bool
	Length  int
}

// Options is the full style configuration. It is a plain value: copies never
// share state with the model they came from.
type Options struct {
	Text string
	Font FontRef

	FontSize   float64
	FontWeight FontWeight
	FontStyle  FontStyle

	TextColor       string
	Gradient        Gradient
	GradientEnabled bool

	Shadow Shadow

	BackgroundColor   string
	BackgroundImage   string // data URL of an uploaded image
	BackgroundPattern string // built-in pattern id or PatternNone

	Alignment     Alignment
	LetterSpacing float64
	LineHeight    float64

	Border  Border
	Padding float64

	Kashida Kashida
}

// Defaults returns the options a fresh generator starts with.
func Defaults() Options {
	return Options{
		Text:       DefaultText,
		Font:       FontRef{ID: "amiri", Family: "'Amiri', serif"},
		FontSize:   48,
		FontWeight: WeightRegular,
		FontStyle:  FontStyleNormal,

		TextColor: "#000000",
		Gradient:  Gradient{From: "#8B5A2B", To: "#D4AF37"},

		Shadow: Shadow{OffsetX: 2, OffsetY: 2, Blur: 4, Color: "#000000", Opacity: 0.5},

		BackgroundColor:   "#FFFFFF",
		BackgroundPattern: PatternNone,

		Alignment:  AlignCenter,
		LineHeight: 1.8,

		Border:  Border{Color: "#8B5A2B", Width: 2, Radius: 8},
		Padding: 32,

		Kashida: Kashida{Length: 1},
	}
}

// HasBackgroundImage reports whether an uploaded image is the active layer.
func (o Options) HasBackgroundImage() bool {
	return o.BackgroundImage != ""
}

// HasPattern reports whether a built-in pattern is the active layer.
func (o Options) HasPattern() bool {
	return o.BackgroundPattern != "" && o.BackgroundPattern != PatternNone && !o.HasBackgroundImage()
}

// Lines splits the text into the lines the preview lays out.
func (o Options) Lines() []string {
	return strings.Split(o.Text, "\n")
}

func snapWeight(w int) FontWeight {
	best := allowedWeights[0]
	bestDist := abs(int(best) - w)
	for _, aw := range allowedWeights[1:] {
		if d := abs(int(aw) - w); d < bestDist {
			best, bestDist = aw, d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
