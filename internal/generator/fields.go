package generator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/khattlab/khatt/pkg/style"
)

// ErrUnknownField is returned for a "set" event naming no style field.
var ErrUnknownField = errors.New("unknown style field")

// setter applies one client value to the model.
type setter func(m *style.Model, v any) error

// fields maps the names the page uses in "set" events to model setters.
// Font selection is handled by the generator because it also starts a load.
var fields = map[string]setter{
	"text":        str((*style.Model).SetText),
	"font_size":   num((*style.Model).SetFontSize),
	"font_weight": integer((*style.Model).SetFontWeight),
	"font_style":  str((*style.Model).SetFontStyle),

	"text_color":       str((*style.Model).SetTextColor),
	"gradient_from":    str((*style.Model).SetGradientFrom),
	"gradient_to":      str((*style.Model).SetGradientTo),
	"gradient_enabled": flag((*style.Model).SetGradientEnabled),

	"shadow_enabled":  flag((*style.Model).SetShadowEnabled),
	"shadow_offset_x": num((*style.Model).SetShadowOffsetX),
	"shadow_offset_y": num((*style.Model).SetShadowOffsetY),
	"shadow_blur":     num((*style.Model).SetShadowBlur),
	"shadow_color":    str((*style.Model).SetShadowColor),
	"shadow_opacity":  num((*style.Model).SetShadowOpacity),

	"background_color":   str((*style.Model).SetBackgroundColor),
	"background_image":   str((*style.Model).SetBackgroundImage),
	"background_pattern": str((*style.Model).SetBackgroundPattern),

	"alignment":      str((*style.Model).SetAlignment),
	"letter_spacing": num((*style.Model).SetLetterSpacing),
	"line_height":    num((*style.Model).SetLineHeight),

	"border_enabled": flag((*style.Model).SetBorderEnabled),
	"border_color":   str((*style.Model).SetBorderColor),
	"border_width":   num((*style.Model).SetBorderWidth),
	"border_radius":  num((*style.Model).SetBorderRadius),
	"padding":        num((*style.Model).SetPadding),

	"kashida_enabled": flag((*style.Model).SetKashidaEnabled),
	"kashida_length":  integer((*style.Model).SetKashidaLength),
}

// ApplyField sets one style field from a loosely typed value, as sent by
// the page or given on the command line. Fonts are not fields here.
func ApplyField(m *style.Model, field string, value any) error {
	fn, ok := fields[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if err := fn(m, value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// FieldNames lists the settable fields, font included.
func FieldNames() []string {
	names := make([]string, 0, len(fields)+1)
	for name := range fields {
		names = append(names, name)
	}
	names = append(names, "font")
	sort.Strings(names)
	return names
}

func str(fn func(*style.Model, string)) setter {
	return func(m *style.Model, v any) error {
		s, err := toString(v)
		if err != nil {
			return err
		}
		fn(m, s)
		return nil
	}
}

func num(fn func(*style.Model, float64)) setter {
	return func(m *style.Model, v any) error {
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		fn(m, f)
		return nil
	}
}

func integer(fn func(*style.Model, int)) setter {
	return func(m *style.Model, v any) error {
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		fn(m, int(math.Round(f)))
		return nil
	}
}

func flag(fn func(*style.Model, bool)) setter {
	return func(m *style.Model, v any) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		fn(m, b)
		return nil
	}
}

// Form inputs arrive as strings, JSON numbers as float64 and msgpack
// numbers as any integer width.

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "on", "1", "yes":
			return true, nil
		case "false", "off", "0", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", x)
	}
	if f, err := toFloat(v); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

// State is the control panel view of the options. Field names match the
// "set" event names so the page can sync its inputs.
type State struct {
	Text      string  `json:"text"`
	Font      string  `json:"font"`
	FontState string  `json:"font_state"`
	FontSize  float64 `json:"font_size"`
	Weight    int     `json:"font_weight"`
	FontStyle string  `json:"font_style"`

	TextColor       string `json:"text_color"`
	GradientFrom    string `json:"gradient_from"`
	GradientTo      string `json:"gradient_to"`
	GradientEnabled bool   `json:"gradient_enabled"`

	ShadowEnabled bool    `json:"shadow_enabled"`
	ShadowOffsetX float64 `json:"shadow_offset_x"`
	ShadowOffsetY float64 `json:"shadow_offset_y"`
	ShadowBlur    float64 `json:"shadow_blur"`
	ShadowColor   string  `json:"shadow_color"`
	ShadowOpacity float64 `json:"shadow_opacity"`

	BackgroundColor   string `json:"background_color"`
	HasImage          bool   `json:"has_background_image"`
	BackgroundPattern string `json:"background_pattern"`

	Alignment     string  `json:"alignment"`
	LetterSpacing float64 `json:"letter_spacing"`
	LineHeight    float64 `json:"line_height"`

	BorderEnabled bool    `json:"border_enabled"`
	BorderColor   string  `json:"border_color"`
	BorderWidth   float64 `json:"border_width"`
	BorderRadius  float64 `json:"border_radius"`
	Padding       float64 `json:"padding"`

	KashidaEnabled bool `json:"kashida_enabled"`
	KashidaLength  int  `json:"kashida_length"`
}

// StateOf builds the panel state. The uploaded image itself is left out.
func StateOf(o style.Options) State {
	return State{
		Text:      o.Text,
		Font:      o.Font.ID,
		FontState: o.Font.State.String(),
		FontSize:  o.FontSize,
		Weight:    int(o.FontWeight),
		FontStyle: string(o.FontStyle),

		TextColor:       o.TextColor,
		GradientFrom:    o.Gradient.From,
		GradientTo:      o.Gradient.To,
		GradientEnabled: o.GradientEnabled,

		ShadowEnabled: o.Shadow.Enabled,
		ShadowOffsetX: o.Shadow.OffsetX,
		ShadowOffsetY: o.Shadow.OffsetY,
		ShadowBlur:    o.Shadow.Blur,
		ShadowColor:   o.Shadow.Color,
		ShadowOpacity: o.Shadow.Opacity,

		BackgroundColor:   o.BackgroundColor,
		HasImage:          o.HasBackgroundImage(),
		BackgroundPattern: o.BackgroundPattern,

		Alignment:     string(o.Alignment),
		LetterSpacing: o.LetterSpacing,
		LineHeight:    o.LineHeight,

		BorderEnabled: o.Border.Enabled,
		BorderColor:   o.Border.Color,
		BorderWidth:   o.Border.Width,
		BorderRadius:  o.Border.Radius,
		Padding:       o.Padding,

		KashidaEnabled: o.Kashida.Enabled,
		KashidaLength:  o.Kashida.Length,
	}
}
