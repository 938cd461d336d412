package style

import "net/url"

// FontResolver maps a logical font id to its reference.
type FontResolver interface {
	Resolve(id string) (FontRef, bool)
}

// Template is a phrase library record. Empty fields are left untouched when
// the template is applied.
type Template struct {
	Text       string `json:"text" toml:"text"`
	Font       string `json:"font,omitempty" toml:"font"`
	Color      string `json:"color,omitempty" toml:"color"`
	Background string `json:"background,omitempty" toml:"background"`
}

// ApplyTemplate overwrites the fields present in t in one mutation. A font id
// unknown to fonts is ignored. Applying a colour switches back to the solid
// colour mechanism.
func (m *Model) ApplyTemplate(t Template, fonts FontResolver) {
	var ref FontRef
	var haveFont bool
	if t.Font != "" && fonts != nil {
		ref, haveFont = fonts.Resolve(t.Font)
	}

	m.Apply(func(o *Options) {
		if t.Text != "" {
			o.Text = t.Text
		}
		if haveFont && ref.ID != o.Font.ID {
			o.Font = ref
		}
		if t.Color != "" {
			o.TextColor = t.Color
			o.GradientEnabled = false
		}
		if t.Background != "" {
			o.BackgroundColor = t.Background
		}
	})
}

// SeedFromQuery returns defaults adjusted by the "font" and "text" query
// parameters a page link may carry.
func SeedFromQuery(q url.Values, fonts FontResolver) Options {
	o := Defaults()
	if id := q.Get("font"); id != "" && fonts != nil {
		if ref, ok := fonts.Resolve(id); ok {
			o.Font = ref
		}
	}
	if text := q.Get("text"); text != "" {
		o.Text = text
	}
	return o
}
