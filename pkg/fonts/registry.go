// Package fonts maps logical font ids to font files and tracks their
// loading state.
package fonts

import (
	"sort"
	"strings"

	"github.com/khattlab/khatt/pkg/style"
)

// Font is a logical font offered by the generator.
type Font struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Family   string `toml:"family"`
	File     string `toml:"file"`
	Category string `toml:"category"`
}

// Builtin lists the fonts the generator offers out of the box. Files are
// looked up in the configured font directory.
var Builtin = []Font{
	{ID: "amiri", Name: "Amiri", Family: "'Amiri', serif", File: "Amiri-Regular.ttf", Category: "naskh"},
	{ID: "scheherazade", Name: "Scheherazade New", Family: "'Scheherazade New', serif", File: "ScheherazadeNew-Regular.ttf", Category: "naskh"},
	{ID: "lateef", Name: "Lateef", Family: "'Lateef', serif", File: "Lateef-Regular.ttf", Category: "naskh"},
	{ID: "noto-naskh", Name: "Noto Naskh Arabic", Family: "'Noto Naskh Arabic', serif", File: "NotoNaskhArabic-Regular.ttf", Category: "naskh"},
	{ID: "reem-kufi", Name: "Reem Kufi", Family: "'Reem Kufi', sans-serif", File: "ReemKufi-Regular.ttf", Category: "kufi"},
	{ID: "cairo", Name: "Cairo", Family: "'Cairo', sans-serif", File: "Cairo-Regular.ttf", Category: "modern"},
	{ID: "tajawal", Name: "Tajawal", Family: "'Tajawal', sans-serif", File: "Tajawal-Regular.ttf", Category: "modern"},
	{ID: "aref-ruqaa", Name: "Aref Ruqaa", Family: "'Aref Ruqaa', serif", File: "ArefRuqaa-Regular.ttf", Category: "ruqaa"},
}

// Registry resolves logical fonts.
type Registry struct {
	byID     map[string]Font
	byFamily map[string]Font
}

// NewRegistry builds a registry. Later entries override earlier ones with
// the same id.
func NewRegistry(fonts ...Font) *Registry {
	r := &Registry{
		byID:     make(map[string]Font, len(fonts)),
		byFamily: make(map[string]Font, len(fonts)),
	}
	for _, f := range fonts {
		r.byID[f.ID] = f
		r.byFamily[PrimaryFamily(f.Family)] = f
	}
	return r
}

// Resolve implements style.FontResolver.
func (r *Registry) Resolve(id string) (style.FontRef, bool) {
	f, ok := r.byID[id]
	if !ok {
		return style.FontRef{}, false
	}
	return style.FontRef{ID: f.ID, Family: f.Family}, true
}

// Lookup returns the font with the given id.
func (r *Registry) Lookup(id string) (Font, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// ByFamily returns the font whose primary family matches the given CSS
// font-family value.
func (r *Registry) ByFamily(family string) (Font, bool) {
	f, ok := r.byFamily[PrimaryFamily(family)]
	return f, ok
}

// List returns all fonts sorted by id.
func (r *Registry) List() []Font {
	out := make([]Font, 0, len(r.byID))
	for _, f := range r.byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PrimaryFamily extracts the first family name of a CSS font-family list,
// lower-cased and unquoted.
func PrimaryFamily(css string) string {
	first, _, _ := strings.Cut(css, ",")
	first = strings.TrimSpace(first)
	first = strings.Trim(first, `"'`)
	return strings.ToLower(first)
}
