package style

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
)

// Field names reported to subscribers.
const (
	FieldText              = "text"
	FieldFont              = "font"
	FieldFontSize          = "font_size"
	FieldFontWeight        = "font_weight"
	FieldFontStyle         = "font_style"
	FieldTextColor         = "text_color"
	FieldGradient          = "gradient"
	FieldGradientEnabled   = "gradient_enabled"
	FieldShadow            = "shadow"
	FieldBackgroundColor   = "background_color"
	FieldBackgroundImage   = "background_image"
	FieldBackgroundPattern = "background_pattern"
	FieldAlignment         = "alignment"
	FieldLetterSpacing     = "letter_spacing"
	FieldLineHeight        = "line_height"
	FieldBorder            = "border"
	FieldPadding           = "padding"
	FieldKashida           = "kashida"
)

// fieldHashes fingerprints every field of o so two option values can be
// compared field by field.
func fieldHashes(o Options) map[string]uint64 {
	return map[string]uint64{
		FieldText:              hashParts(o.Text),
		FieldFont:              hashParts(o.Font.ID, o.Font.Family, int(o.Font.State)),
		FieldFontSize:          hashParts(o.FontSize),
		FieldFontWeight:        hashParts(int(o.FontWeight)),
		FieldFontStyle:         hashParts(string(o.FontStyle)),
		FieldTextColor:         hashParts(o.TextColor),
		FieldGradient:          hashParts(o.Gradient.From, o.Gradient.To),
		FieldGradientEnabled:   hashParts(o.GradientEnabled),
		FieldShadow:            hashParts(o.Shadow.Enabled, o.Shadow.OffsetX, o.Shadow.OffsetY, o.Shadow.Blur, o.Shadow.Color, o.Shadow.Opacity),
		FieldBackgroundColor:   hashParts(o.BackgroundColor),
		FieldBackgroundImage:   hashParts(o.BackgroundImage),
		FieldBackgroundPattern: hashParts(o.BackgroundPattern),
		FieldAlignment:         hashParts(string(o.Alignment)),
		FieldLetterSpacing:     hashParts(o.LetterSpacing),
		FieldLineHeight:        hashParts(o.LineHeight),
		FieldBorder:            hashParts(o.Border.Enabled, o.Border.Color, o.Border.Width, o.Border.Radius),
		FieldPadding:           hashParts(o.Padding),
		FieldKashida:           hashParts(o.Kashida.Enabled, o.Kashida.Length),
	}
}

// changedFields returns the sorted names of fields that differ between prev and next.
func changedFields(prev, next Options) []string {
	a, b := fieldHashes(prev), fieldHashes(next)
	var changed []string
	for name, h := range b {
		if a[name] != h {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

func hashParts(parts ...any) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			h.Write([]byte(v))
			h.Write([]byte{0})
		case int:
			binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
			h.Write(buf[:])
		case float64:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		case bool:
			if v {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		}
	}
	return h.Sum64()
}
