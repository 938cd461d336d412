package website

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/preview"
)

// Inputs carry data-field with the name the generator accepts in "set"
// events; buttons carry data-event or data-export.

type rangeSpec struct {
	field, label   string
	min, max, step float64
	value          float64
}

type colorSpec struct {
	field, label, value string
}

type option struct {
	value, label string
}

// RenderControls renders the control panel.
func RenderControls(fontList []fonts.Font, patterns []*preview.Pattern) string {
	var sb strings.Builder

	sb.WriteString(`<form class="panel" id="khatt-panel" aria-label="Style controls" autocomplete="off">` + "\n")

	// Text
	sb.WriteString("<fieldset><legend>Text</legend>\n")
	sb.WriteString(`<div class="field"><label for="f-text">Text</label>` +
		`<textarea id="f-text" data-field="text" dir="rtl" lang="ar"></textarea></div>` + "\n")
	fontOpts := make([]option, 0, len(fontList))
	for _, f := range fontList {
		fontOpts = append(fontOpts, option{f.ID, f.Name})
	}
	sb.WriteString(renderSelect("font", "Font", fontOpts))
	sb.WriteString(renderRange(rangeSpec{field: "font_size", label: "Size", min: 12, max: 160, step: 1, value: 48}))
	sb.WriteString(renderSelect("font_weight", "Weight", []option{
		{"300", "Light"}, {"400", "Regular"}, {"500", "Medium"}, {"700", "Bold"},
	}))
	sb.WriteString(renderSelect("font_style", "Style", []option{{"normal", "Normal"}, {"italic", "Italic"}}))
	sb.WriteString(renderSelect("alignment", "Alignment", []option{
		{"right", "Right"}, {"center", "Center"}, {"left", "Left"},
	}))
	sb.WriteString(renderRange(rangeSpec{field: "letter_spacing", label: "Letter spacing", min: -5, max: 20, step: 0.5}))
	sb.WriteString(renderRange(rangeSpec{field: "line_height", label: "Line height", min: 1, max: 3, step: 0.1, value: 1.8}))
	sb.WriteString(renderToggle("kashida_enabled", "Kashida"))
	sb.WriteString(renderRange(rangeSpec{field: "kashida_length", label: "Kashida length", min: 1, max: 5, step: 1, value: 1}))
	sb.WriteString("</fieldset>\n")

	// Color
	sb.WriteString("<fieldset><legend>Color</legend>\n")
	sb.WriteString(renderColor(colorSpec{"text_color", "Text color", "#000000"}))
	sb.WriteString(renderToggle("gradient_enabled", "Gradient"))
	sb.WriteString(renderColor(colorSpec{"gradient_from", "From", "#8B5A2B"}))
	sb.WriteString(renderColor(colorSpec{"gradient_to", "To", "#D4AF37"}))
	sb.WriteString("</fieldset>\n")

	// Shadow
	sb.WriteString("<fieldset><legend>Shadow</legend>\n")
	sb.WriteString(renderToggle("shadow_enabled", "Shadow"))
	sb.WriteString(renderRange(rangeSpec{field: "shadow_offset_x", label: "Offset X", min: -20, max: 20, step: 1, value: 2}))
	sb.WriteString(renderRange(rangeSpec{field: "shadow_offset_y", label: "Offset Y", min: -20, max: 20, step: 1, value: 2}))
	sb.WriteString(renderRange(rangeSpec{field: "shadow_blur", label: "Blur", min: 0, max: 30, step: 1, value: 4}))
	sb.WriteString(renderColor(colorSpec{"shadow_color", "Shadow color", "#000000"}))
	sb.WriteString(renderRange(rangeSpec{field: "shadow_opacity", label: "Opacity", min: 0, max: 1, step: 0.05, value: 0.5}))
	sb.WriteString("</fieldset>\n")

	// Background
	sb.WriteString("<fieldset><legend>Background</legend>\n")
	sb.WriteString(renderColor(colorSpec{"background_color", "Background", "#FFFFFF"}))
	patternOpts := []option{{"none", "None"}}
	for _, p := range patterns {
		patternOpts = append(patternOpts, option{p.ID, p.Label})
	}
	sb.WriteString(renderSelect("background_pattern", "Pattern", patternOpts))
	sb.WriteString(`<div class="field"><label for="f-upload">Image</label>` +
		`<input id="f-upload" type="file" accept="image/png,image/jpeg,image/gif,image/webp" data-upload="background_image"></div>` + "\n")
	sb.WriteString(`<div class="actions"><button type="button" class="btn btn-secondary" data-clear="background_image">Remove image</button></div>` + "\n")
	sb.WriteString("</fieldset>\n")

	// Frame
	sb.WriteString("<fieldset><legend>Frame</legend>\n")
	sb.WriteString(renderToggle("border_enabled", "Border"))
	sb.WriteString(renderColor(colorSpec{"border_color", "Border color", "#8B5A2B"}))
	sb.WriteString(renderRange(rangeSpec{field: "border_width", label: "Width", min: 0, max: 20, step: 1, value: 2}))
	sb.WriteString(renderRange(rangeSpec{field: "border_radius", label: "Radius", min: 0, max: 48, step: 1, value: 8}))
	sb.WriteString(renderRange(rangeSpec{field: "padding", label: "Padding", min: 0, max: 96, step: 1, value: 32}))
	sb.WriteString("</fieldset>\n")

	// Export
	sb.WriteString(`<fieldset><legend>Export</legend><div class="actions">` + "\n")
	sb.WriteString(`<button type="button" class="btn btn-primary" data-export="png">Download PNG</button>` + "\n")
	sb.WriteString(`<button type="button" class="btn btn-secondary" data-export="svg">Download SVG</button>` + "\n")
	sb.WriteString(`<button type="button" class="btn btn-secondary" data-export="copy">Copy image</button>` + "\n")
	sb.WriteString(`<button type="button" class="btn btn-secondary" data-export="share">Share</button>` + "\n")
	sb.WriteString(`<button type="button" class="btn btn-secondary" data-event="reset">Reset</button>` + "\n")
	sb.WriteString("</div></fieldset>\n")

	sb.WriteString("</form>\n")
	return sb.String()
}

func renderRange(r rangeSpec) string {
	id := "f-" + r.field
	return fmt.Sprintf(`<div class="field"><label for="%s">%s</label>`+
		`<span><input id="%s" type="range" data-field="%s" min="%s" max="%s" step="%s" value="%s">`+
		`<output for="%s">%s</output></span></div>`+"\n",
		id, html.EscapeString(r.label),
		id, r.field, formatNum(r.min), formatNum(r.max), formatNum(r.step), formatNum(r.value),
		id, formatNum(r.value))
}

func renderColor(c colorSpec) string {
	id := "f-" + c.field
	return fmt.Sprintf(`<div class="field"><label for="%s">%s</label>`+
		`<input id="%s" type="color" data-field="%s" value="%s"></div>`+"\n",
		id, html.EscapeString(c.label), id, c.field, html.EscapeString(c.value))
}

func renderToggle(field, label string) string {
	id := "f-" + field
	return fmt.Sprintf(`<label class="toggle" for="%s"><input id="%s" type="checkbox" data-field="%s">%s</label>`+"\n",
		id, id, field, html.EscapeString(label))
}

func renderSelect(field, label string, opts []option) string {
	var sb strings.Builder
	id := "f-" + field
	sb.WriteString(fmt.Sprintf(`<div class="field"><label for="%s">%s</label><select id="%s" data-field="%s">`,
		id, html.EscapeString(label), id, field))
	for _, o := range opts {
		sb.WriteString(fmt.Sprintf(`<option value="%s">%s</option>`, html.EscapeString(o.value), html.EscapeString(o.label)))
	}
	sb.WriteString("</select></div>\n")
	return sb.String()
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
