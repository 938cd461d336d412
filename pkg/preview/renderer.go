package preview

import (
	"io"
	"strconv"
	"sync"

	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/style"
)

const (
	// PreviewID is the id of the preview container.
	PreviewID = "calligraphy-preview"
	// TextRole marks the text element inside the container.
	TextRole = "text"
	// DefaultViewportWidth is used until the client reports its width.
	DefaultViewportWidth = 600.0
)

// Renderer keeps the live preview element in sync with the style options.
type Renderer struct {
	doc  *dom.Document
	root *dom.Element
	text *dom.Element

	viewport float64
	mu       sync.Mutex
}

// NewRenderer builds the preview element and attaches it to doc.
func NewRenderer(doc *dom.Document) *Renderer {
	root := dom.NewElement("div")
	root.SetAttr("id", PreviewID)
	root.SetAttr("class", "calligraphy-preview")
	text := dom.NewElement("p")
	text.SetAttr("data-role", TextRole)
	text.SetAttr("dir", "auto")
	root.AppendChild(text)
	doc.Append(root)

	return &Renderer{
		doc:      doc,
		root:     root,
		text:     text,
		viewport: DefaultViewportWidth,
	}
}

// Document returns the document the preview lives in.
func (r *Renderer) Document() *dom.Document {
	return r.doc
}

// Element returns the live preview container, or nil once detached.
func (r *Renderer) Element() *dom.Element {
	var el *dom.Element
	r.doc.View(func(*dom.Element) {
		if r.root.IsConnected() {
			el = r.root
		}
	})
	return el
}

// Detach removes the preview from the document.
func (r *Renderer) Detach() {
	r.doc.RemoveChild(r.root)
}

// SetViewportWidth records the preview width reported by the client.
func (r *Renderer) SetViewportWidth(px float64) {
	if px <= 0 {
		return
	}
	r.mu.Lock()
	r.viewport = px
	r.mu.Unlock()
}

// ViewportWidth returns the current preview width.
func (r *Renderer) ViewportWidth() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewport
}

// Render rewrites the inline styles and text of the live element from o and
// lays it out.
func (r *Renderer) Render(o style.Options) {
	width := r.ViewportWidth()
	r.doc.Update(func(*dom.Element) {
		ApplyContainerStyle(r.root.Style(), o)
		ResolveBackgroundStyle(o).ApplyTo(r.root.Style())
		r.root.SetAttr("data-font-state", o.Font.State.String())

		ApplyFontStyle(r.text.Style(), o)
		ResolveTextColorStyle(o).ApplyTo(r.text.Style())
		r.text.Style().Set("text-shadow", ResolveShadowStyle(o))
		r.text.SetText(ApplyKashida(o.Text, o))

		box := Measure(o, width)
		r.root.SetBox(box)
		r.root.Style().Set("width", FormatPx(box.Width))
		r.root.Style().Set("height", FormatPx(box.Height))
		r.text.SetBox(dom.Box{Width: box.Width - 2*inset(o), Height: textHeight(o)})
	})
}

// WriteHTML writes the current preview markup.
func (r *Renderer) WriteHTML(w io.Writer) error {
	var err error
	r.doc.View(func(*dom.Element) {
		err = r.root.WriteHTML(w)
	})
	return err
}

// HTML returns the current preview markup.
func (r *Renderer) HTML() string {
	var s string
	r.doc.View(func(*dom.Element) {
		s = r.root.OuterHTML()
	})
	return s
}

// Measure computes the preview box for o at the given width.
func Measure(o style.Options, width float64) dom.Box {
	return dom.Box{
		Width:  width,
		Height: textHeight(o) + 2*inset(o),
	}
}

func textHeight(o style.Options) float64 {
	return float64(len(o.Lines())) * o.FontSize * o.LineHeight
}

func inset(o style.Options) float64 {
	in := o.Padding
	if o.Border.Enabled {
		in += o.Border.Width
	}
	return in
}

// ApplyFontStyle writes the font declarations of the text element.
func ApplyFontStyle(st *dom.Style, o style.Options) {
	st.Set("font-family", o.Font.Family)
	st.Set("font-size", FormatPx(o.FontSize))
	st.Set("font-weight", strconv.Itoa(int(o.FontWeight)))
	st.Set("font-style", string(o.FontStyle))
	st.Set("line-height", formatNumber(o.LineHeight))
	st.Set("letter-spacing", FormatPx(o.LetterSpacing))
	st.Set("white-space", "pre-wrap")
	st.Set("margin", "0")
}

// ApplyContainerStyle writes the layout declarations of the container.
func ApplyContainerStyle(st *dom.Style, o style.Options) {
	st.Set("box-sizing", "border-box")
	st.Set("padding", FormatPx(o.Padding))
	st.Set("text-align", string(o.Alignment))
	st.Set("direction", "rtl")
	if o.Border.Enabled {
		st.Set("border", FormatPx(o.Border.Width)+" solid "+o.Border.Color)
		st.Set("border-radius", FormatPx(o.Border.Radius))
	} else {
		st.Set("border", "none")
		st.Set("border-radius", "")
	}
}
