// Package dom is a small server-side element tree. It stands in for the
// browser DOM: the preview lives in it, exports clone it, and the
// rasterization engine reads the inline styles of the nodes it is given.
package dom

import (
	"html"
	"io"
	"sort"
	"strings"
)

// Box is the measured layout size of an element in CSS pixels.
type Box struct {
	Width  float64
	Height float64
}

// Element is a node of the tree. Leaf elements carry text content.
type Element struct {
	Tag   string
	attrs map[string]string
	style *Style
	text  string

	children []*Element
	parent   *Element
	doc      *Document

	box Box
}

// NewElement creates a detached element.
func NewElement(tag string) *Element {
	return &Element{
		Tag:   strings.ToLower(tag),
		attrs: make(map[string]string),
		style: NewStyle(),
	}
}

// Style returns the inline declaration block.
func (e *Element) Style() *Style {
	return e.style
}

// SetAttr sets an attribute. The style attribute is routed to Style.
func (e *Element) SetAttr(name, value string) {
	if name == "style" {
		e.style = ParseStyle(value)
		return
	}
	e.attrs[name] = value
}

// Attr returns an attribute value.
func (e *Element) Attr(name string) string {
	if name == "style" {
		return e.style.CSSText()
	}
	return e.attrs[name]
}

// RemoveAttr deletes an attribute.
func (e *Element) RemoveAttr(name string) {
	delete(e.attrs, name)
}

// ID returns the id attribute.
func (e *Element) ID() string {
	return e.attrs["id"]
}

// SetText replaces the text content.
func (e *Element) SetText(text string) {
	e.text = text
}

// Text returns the text content of e and its descendants.
func (e *Element) Text() string {
	if len(e.children) == 0 {
		return e.text
	}
	var b strings.Builder
	b.WriteString(e.text)
	for _, c := range e.children {
		b.WriteString(c.Text())
	}
	return b.String()
}

// Children returns the child elements.
func (e *Element) Children() []*Element {
	return e.children
}

// Parent returns the parent element or nil.
func (e *Element) Parent() *Element {
	return e.parent
}

// IsConnected reports whether e is attached to a document body.
func (e *Element) IsConnected() bool {
	for n := e; n != nil; n = n.parent {
		if n.doc != nil && n == n.doc.body {
			return true
		}
	}
	return false
}

// AppendChild attaches child as the last child of e, detaching it from any
// previous parent.
func (e *Element) AppendChild(child *Element) {
	if child.parent != nil {
		child.parent.removeChild(child)
	}
	child.parent = e
	e.children = append(e.children, child)
}

func (e *Element) removeChild(child *Element) bool {
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i], e.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Remove detaches e from its parent.
func (e *Element) Remove() {
	if e.parent != nil {
		e.parent.removeChild(e)
	}
}

// SetBox records the measured layout size.
func (e *Element) SetBox(b Box) {
	e.box = b
}

// Box returns the last measured layout size.
func (e *Element) Box() Box {
	return e.box
}

// CloneDeep copies e and its whole subtree. The copy is detached.
func (e *Element) CloneDeep() *Element {
	c := &Element{
		Tag:   e.Tag,
		attrs: make(map[string]string, len(e.attrs)),
		style: e.style.clone(),
		text:  e.text,
		box:   e.box,
	}
	for k, v := range e.attrs {
		c.attrs[k] = v
	}
	for _, child := range e.children {
		cc := child.CloneDeep()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// Walk visits e and its descendants depth first until fn returns false.
func (e *Element) Walk(fn func(*Element) bool) bool {
	if !fn(e) {
		return false
	}
	for _, c := range e.children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Count returns the number of elements in the subtree rooted at e.
func (e *Element) Count() int {
	n := 0
	e.Walk(func(*Element) bool {
		n++
		return true
	})
	return n
}

// FindByID returns the first descendant (or e itself) with the given id.
func (e *Element) FindByID(id string) *Element {
	return e.Find(func(n *Element) bool { return n.attrs["id"] == id })
}

// FindByAttr returns the first descendant (or e itself) whose attribute
// name equals value.
func (e *Element) FindByAttr(name, value string) *Element {
	return e.Find(func(n *Element) bool {
		v, ok := n.attrs[name]
		return ok && v == value
	})
}

// Find returns the first node in depth-first order matching fn.
func (e *Element) Find(fn func(*Element) bool) *Element {
	var found *Element
	e.Walk(func(n *Element) bool {
		if fn(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

var voidTags = map[string]bool{"br": true, "img": true, "input": true, "hr": true, "meta": true, "link": true}

// WriteHTML serializes the subtree. Attributes are written in sorted order
// with style last so output is stable.
func (e *Element) WriteHTML(w io.Writer) error {
	var b strings.Builder
	e.writeHTML(&b)
	_, err := io.WriteString(w, b.String())
	return err
}

// OuterHTML returns the serialized subtree.
func (e *Element) OuterHTML() string {
	var b strings.Builder
	e.writeHTML(&b)
	return b.String()
}

func (e *Element) writeHTML(b *strings.Builder) {
	b.WriteString("<")
	b.WriteString(e.Tag)

	names := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(e.attrs[k]))
		b.WriteString(`"`)
	}
	if e.style.Len() > 0 {
		b.WriteString(` style="`)
		b.WriteString(html.EscapeString(e.style.CSSText()))
		b.WriteString(`"`)
	}
	b.WriteString(">")

	if voidTags[e.Tag] {
		return
	}
	b.WriteString(html.EscapeString(e.text))
	for _, c := range e.children {
		c.writeHTML(b)
	}
	b.WriteString("</")
	b.WriteString(e.Tag)
	b.WriteString(">")
}
