package dom

import "sync"

// Document owns a body element. Structural changes to the body and reads of
// the live tree are serialized through the document lock.
type Document struct {
	body *Element
	mu   sync.RWMutex
}

// NewDocument creates a document with an empty body.
func NewDocument() *Document {
	d := &Document{body: NewElement("body")}
	d.body.doc = d
	return d
}

// Body returns the body element. Callers touching the live tree from more
// than one goroutine must go through Update or View.
func (d *Document) Body() *Element {
	return d.body
}

// Append attaches e to the body.
func (d *Document) Append(e *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.body.AppendChild(e)
}

// RemoveChild detaches e from the body. It reports whether e was attached.
func (d *Document) RemoveChild(e *Element) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.body.removeChild(e)
}

// NodeCount returns the number of elements in the document, body included.
func (d *Document) NodeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.body.Count()
}

// GetElementByID looks up an element anywhere in the body.
func (d *Document) GetElementByID(id string) *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.body.FindByID(id)
}

// Update runs fn with exclusive access to the tree.
func (d *Document) Update(fn func(body *Element)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.body)
}

// View runs fn with shared access to the tree.
func (d *Document) View(fn func(body *Element)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.body)
}
