package dom

import (
	"strings"
)

// Style is an ordered set of inline CSS declarations, the equivalent of an
// element's style attribute.
type Style struct {
	values map[string]string
	order  []string
}

// NewStyle creates an empty declaration block.
func NewStyle() *Style {
	return &Style{values: make(map[string]string)}
}

// ParseStyle parses a cssText string such as "color: red; padding: 4px".
func ParseStyle(css string) *Style {
	s := NewStyle()
	for _, decl := range splitDeclarations(css) {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		s.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return s
}

// splitDeclarations splits on semicolons outside parentheses and quotes, so
// data URLs inside url(...) survive.
func splitDeclarations(css string) []string {
	var out []string
	depth, start := 0, 0
	var quote rune
	for i, r := range css {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ';' && depth == 0:
			out = append(out, css[start:i])
			start = i + 1
		}
	}
	return append(out, css[start:])
}

// Set assigns a property. An empty value removes it, as in the browser.
func (s *Style) Set(name, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	if value == "" {
		s.Remove(name)
		return
	}
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = value
}

// Get returns the value of a property or the empty string.
func (s *Style) Get(name string) string {
	return s.values[strings.ToLower(name)]
}

// Has reports whether a property is declared.
func (s *Style) Has(name string) bool {
	_, ok := s.values[strings.ToLower(name)]
	return ok
}

// Remove deletes a property.
func (s *Style) Remove(name string) {
	name = strings.ToLower(name)
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of declarations.
func (s *Style) Len() int {
	return len(s.order)
}

// CSSText serializes the declarations in insertion order.
func (s *Style) CSSText() string {
	var b strings.Builder
	for i, name := range s.order {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(s.values[name])
		b.WriteString(";")
	}
	return b.String()
}

func (s *Style) clone() *Style {
	c := &Style{
		values: make(map[string]string, len(s.values)),
		order:  make([]string, len(s.order)),
	}
	copy(c.order, s.order)
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}
