package style

import (
	"strings"
	"sync"
)

// Change describes one committed mutation of the model.
type Change struct {
	Version uint64
	Fields  []string
	Options Options
}

// Subscriber is called synchronously after every committed mutation.
type Subscriber func(Change)

// Model is the single source of truth for the style configuration. All
// mutations go through named setters so the mutual-exclusion rules are
// enforced in one place.
type Model struct {
	opts    Options
	version uint64
	subs    map[int]Subscriber
	nextSub int
	mu      sync.RWMutex
}

// NewModel creates a model holding the defaults.
func NewModel() *Model {
	return NewModelWith(Defaults())
}

// NewModelWith creates a model seeded with o.
func NewModelWith(o Options) *Model {
	if strings.TrimSpace(o.Text) == "" {
		o.Text = DefaultText
	}
	return &Model{
		opts: o,
		subs: make(map[int]Subscriber),
	}
}

// Snapshot returns the current options by value.
func (m *Model) Snapshot() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

// Version returns the number of committed mutations.
func (m *Model) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Subscribe registers fn and returns a function that removes it.
func (m *Model) Subscribe(fn Subscriber) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// update applies fn to a copy of the options and commits it. Subscribers
// are only notified when at least one field actually changed.
func (m *Model) update(fn func(o *Options)) {
	m.mu.Lock()
	next := m.opts
	fn(&next)
	changed := changedFields(m.opts, next)
	if len(changed) == 0 {
		m.mu.Unlock()
		return
	}
	m.opts = next
	m.version++
	change := Change{Version: m.version, Fields: changed, Options: next}
	subs := make([]Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s(change)
	}
}

// SetText stores text, coercing empty or whitespace-only input to DefaultText.
func (m *Model) SetText(text string) {
	if strings.TrimSpace(text) == "" {
		text = DefaultText
	}
	m.update(func(o *Options) { o.Text = text })
}

// SetFont selects a font. The loading state is carried over from ref.
func (m *Model) SetFont(ref FontRef) {
	m.update(func(o *Options) { o.Font = ref })
}

// SetFontState records the loading state of the font with the given id.
// Reports for a font that is no longer selected are ignored.
func (m *Model) SetFontState(id string, state FontState) {
	m.update(func(o *Options) {
		if o.Font.ID == id {
			o.Font.State = state
		}
	})
}

func (m *Model) SetFontSize(px float64) {
	m.update(func(o *Options) { o.FontSize = nonNegative(px) })
}

// SetFontWeight snaps w to the nearest offered weight.
func (m *Model) SetFontWeight(w int) {
	m.update(func(o *Options) { o.FontWeight = snapWeight(w) })
}

func (m *Model) SetFontStyle(s string) {
	m.update(func(o *Options) {
		if FontStyle(s) == FontStyleItalic {
			o.FontStyle = FontStyleItalic
		} else {
			o.FontStyle = FontStyleNormal
		}
	})
}

// SetTextColor accepts any string; bad colours are a rendering concern.
func (m *Model) SetTextColor(c string) {
	m.update(func(o *Options) { o.TextColor = c })
}

func (m *Model) SetGradientFrom(c string) {
	m.update(func(o *Options) { o.Gradient.From = c })
}

func (m *Model) SetGradientTo(c string) {
	m.update(func(o *Options) { o.Gradient.To = c })
}

// SetGradientEnabled switches between the gradient and the solid colour.
// Both colour values are retained.
func (m *Model) SetGradientEnabled(on bool) {
	m.update(func(o *Options) { o.GradientEnabled = on })
}

func (m *Model) SetShadowEnabled(on bool) {
	m.update(func(o *Options) { o.Shadow.Enabled = on })
}

func (m *Model) SetShadowOffsetX(px float64) {
	m.update(func(o *Options) { o.Shadow.OffsetX = px })
}

func (m *Model) SetShadowOffsetY(px float64) {
	m.update(func(o *Options) { o.Shadow.OffsetY = px })
}

func (m *Model) SetShadowBlur(px float64) {
	m.update(func(o *Options) { o.Shadow.Blur = nonNegative(px) })
}

func (m *Model) SetShadowColor(c string) {
	m.update(func(o *Options) { o.Shadow.Color = c })
}

// SetShadowOpacity clamps a to [0, 1].
func (m *Model) SetShadowOpacity(a float64) {
	m.update(func(o *Options) { o.Shadow.Opacity = clamp01(a) })
}

func (m *Model) SetBackgroundColor(c string) {
	m.update(func(o *Options) { o.BackgroundColor = c })
}

// SetBackgroundImage stores an uploaded image as a data URL. A non-empty
// image deactivates any built-in pattern.
func (m *Model) SetBackgroundImage(dataURL string) {
	m.update(func(o *Options) {
		o.BackgroundImage = dataURL
		if dataURL != "" {
			o.BackgroundPattern = PatternNone
		}
	})
}

// ClearBackgroundImage removes the uploaded image.
func (m *Model) ClearBackgroundImage() {
	m.SetBackgroundImage("")
}

// SetBackgroundPattern selects a built-in pattern. Selecting anything other
// than PatternNone clears the uploaded image.
func (m *Model) SetBackgroundPattern(id string) {
	if id == "" {
		id = PatternNone
	}
	m.update(func(o *Options) {
		o.BackgroundPattern = id
		if id != PatternNone {
			o.BackgroundImage = ""
		}
	})
}

func (m *Model) SetAlignment(a string) {
	m.update(func(o *Options) {
		switch Alignment(a) {
		case AlignLeft, AlignRight, AlignCenter:
			o.Alignment = Alignment(a)
		default:
			o.Alignment = AlignCenter
		}
	})
}

func (m *Model) SetLetterSpacing(px float64) {
	m.update(func(o *Options) { o.LetterSpacing = px })
}

func (m *Model) SetLineHeight(mult float64) {
	m.update(func(o *Options) { o.LineHeight = nonNegative(mult) })
}

func (m *Model) SetBorderEnabled(on bool) {
	m.update(func(o *Options) { o.Border.Enabled = on })
}

func (m *Model) SetBorderColor(c string) {
	m.update(func(o *Options) { o.Border.Color = c })
}

func (m *Model) SetBorderWidth(px float64) {
	m.update(func(o *Options) { o.Border.Width = nonNegative(px) })
}

func (m *Model) SetBorderRadius(px float64) {
	m.update(func(o *Options) { o.Border.Radius = nonNegative(px) })
}

func (m *Model) SetPadding(px float64) {
	m.update(func(o *Options) { o.Padding = nonNegative(px) })
}

func (m *Model) SetKashidaEnabled(on bool) {
	m.update(func(o *Options) { o.Kashida.Enabled = on })
}

// SetKashidaLength sets how many tatweel characters are inserted per gap.
func (m *Model) SetKashidaLength(n int) {
	if n < 0 {
		n = 0
	}
	m.update(func(o *Options) { o.Kashida.Length = n })
}

// Reset restores every field to its default in a single mutation. The
// loading state of the default font is kept if it was already known.
func (m *Model) Reset() {
	m.update(func(o *Options) {
		d := Defaults()
		if o.Font.ID == d.Font.ID {
			d.Font.State = o.Font.State
		}
		*o = d
	})
}

// Apply runs several setters as one mutation with one notification.
func (m *Model) Apply(fn func(o *Options)) {
	m.update(func(o *Options) {
		fn(o)
		if strings.TrimSpace(o.Text) == "" {
			o.Text = DefaultText
		}
		if o.BackgroundImage != "" && o.BackgroundPattern != PatternNone {
			o.BackgroundPattern = PatternNone
		}
		if o.BackgroundPattern == "" {
			o.BackgroundPattern = PatternNone
		}
	})
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
