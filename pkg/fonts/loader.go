package fonts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/style"
)

// ErrFontLoad is returned when a font file exists but cannot be parsed.
var ErrFontLoad = errors.New("font load failed")

// Loader loads font files on demand. Loading is best effort: a family that
// is unknown or whose file is missing resolves to the embedded fallback
// face so rendering can proceed, and its state is FontFallback.
type Loader struct {
	reg    *Registry
	dir    string
	logger logging.Logger

	readFile func(string) ([]byte, error)

	sources  map[string]*text.FontSource
	states   map[string]style.FontState
	inflight map[string]chan struct{}
	mu       sync.Mutex

	fallbackOnce sync.Once
	fallback     *text.FontSource
}

// NewLoader creates a loader reading font files from dir.
func NewLoader(reg *Registry, dir string, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Loader{
		reg:      reg,
		dir:      dir,
		logger:   logger,
		readFile: os.ReadFile,
		sources:  make(map[string]*text.FontSource),
		states:   make(map[string]style.FontState),
		inflight: make(map[string]chan struct{}),
	}
}

// Registry returns the registry the loader resolves against.
func (l *Loader) Registry() *Registry {
	return l.reg
}

// LoadFont loads the font behind a CSS font-family value. Concurrent calls
// for the same family share one load.
func (l *Loader) LoadFont(ctx context.Context, family string) error {
	key := PrimaryFamily(family)

	l.mu.Lock()
	if l.states[key].Settled() {
		l.mu.Unlock()
		return nil
	}
	if ch, ok := l.inflight[key]; ok {
		l.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	l.inflight[key] = ch
	l.states[key] = style.FontLoading
	l.mu.Unlock()

	src, err := l.load(key)

	l.mu.Lock()
	delete(l.inflight, key)
	switch {
	case err != nil:
		l.states[key] = style.FontNotLoaded
	case src == nil:
		l.states[key] = style.FontFallback
	default:
		l.states[key] = style.FontLoaded
		l.sources[key] = src
	}
	l.mu.Unlock()
	close(ch)

	return err
}

func (l *Loader) load(key string) (*text.FontSource, error) {
	f, ok := l.reg.byFamily[key]
	if !ok || f.File == "" {
		l.logger.Warn("unknown font family, using fallback", logging.String("family", key))
		return nil, nil
	}

	path := filepath.Join(l.dir, f.File)
	data, err := l.readFile(path)
	if err != nil {
		l.logger.Warn("font file unavailable, using fallback",
			logging.String("font", f.ID),
			logging.String("path", path),
			logging.Err(err),
		)
		return nil, nil
	}

	src, err := text.NewFontSource(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFontLoad, f.ID, err)
	}
	l.logger.Debug("font loaded", logging.String("font", f.ID), logging.Int("bytes", len(data)))
	return src, nil
}

// IsFontLoaded reports whether the family's own file is loaded.
func (l *Loader) IsFontLoaded(family string) bool {
	return l.State(family) == style.FontLoaded
}

// IsFontLoading reports whether a load of the family is in flight.
func (l *Loader) IsFontLoading(family string) bool {
	return l.State(family) == style.FontLoading
}

// State returns the loading state of the family.
func (l *Loader) State(family string) style.FontState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[PrimaryFamily(family)]
}

// Source returns the parsed font for the family, or the fallback when the
// family has no loaded file.
func (l *Loader) Source(family string) *text.FontSource {
	l.mu.Lock()
	src := l.sources[PrimaryFamily(family)]
	l.mu.Unlock()
	if src != nil {
		return src
	}
	return l.Fallback()
}

// Fallback returns the embedded Go Regular face.
func (l *Loader) Fallback() *text.FontSource {
	l.fallbackOnce.Do(func() {
		src, err := text.NewFontSource(goregular.TTF)
		if err != nil {
			l.logger.Error("fallback font unusable", logging.Err(err))
			return
		}
		l.fallback = src
	})
	return l.fallback
}
