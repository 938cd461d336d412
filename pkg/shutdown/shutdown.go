// Package shutdown runs the server's teardown hooks in order once the
// process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/khattlab/khatt/pkg/logging"
)

// Common shutdown errors.
var (
	ErrShutdownTimeout = errors.New("shutdown timed out")
	ErrAlreadyClosed   = errors.New("shutdown handler already closed")
)

// Hook priorities. Lower runs earlier.
const (
	// PriorityHTTP stops accepting requests and uploads.
	PriorityHTTP = 100
	// PrioritySessions terminates live sessions, which waits for running exports.
	PrioritySessions = 200
	// PrioritySinks flushes analytics after the last export recorded its event.
	PrioritySinks = 300
)

// Hook is one teardown step.
type Hook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// Handler collects hooks and runs them once.
type Handler struct {
	timeout time.Duration
	logger  logging.Logger

	mu     sync.Mutex
	hooks  []Hook
	closed bool
	done   chan struct{}
}

// NewHandler creates a handler whose hooks share one timeout.
func NewHandler(timeout time.Duration, logger logging.Logger) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a hook.
func (h *Handler) Register(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// RegisterFunc registers fn under name.
func (h *Handler) RegisterFunc(name string, priority int, fn func(ctx context.Context) error) {
	h.Register(Hook{Name: name, Priority: priority, Fn: fn})
}

// RegisterCloser registers anything with a Close method.
func (h *Handler) RegisterCloser(name string, priority int, c interface{ Close() error }) {
	h.RegisterFunc(name, priority, func(context.Context) error { return c.Close() })
}

// Wait blocks until ctx is done, typically a signal.NotifyContext, and
// then runs the hooks.
func (h *Handler) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-h.done:
		return nil
	}
	return h.Shutdown()
}

// Shutdown runs the hooks by priority. Hooks of equal priority keep their
// registration order. It stops early when the timeout expires.
func (h *Handler) Shutdown() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrAlreadyClosed
	}
	h.closed = true
	close(h.done)
	hooks := append([]Hook(nil), h.hooks...)
	h.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Priority < hooks[j].Priority
	})

	h.logger.Info("shutting down", logging.Int("hooks", len(hooks)), logging.Duration("timeout", h.timeout))

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var errs []error
	for _, hook := range hooks {
		start := time.Now()
		err := hook.Fn(ctx)
		if err != nil {
			h.logger.Warn("shutdown hook failed", logging.String("hook", hook.Name), logging.Err(err))
			errs = append(errs, err)
		} else {
			h.logger.Debug("shutdown hook done",
				logging.String("hook", hook.Name),
				logging.Duration("took", time.Since(start)),
			)
		}

		if ctx.Err() != nil {
			return errors.Join(append(errs, ErrShutdownTimeout)...)
		}
	}
	return errors.Join(errs...)
}

// Done is closed once shutdown started.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
