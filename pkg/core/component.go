// Package core defines the live component contract. A component lives on
// the server, one per open page, and is rendered again after every event
// the page sends it.
package core

import (
	"context"
	"io"
)

// Component is the server side of one live page.
type Component interface {
	Name() string

	// Mount runs once per page, before the first render. On the initial
	// HTTP render there is no socket.
	Mount(ctx context.Context, params Params, session Session) error

	Render(ctx context.Context) Renderer

	// HandleEvent applies one page event. The router re-renders afterwards
	// and pushes the result if the markup changed.
	HandleEvent(ctx context.Context, event string, payload map[string]any) error

	// Terminate releases what Mount acquired.
	Terminate(ctx context.Context, reason TerminateReason) error
}

// SocketAware components are handed their socket before Mount.
type SocketAware interface {
	SetSocket(s *Socket)
}

// Renderer writes markup.
type Renderer interface {
	Render(ctx context.Context, w io.Writer) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, w io.Writer) error

func (f RendererFunc) Render(ctx context.Context, w io.Writer) error { return f(ctx, w) }

// Params holds the page query and the join payload, flattened to strings.
type Params map[string]string

func (p Params) Get(key string) string { return p[key] }

// GetDefault returns def when key is absent or empty.
func (p Params) GetDefault(key, def string) string {
	if v := p[key]; v != "" {
		return v
	}
	return def
}

// Session carries per-visitor values from the HTTP request.
type Session map[string]any

func (s Session) GetString(key string) string {
	v, _ := s[key].(string)
	return v
}

// TerminateReason says why a component is torn down.
type TerminateReason int

const (
	TerminateNormal   TerminateReason = iota // page closed or navigated away
	TerminateShutdown                        // server shutting down
	TerminateError                           // transport failure
	TerminateTimeout                         // idle past the session timeout
)

var terminateNames = [...]string{"normal", "shutdown", "error", "timeout"}

func (r TerminateReason) String() string {
	if r < 0 || int(r) >= len(terminateNames) {
		return "unknown"
	}
	return terminateNames[r]
}

// BaseComponent gives a component its socket and no-op lifecycle hooks.
type BaseComponent struct {
	socket *Socket
}

func (b *BaseComponent) SetSocket(s *Socket) { b.socket = s }
func (b *BaseComponent) Socket() *Socket     { return b.socket }

func (b *BaseComponent) Mount(context.Context, Params, Session) error { return nil }

func (b *BaseComponent) HandleEvent(context.Context, string, map[string]any) error { return nil }

func (b *BaseComponent) Terminate(context.Context, TerminateReason) error { return nil }
