// Package router serves live components over HTTP: the first request gets a
// server-rendered page, then the page opens a WebSocket on the same path and
// every event it sends is handled and answered with a fresh render.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khattlab/khatt/pkg/core"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/protocol"
	"github.com/khattlab/khatt/pkg/transport"
)

// Common router errors.
var (
	ErrNilRenderer   = errors.New("component returned nil renderer")
	ErrNotJoined     = errors.New("session has not joined")
	ErrSessionClosed = errors.New("session closed")
)

// Router handles HTTP and WebSocket routing for live components.
type Router struct {
	mux          *http.ServeMux
	liveRoutes   map[string]*LiveRoute
	middleware   []Middleware
	errorHandler ErrorHandler

	sessions       *Sessions
	socketManager  *core.SocketManager

	codecs      *protocol.Codecs
	dispatcher  *protocol.Dispatcher
	timeouts    core.TimeoutConfig
	transport   *transport.TransportConfig
	wsConfig    *transport.WebSocketConfig
	logger      logging.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once

	mu sync.RWMutex
}

// LiveRoute defines a route that renders a live component.
type LiveRoute struct {
	// Path is the URL path. It matches exactly.
	Path string

	// Component is the factory function for creating the component.
	Component func() core.Component

	// Layout wraps the first render into a full page.
	Layout Layout

	// Middleware are route-specific middleware.
	Middleware []Middleware
}

// Page is what a layout receives for the initial HTTP render.
type Page struct {
	Path string
	Body string
	// Nonce is the CSP nonce for inline scripts and styles, if any.
	Nonce string
}

// Layout renders the full HTML document around a component's first render.
type Layout func(w io.Writer, p Page) error

// Middleware is a function that wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// ErrorHandler handles errors during request processing.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithTimeouts sets the live session timeouts.
func WithTimeouts(t core.TimeoutConfig) Option {
	return func(r *Router) { r.timeouts = t }
}

// WithTransportConfig sets the WebSocket transport limits.
func WithTransportConfig(c *transport.TransportConfig) Option {
	return func(r *Router) { r.transport = c }
}

// WithWebSocketConfig sets the WebSocket origin policy.
func WithWebSocketConfig(c *transport.WebSocketConfig) Option {
	return func(r *Router) { r.wsConfig = c }
}

// WithSessionConfig sets session limits.
func WithSessionConfig(c SessionConfig) Option {
	return func(r *Router) { r.sessions = NewSessions(c) }
}

// New creates a new router.
func New(opts ...Option) *Router {
	r := &Router{
		mux:            http.NewServeMux(),
		liveRoutes:     make(map[string]*LiveRoute),
		sessions:       NewSessions(DefaultSessionConfig()),
		socketManager:  core.NewSocketManager(),
		codecs:         protocol.StandardCodecs(),
		timeouts:       core.DefaultTimeoutConfig(),
		logger:         logging.NopLogger{},
		stopCleanup:    make(chan struct{}),
		errorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.dispatcher = protocol.NewDispatcher()
	r.dispatcher.SetTimeout(r.timeouts.ComponentEvent)
	r.dispatcher.Use(protocol.LoggingMiddleware(r.logger))
	r.dispatcher.RegisterFunc(protocol.MsgJoin, r.handleJoin)
	r.dispatcher.RegisterFunc(protocol.MsgEvent, r.handleEvent)
	r.dispatcher.RegisterFunc(protocol.MsgReply, r.handleClientReply)
	r.dispatcher.RegisterFunc(protocol.MsgHeartbeat, r.handleHeartbeat)
	r.dispatcher.RegisterFunc(protocol.MsgLeave, r.handleLeave)

	return r
}

// Use adds middleware to the router.
func (r *Router) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// SetErrorHandler sets the error handler.
func (r *Router) SetErrorHandler(handler ErrorHandler) {
	r.errorHandler = handler
}

// Sessions returns the live sessions.
func (r *Router) Sessions() *Sessions {
	return r.sessions
}

// SocketManager returns the socket manager.
func (r *Router) SocketManager() *core.SocketManager {
	return r.socketManager
}

// Live registers a live component at path.
func (r *Router) Live(path string, component func() core.Component, opts ...RouteOption) {
	route := &LiveRoute{
		Path:      path,
		Component: component,
	}
	for _, opt := range opts {
		opt(route)
	}

	r.mu.Lock()
	r.liveRoutes[path] = route
	r.mu.Unlock()

	r.mux.Handle(path, r.handleLive(route))
}

// Handle registers a plain HTTP handler.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleLive(route *LiveRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != route.Path {
			http.NotFound(w, req)
			return
		}

		var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if isWebSocketRequest(req) {
				r.handleWebSocket(w, req, route)
				return
			}
			r.renderLive(w, req, route)
		})

		for i := len(route.Middleware) - 1; i >= 0; i-- {
			handler = route.Middleware[i](handler)
		}

		r.mu.RLock()
		middleware := make([]Middleware, len(r.middleware))
		copy(middleware, r.middleware)
		r.mu.RUnlock()

		for i := len(middleware) - 1; i >= 0; i-- {
			handler = middleware[i](handler)
		}

		handler.ServeHTTP(w, req)
	}
}

// renderLive mounts a throwaway component instance and writes its first
// render inside the route layout.
func (r *Router) renderLive(w http.ResponseWriter, req *http.Request, route *LiveRoute) {
	component := route.Component()
	params := extractParams(req)
	session := r.extractSession(req)

	ctx, cancel := context.WithTimeout(req.Context(), r.timeouts.ComponentMount)
	defer cancel()
	ctx = core.BuildContext(ctx, nil, session, params)

	if err := component.Mount(ctx, params, session); err != nil {
		r.errorHandler(w, req, err)
		return
	}
	defer component.Terminate(context.Background(), core.TerminateNormal)

	body, err := renderToString(ctx, component)
	if err != nil {
		r.errorHandler(w, req, err)
		return
	}

	var page bytes.Buffer
	if route.Layout != nil {
		err = route.Layout(&page, Page{Path: route.Path, Body: body, Nonce: GetCSPNonce(req.Context())})
	} else {
		_, err = page.WriteString(body)
	}
	if err != nil {
		r.errorHandler(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page.Bytes())
}

// handleWebSocket upgrades the request and starts the session loop.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request, route *LiveRoute) {
	codec, err := r.codecs.Negotiate(req.URL.Query().Get("vsn"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws := transport.NewWebSocketTransport(r.transport, r.wsConfig, codec, r.logger)
	if err := ws.Upgrade(w, req); err != nil {
		r.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}

	socketID := uuid.NewString()
	socket := core.NewSocket(socketID, ws)
	component := route.Component()
	if sa, ok := component.(core.SocketAware); ok {
		sa.SetSocket(socket)
	}

	lv := r.sessions.Create(socketID, component, extractParams(req), r.extractSession(req))
	lv.Socket = socket
	lv.Transport = ws
	lv.Topic = socket.Topic()
	r.socketManager.Add(socket)
	socket.SetRefresh(func() error {
		if !lv.Mounted() {
			return nil
		}
		return r.renderAndPush(core.BuildContext(context.Background(), socket, lv.Session, lv.Params), lv)
	})

	r.logger.Debug("live session opened",
		logging.String("socket_id", socketID),
		logging.String("codec", codec.Name()),
	)

	// The connection outlives the upgrade request, so the loop gets its own
	// context rather than req.Context().
	ctx, cancel := context.WithCancel(context.Background())
	lv.cancel = cancel
	go r.messageLoop(ctx, lv)
}

// messageLoop processes incoming messages until the transport closes.
func (r *Router) messageLoop(ctx context.Context, lv *LiveSession) {
	recvCh := lv.Transport.Receive()
	done := lv.Transport.Done()

	for {
		select {
		case msg := <-recvCh:
			lv.Touch()
			lv.Socket.UpdateActivity()

			reply, err := r.dispatcher.Dispatch(withLiveSession(ctx, lv), msg)
			if err != nil {
				r.sendError(lv, msg, err)
			} else if reply != nil {
				lv.Socket.Send(reply)
			}

			if msg.Type == protocol.MsgLeave {
				return
			}

		case <-done:
			r.disconnect(lv, core.TerminateNormal)
			return

		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) handleJoin(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	lv := liveSessionFrom(ctx)
	if lv == nil {
		return nil, ErrSessionClosed
	}

	if msg.Topic != "" {
		lv.Socket.SetTopic(msg.Topic)
		lv.Topic = msg.Topic
	}

	if !lv.Mounted() {
		for k, v := range msg.Payload {
			lv.Params[k] = fmt.Sprint(v)
		}

		mctx, cancel := context.WithTimeout(ctx, r.timeouts.ComponentMount)
		defer cancel()
		mctx = core.BuildContext(mctx, lv.Socket, lv.Session, lv.Params)

		if err := lv.Component.Mount(mctx, lv.Params, lv.Session); err != nil {
			return nil, fmt.Errorf("mount: %w", err)
		}
		lv.setMounted()
	}

	lv.renderMu.Lock()
	defer lv.renderMu.Unlock()
	html, err := renderToString(core.BuildContext(ctx, lv.Socket, lv.Session, lv.Params), lv.Component)
	if err != nil {
		return nil, err
	}
	lv.swapRenderHash(hashContent(html))

	return protocol.OkReply(msg.Ref, lv.Socket.Topic(), map[string]any{
		"html":      html,
		"socket_id": lv.SocketID,
	}), nil
}

func (r *Router) handleEvent(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	lv := liveSessionFrom(ctx)
	if lv == nil {
		return nil, ErrSessionClosed
	}
	if !lv.Mounted() {
		return nil, ErrNotJoined
	}

	payload := msg.Payload
	if payload == nil {
		payload = make(map[string]any)
	}

	cctx := core.BuildContext(ctx, lv.Socket, lv.Session, lv.Params)
	if err := lv.Component.HandleEvent(cctx, msg.Event, payload); err != nil {
		return nil, err
	}
	if err := r.renderAndPush(cctx, lv); err != nil {
		return nil, err
	}

	if msg.Ref == "" {
		return nil, nil
	}
	return protocol.OkReply(msg.Ref, lv.Socket.Topic(), nil), nil
}

// handleClientReply routes the page's answer to a server request.
func (r *Router) handleClientReply(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	lv := liveSessionFrom(ctx)
	if lv == nil {
		return nil, ErrSessionClosed
	}
	if !lv.Socket.Resolve(msg) {
		r.logger.Debug("reply without pending request", logging.String("ref", msg.Ref))
	}
	return nil, nil
}

func (r *Router) handleHeartbeat(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	topic := msg.Topic
	if lv := liveSessionFrom(ctx); lv != nil {
		topic = lv.Socket.Topic()
	}
	return protocol.OkReply(msg.Ref, topic, nil), nil
}

func (r *Router) handleLeave(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	lv := liveSessionFrom(ctx)
	if lv == nil {
		return nil, nil
	}
	r.disconnect(lv, core.TerminateNormal)
	return nil, nil
}

// renderAndPush renders the component and pushes the HTML unless it is
// identical to the last render the client saw.
func (r *Router) renderAndPush(ctx context.Context, lv *LiveSession) error {
	lv.renderMu.Lock()
	defer lv.renderMu.Unlock()

	html, err := renderToString(ctx, lv.Component)
	if err != nil {
		return err
	}

	if !lv.swapRenderHash(hashContent(html)) {
		return nil
	}
	if err := lv.Socket.Push("render", map[string]any{"html": html}); err != nil {
		// Forget the hash so the next render is pushed again.
		lv.swapRenderHash(0)
		return err
	}
	return nil
}

func renderToString(ctx context.Context, component core.Component) (string, error) {
	renderer := component.Render(ctx)
	if renderer == nil {
		return "", ErrNilRenderer
	}
	var buf bytes.Buffer
	if err := renderer.Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return buf.String(), nil
}

func hashContent(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	return h.Sum64()
}

// disconnect terminates the component and releases the session once.
func (r *Router) disconnect(lv *LiveSession, reason core.TerminateReason) {
	lv.closed.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeouts.ComponentEvent)
		defer cancel()
		if lv.Mounted() {
			if err := lv.Component.Terminate(ctx, reason); err != nil {
				r.logger.Warn("terminate failed", logging.String("socket_id", lv.SocketID), logging.Err(err))
			}
		}

		r.sessions.Remove(lv.ID)
		r.socketManager.Remove(lv.SocketID)
		lv.Socket.Close()
		if lv.cancel != nil {
			lv.cancel()
		}

		r.logger.Debug("live session closed",
			logging.String("socket_id", lv.SocketID),
			logging.String("reason", reason.String()),
		)
	})
}

// sendError answers a failed message. Messages with a ref get an error reply,
// the rest a protocol error push.
func (r *Router) sendError(lv *LiveSession, msg *protocol.Message, err error) {
	topic := lv.Socket.Topic()
	if msg.Ref != "" {
		lv.Socket.Send(protocol.ErrorReply(msg.Ref, topic, err.Error()))
		return
	}
	lv.Socket.Send(protocol.ErrorMessage("", topic, err.Error()))
}

// StartCleanup closes sessions idle longer than the configured timeout,
// checking every SessionCleanup interval until Shutdown.
func (r *Router) StartCleanup() {
	ticker := time.NewTicker(r.timeouts.SessionCleanup)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, lv := range r.sessions.Stale(r.timeouts.SessionIdle) {
					r.disconnect(lv, core.TerminateTimeout)
				}
			case <-r.stopCleanup:
				return
			}
		}
	}()
}

// Shutdown terminates every live session.
func (r *Router) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCleanup) })

	for _, lv := range r.sessions.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.disconnect(lv, core.TerminateShutdown)
	}
	return r.socketManager.Shutdown(ctx)
}

// extractSession extracts per-visitor data from the request.
func (r *Router) extractSession(req *http.Request) core.Session {
	session := make(core.Session)
	if id := GetRequestID(req.Context()); id != "" {
		session["request_id"] = id
	}
	for _, cookie := range req.Cookies() {
		session["cookie:"+cookie.Name] = cookie.Value
	}
	return session
}

// extractParams extracts query parameters.
func extractParams(req *http.Request) core.Params {
	params := make(core.Params)
	for key, values := range req.URL.Query() {
		if len(values) > 0 && key != "vsn" {
			params[key] = values[0]
		}
	}
	return params
}

func isWebSocketRequest(req *http.Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get("Upgrade")), "websocket")
}

// RouteOption configures a LiveRoute.
type RouteOption func(*LiveRoute)

// WithLayout sets the page layout for the initial render.
func WithLayout(layout Layout) RouteOption {
	return func(r *LiveRoute) {
		r.Layout = layout
	}
}

// WithRouteMiddleware adds middleware to a single route.
func WithRouteMiddleware(mw ...Middleware) RouteOption {
	return func(r *LiveRoute) {
		r.Middleware = append(r.Middleware, mw...)
	}
}

type liveSessionKey struct{}

func withLiveSession(ctx context.Context, lv *LiveSession) context.Context {
	return context.WithValue(ctx, liveSessionKey{}, lv)
}

func liveSessionFrom(ctx context.Context) *LiveSession {
	lv, _ := ctx.Value(liveSessionKey{}).(*LiveSession)
	return lv
}
