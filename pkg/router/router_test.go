package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/khattlab/khatt/pkg/core"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/protocol"
)

// MockComponent implements core.Component for testing. It renders a counter
// that the "inc" event bumps.
type MockComponent struct {
	core.BaseComponent

	mu           sync.Mutex
	count        int
	mountCalled  bool
	mountParams  core.Params
	terminated   chan core.TerminateReason
	requestReply chan map[string]any
}

func NewMockComponent() *MockComponent {
	return &MockComponent{
		terminated:   make(chan core.TerminateReason, 1),
		requestReply: make(chan map[string]any, 1),
	}
}

func (c *MockComponent) Name() string { return "MockComponent" }

func (c *MockComponent) Mount(ctx context.Context, params core.Params, session core.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mountCalled = true
	c.mountParams = params
	return nil
}

func (c *MockComponent) params() core.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mountParams
}

func (c *MockComponent) Render(ctx context.Context) core.Renderer {
	c.mu.Lock()
	n := c.count
	c.mu.Unlock()
	return core.RendererFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<div>count %d</div>", n)
		return err
	})
}

func (c *MockComponent) HandleEvent(ctx context.Context, event string, payload map[string]any) error {
	switch event {
	case "inc":
		c.mu.Lock()
		c.count++
		c.mu.Unlock()
	case "ask":
		socket := c.Socket()
		go func() {
			resp, err := socket.Request(context.Background(), "confirm", map[string]any{"q": "sure?"})
			if err != nil {
				resp = map[string]any{"error": err.Error()}
			}
			c.requestReply <- resp
		}()
	case "fail":
		return fmt.Errorf("event failed")
	}
	return nil
}

func (c *MockComponent) Terminate(ctx context.Context, reason core.TerminateReason) error {
	select {
	case c.terminated <- reason:
	default:
	}
	return nil
}

type nilRenderComponent struct{ core.BaseComponent }

func (nilRenderComponent) Name() string                            { return "nil" }
func (nilRenderComponent) Render(ctx context.Context) core.Renderer { return nil }

func TestRouter_Live_InitialHTTPRender(t *testing.T) {
	r := New()

	var component *MockComponent
	r.Live("/", func() core.Component {
		component = NewMockComponent()
		return component
	}, WithLayout(func(w io.Writer, p Page) error {
		_, err := fmt.Fprintf(w, "<html><body>%s</body></html>", p.Body)
		return err
	}))

	req := httptest.NewRequest(http.MethodGet, "/?font=thuluth", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !component.mountCalled {
		t.Error("expected Mount to be called")
	}
	if component.params().Get("font") != "thuluth" {
		t.Errorf("params not passed to Mount: %v", component.params())
	}
	if body := rec.Body.String(); body != "<html><body><div>count 0</div></body></html>" {
		t.Errorf("unexpected body %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected Content-Type text/html, got '%s'", ct)
	}
	select {
	case <-component.terminated:
	default:
		t.Error("throwaway component should be terminated after the HTTP render")
	}
}

func TestRouter_Live_ExactPath(t *testing.T) {
	r := New()
	r.Live("/", func() core.Component { return NewMockComponent() })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRouter_ErrorHandler(t *testing.T) {
	r := New()

	var got error
	r.SetErrorHandler(func(w http.ResponseWriter, req *http.Request, err error) {
		got = err
		http.Error(w, "Custom Error", http.StatusTeapot)
	})
	r.Live("/", func() core.Component { return &nilRenderComponent{} })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected custom status, got %d", rec.Code)
	}
	if got != ErrNilRenderer {
		t.Errorf("expected ErrNilRenderer, got %v", got)
	}
}

func TestRouter_Middleware(t *testing.T) {
	r := New()

	var order []string
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			order = append(order, "global")
			next.ServeHTTP(w, req)
		})
	})
	r.Live("/", func() core.Component { return NewMockComponent() },
		WithRouteMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				order = append(order, "route")
				next.ServeHTTP(w, req)
			})
		}))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "global,route" {
		t.Errorf("unexpected middleware order %v", order)
	}
}

func TestRouter_extractParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test?foo=bar&baz=123&vsn=json", nil)
	params := extractParams(req)

	if params["foo"] != "bar" || params["baz"] != "123" {
		t.Errorf("unexpected params %v", params)
	}
	if _, ok := params["vsn"]; ok {
		t.Error("codec selector should not reach the component")
	}
}

func TestRouter_isWebSocketRequest(t *testing.T) {
	tests := []struct {
		name     string
		upgrade  string
		expected bool
	}{
		{"WebSocket request", "websocket", true},
		{"WebSocket request uppercase", "WebSocket", true},
		{"Normal request", "", false},
		{"Other upgrade", "h2c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			if got := isWebSocketRequest(req); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// liveClient is a minimal JSON client for the live protocol.
type liveClient struct {
	t     *testing.T
	ctx   context.Context
	conn  *websocket.Conn
	codec protocol.Codec
}

func dialLive(t *testing.T, srv *httptest.Server) *liveClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/?vsn=json", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &liveClient{t: t, ctx: ctx, conn: conn, codec: protocol.NewJSONCodec()}
}

func (c *liveClient) send(msg *protocol.Message) {
	c.t.Helper()
	data, err := c.codec.Encode(msg)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *liveClient) read() *protocol.Message {
	c.t.Helper()
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestRouter_LiveSession(t *testing.T) {
	r := New(WithLogger(logging.NopLogger{}))
	component := NewMockComponent()
	r.Live("/", func() core.Component { return component })

	srv := httptest.NewServer(r)
	defer srv.Close()
	c := dialLive(t, srv)

	c.send(protocol.JoinMessage("lv:page", map[string]any{"viewport_width": 800}).WithRef("1"))
	join := c.read()
	if join.Type != protocol.MsgReply || join.Ref != "1" || join.Status() != protocol.StatusOK {
		t.Fatalf("unexpected join reply %+v", join)
	}
	if join.Response()["html"] != "<div>count 0</div>" {
		t.Errorf("unexpected join html %v", join.Response()["html"])
	}
	if component.params().Get("viewport_width") != "800" {
		t.Errorf("join payload not merged into params: %v", component.params())
	}

	c.send(protocol.EventMessage("lv:page", "inc", nil).WithRef("2"))
	render := c.read()
	if render.Type != protocol.MsgPush || render.Event != "render" || render.Topic != "lv:page" {
		t.Fatalf("expected render push, got %+v", render)
	}
	if render.GetPayloadString("html") != "<div>count 1</div>" {
		t.Errorf("unexpected render html %q", render.GetPayloadString("html"))
	}
	if ack := c.read(); ack.Ref != "2" || ack.Status() != protocol.StatusOK {
		t.Errorf("unexpected event reply %+v", ack)
	}

	// Nothing changed, so only the reply comes back.
	c.send(protocol.EventMessage("lv:page", "noop", nil).WithRef("3"))
	if ack := c.read(); ack.Type != protocol.MsgReply || ack.Ref != "3" {
		t.Errorf("expected bare reply, got %+v", ack)
	}

	c.send(protocol.EventMessage("lv:page", "fail", nil).WithRef("4"))
	if ack := c.read(); ack.Ref != "4" || ack.Status() != protocol.StatusError {
		t.Errorf("expected error reply, got %+v", ack)
	}

	c.send(protocol.HeartbeatMessage().WithRef("5"))
	if ack := c.read(); ack.Ref != "5" || ack.Status() != protocol.StatusOK {
		t.Errorf("unexpected heartbeat reply %+v", ack)
	}

	c.send(&protocol.Message{Type: protocol.MsgLeave, Topic: "lv:page"})
	select {
	case reason := <-component.terminated:
		if reason != core.TerminateNormal {
			t.Errorf("unexpected terminate reason %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("component not terminated on leave")
	}
}

func TestRouter_EventBeforeJoin(t *testing.T) {
	r := New()
	r.Live("/", func() core.Component { return NewMockComponent() })
	srv := httptest.NewServer(r)
	defer srv.Close()
	c := dialLive(t, srv)

	c.send(protocol.EventMessage("lv:page", "inc", nil).WithRef("1"))
	reply := c.read()
	if reply.Status() != protocol.StatusError || reply.Response()["reason"] != ErrNotJoined.Error() {
		t.Errorf("expected not-joined error, got %+v", reply)
	}
}

func TestRouter_ServerRequest(t *testing.T) {
	r := New()
	component := NewMockComponent()
	r.Live("/", func() core.Component { return component })
	srv := httptest.NewServer(r)
	defer srv.Close()
	c := dialLive(t, srv)

	c.send(protocol.JoinMessage("lv:page", nil).WithRef("1"))
	c.read()

	c.send(protocol.EventMessage("lv:page", "ask", nil))

	req := c.read()
	if req.Type != protocol.MsgPush || req.Event != "confirm" || req.Ref == "" {
		t.Fatalf("expected confirm request, got %+v", req)
	}
	c.send(protocol.OkReply(req.Ref, "lv:page", map[string]any{"answer": "yes"}))

	select {
	case resp := <-component.requestReply:
		if resp["answer"] != "yes" {
			t.Errorf("unexpected response %v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never resolved")
	}
}

func TestRouter_Refresh(t *testing.T) {
	r := New()
	component := NewMockComponent()
	r.Live("/", func() core.Component { return component })
	srv := httptest.NewServer(r)
	defer srv.Close()
	c := dialLive(t, srv)

	c.send(protocol.JoinMessage("lv:page", nil).WithRef("1"))
	join := c.read()
	socket, ok := r.SocketManager().Get(fmt.Sprint(join.Response()["socket_id"]))
	if !ok {
		t.Fatalf("socket %v not registered", join.Response()["socket_id"])
	}

	// State changed outside the event loop.
	component.mu.Lock()
	component.count = 7
	component.mu.Unlock()
	if err := socket.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	render := c.read()
	if render.Event != "render" || render.GetPayloadString("html") != "<div>count 7</div>" {
		t.Errorf("unexpected refresh push %+v", render)
	}
}

func TestRouter_Shutdown(t *testing.T) {
	r := New()
	component := NewMockComponent()
	r.Live("/", func() core.Component { return component })
	srv := httptest.NewServer(r)
	defer srv.Close()
	c := dialLive(t, srv)

	c.send(protocol.JoinMessage("lv:page", nil).WithRef("1"))
	c.read()

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case reason := <-component.terminated:
		if reason != core.TerminateShutdown {
			t.Errorf("unexpected reason %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("component not terminated on shutdown")
	}
	if r.Sessions().Count() != 0 || r.SocketManager().Count() != 0 {
		t.Error("sessions left after shutdown")
	}
}

func TestSessions(t *testing.T) {
	sm := NewSessions(SessionConfig{MaxSessions: 2})

	s1 := sm.Create("socket-1", NewMockComponent(), nil, nil)
	s1.lastActive = time.Now().Add(-time.Hour)
	sm.Create("socket-2", NewMockComponent(), nil, nil)

	if sm.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", sm.Count())
	}
	if session, ok := sm.GetBySocket("socket-1"); !ok || session.ID != s1.ID {
		t.Error("expected to find session by socket ID")
	}
	if stale := sm.Stale(time.Minute); len(stale) != 1 || stale[0] != s1 {
		t.Errorf("expected socket-1 stale, got %v", stale)
	}

	// The limit evicts the least recently active session.
	sm.Create("socket-3", NewMockComponent(), nil, nil)
	if _, ok := sm.Get(s1.ID); ok {
		t.Error("oldest session should be evicted")
	}
	if sm.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", sm.Count())
	}
}

func TestMiddleware_RequestIDAndSecureHeaders(t *testing.T) {
	var id, nonce string
	h := RequestID()(SecureHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = GetRequestID(r.Context())
		nonce = GetCSPNonce(r.Context())
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if id == "" || rec.Header().Get("X-Request-ID") != id {
		t.Errorf("request id not propagated: %q vs %q", id, rec.Header().Get("X-Request-ID"))
	}
	csp := rec.Header().Get("Content-Security-Policy")
	if nonce == "" || !strings.Contains(csp, "'nonce-"+nonce+"'") {
		t.Errorf("nonce %q missing from CSP %q", nonce, csp)
	}
	if !strings.Contains(csp, "blob:") {
		t.Error("CSP must allow blob: images for SVG downloads")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}
}

func TestMiddleware_RateLimit(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/upload/background", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %v", codes)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	h := Recovery(logging.NopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestLimiter_RefillAndPrune(t *testing.T) {
	l := &limiter{rate: 1, buckets: make(map[string]*bucket)}
	now := time.Now()

	if !l.allow("a", now) || l.allow("a", now) {
		t.Fatal("expected one request then a refusal")
	}
	if !l.allow("a", now.Add(time.Second)) {
		t.Error("bucket should refill after a second")
	}

	l.allow("b", now.Add(2*bucketIdle))
	if _, ok := l.buckets["a"]; ok {
		t.Error("idle bucket not pruned")
	}
	if len(l.buckets) != 1 {
		t.Errorf("buckets = %d, want 1", len(l.buckets))
	}
}
