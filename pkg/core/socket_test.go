package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/khattlab/khatt/pkg/protocol"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	connected bool
	messages  []*protocol.Message
	sent      chan *protocol.Message
	mu        sync.Mutex
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		sent:      make(chan *protocol.Message, 16),
	}
}

func (m *MockTransport) Send(msg *protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrSocketClosed
	}
	m.messages = append(m.messages, msg)
	select {
	case m.sent <- msg:
	default:
	}
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTransport) Messages() []*protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*protocol.Message(nil), m.messages...)
}

func TestNewSocket(t *testing.T) {
	socket := NewSocket("test-id", NewMockTransport())

	if socket.ID() != "test-id" {
		t.Errorf("expected ID 'test-id', got '%s'", socket.ID())
	}
	if socket.Topic() != "lv:test-id" {
		t.Errorf("expected topic 'lv:test-id', got '%s'", socket.Topic())
	}
	if !socket.IsConnected() {
		t.Error("expected socket to be connected")
	}
}

func TestSocket_Push(t *testing.T) {
	transport := NewMockTransport()
	socket := NewSocket("test-id", transport)

	if err := socket.Push("render", map[string]any{"html": "<div></div>"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := transport.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Type != protocol.MsgPush || msgs[0].Event != "render" || msgs[0].Topic != "lv:test-id" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestSocket_SendAfterClose(t *testing.T) {
	socket := NewSocket("test-id", NewMockTransport())
	socket.Close()

	if err := socket.Push("render", nil); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("expected ErrSocketClosed, got %v", err)
	}
	if socket.IsConnected() {
		t.Error("closed socket reports connected")
	}
}

func TestSocket_Request(t *testing.T) {
	tests := []struct {
		name     string
		reply    func(ref, topic string) *protocol.Message
		wantErr  bool
		wantName string
	}{
		{
			name: "ok",
			reply: func(ref, topic string) *protocol.Message {
				return protocol.OkReply(ref, topic, map[string]any{"can_share": true})
			},
		},
		{
			name: "rejected with name",
			reply: func(ref, topic string) *protocol.Message {
				return protocol.ReplyMessage(ref, topic, protocol.StatusError, map[string]any{
					"name":   "NotAllowedError",
					"reason": "denied",
				})
			},
			wantErr:  true,
			wantName: "NotAllowedError",
		},
		{
			name: "rejected without detail",
			reply: func(ref, topic string) *protocol.Message {
				return protocol.ReplyMessage(ref, topic, protocol.StatusError, nil)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			socket := NewSocket("test-id", transport)

			go func() {
				msg := <-transport.sent
				socket.Resolve(tt.reply(msg.Ref, msg.Topic))
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			resp, err := socket.Request(ctx, "can_share", map[string]any{"files": 1})

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if resp["can_share"] != true {
					t.Errorf("unexpected response: %v", resp)
				}
			} else {
				var re *ReplyError
				if !errors.As(err, &re) {
					t.Fatalf("expected ReplyError, got %v", err)
				}
				if re.Name != tt.wantName {
					t.Errorf("Name = %q, want %q", re.Name, tt.wantName)
				}
				if re.Error() == "" {
					t.Error("empty error text")
				}
			}
			if socket.Pending() != 0 {
				t.Errorf("pending = %d after reply", socket.Pending())
			}
		})
	}
}

func TestSocket_RequestRefsAreUnique(t *testing.T) {
	transport := NewMockTransport()
	socket := NewSocket("test-id", transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	socket.Request(ctx, "a", nil)
	socket.Request(ctx, "b", nil)

	msgs := transport.Messages()
	if len(msgs) != 2 || msgs[0].Ref == "" || msgs[0].Ref == msgs[1].Ref {
		t.Errorf("refs not unique: %+v", msgs)
	}
}

func TestSocket_RequestTimeout(t *testing.T) {
	socket := NewSocket("test-id", NewMockTransport())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := socket.Request(ctx, "clipboard", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if socket.Pending() != 0 {
		t.Errorf("pending = %d after timeout", socket.Pending())
	}
}

func TestSocket_CloseFailsPending(t *testing.T) {
	transport := NewMockTransport()
	socket := NewSocket("test-id", transport)

	go func() {
		<-transport.sent
		socket.Close()
	}()

	_, err := socket.Request(context.Background(), "share", nil)
	if !errors.Is(err, ErrSocketClosed) {
		t.Errorf("expected ErrSocketClosed, got %v", err)
	}
}

func TestSocket_Refresh(t *testing.T) {
	socket := NewSocket("test-id", NewMockTransport())
	if err := socket.Refresh(); err != nil {
		t.Errorf("refresh without hook: %v", err)
	}

	calls := 0
	socket.SetRefresh(func() error { calls++; return nil })
	socket.Refresh()
	if calls != 1 {
		t.Errorf("refresh hook called %d times", calls)
	}

	socket.Close()
	if err := socket.Refresh(); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("expected ErrSocketClosed, got %v", err)
	}
}

func TestSocket_ResolveUnknownRef(t *testing.T) {
	socket := NewSocket("test-id", NewMockTransport())
	if socket.Resolve(protocol.OkReply("nope", "lv:test-id", nil)) {
		t.Error("resolved a reply nobody waits for")
	}
}

func TestSocketManager(t *testing.T) {
	sm := NewSocketManager()

	s1 := NewSocket("s1", NewMockTransport())
	s2 := NewSocket("s2", NewMockTransport())
	sm.Add(s1)
	sm.Add(s2)

	if sm.Count() != 2 {
		t.Errorf("expected 2 sockets, got %d", sm.Count())
	}
	if got, ok := sm.Get("s1"); !ok || got != s1 {
		t.Error("expected to find s1")
	}

	sm.Remove("s1")
	if _, ok := sm.Get("s1"); ok {
		t.Error("s1 should be removed")
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !sm.IsShutdown() || sm.Count() != 0 || s2.IsConnected() {
		t.Error("shutdown should close and remove every socket")
	}
}

func TestSocketManager_CleanupInactive(t *testing.T) {
	sm := NewSocketManager()

	stale := NewSocket("stale", NewMockTransport())
	stale.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())
	fresh := NewSocket("fresh", NewMockTransport())
	sm.Add(stale)
	sm.Add(fresh)

	if removed := sm.CleanupInactive(time.Minute); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, ok := sm.Get("fresh"); !ok {
		t.Error("fresh socket removed")
	}
	if stale.IsConnected() {
		t.Error("stale socket should be closed")
	}
}

func TestTimeoutConfig_Validate(t *testing.T) {
	if err := DefaultTimeoutConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	c := DefaultTimeoutConfig()
	c.Request = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for zero request timeout")
	}
}

func TestBuildContext(t *testing.T) {
	socket := NewSocket("ctx", NewMockTransport())
	ctx := BuildContext(context.Background(), socket, Session{"id": "v1"}, Params{"dpr": "2"})

	if SocketFromContext(ctx) != socket {
		t.Error("socket missing from context")
	}
	if SessionFromContext(ctx).GetString("id") != "v1" {
		t.Error("session missing from context")
	}
	if ParamsFromContext(ctx).GetDefault("dpr", "1") != "2" {
		t.Error("params missing from context")
	}
}
