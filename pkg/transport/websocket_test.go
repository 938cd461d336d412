package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/khattlab/khatt/pkg/protocol"
)

func TestWebSocket_OriginValidation(t *testing.T) {
	tests := []struct {
		name          string
		wsConfig      *WebSocketConfig
		origin        string
		host          string
		expectAllowed bool
	}{
		{"same-origin allowed", &WebSocketConfig{}, "https://example.com", "example.com", true},
		{"no origin allowed", &WebSocketConfig{}, "", "example.com", true},
		{"explicit origin allowed", &WebSocketConfig{AllowedOrigins: []string{"https://allowed.com"}}, "https://allowed.com", "example.com", true},
		{"origin not in list blocked", &WebSocketConfig{AllowedOrigins: []string{"https://allowed.com"}}, "https://attacker.com", "example.com", false},
		{"wildcard allows all", &WebSocketConfig{AllowedOrigins: []string{"*"}}, "https://any-site.com", "example.com", true},
		{"insecure dev mode allows all", &WebSocketConfig{InsecureDevMode: true}, "https://attacker.com", "example.com", true},
		{"cross-origin blocked by default", &WebSocketConfig{}, "https://other-site.com", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewWebSocketTransport(nil, tt.wsConfig, nil, nil)

			allowed := transport.isOriginAllowed(tt.origin, tt.host)
			if allowed != tt.expectAllowed {
				t.Errorf("isOriginAllowed(%q, %q) = %v, want %v",
					tt.origin, tt.host, allowed, tt.expectAllowed)
			}
		})
	}
}

func TestWebSocket_RejectsInvalidOrigin(t *testing.T) {
	transport := NewWebSocketTransport(nil, &WebSocketConfig{
		AllowedOrigins: []string{"https://allowed.com"},
	}, nil, nil)

	req := httptest.NewRequest("GET", "/live", nil)
	req.Header.Set("Origin", "https://attacker.com")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Host = "example.com"

	w := httptest.NewRecorder()
	err := transport.Upgrade(w, req)

	if !errors.Is(err, ErrOriginNotAllowed) {
		t.Errorf("Expected ErrOriginNotAllowed, got %v", err)
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

// echoServer upgrades every request and sends each received message back
// with the event renamed.
func echoServer(t *testing.T, codec protocol.Codec) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := NewWebSocketTransport(nil, nil, codec, nil)
		if err := tr.Upgrade(w, r); err != nil {
			return
		}
		go func() {
			for {
				select {
				case msg := <-tr.Receive():
					reply := msg.Clone()
					reply.Event = "echo:" + msg.Event
					tr.Send(reply)
				case <-tr.Done():
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocket_RoundTrip(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.NewJSONCodec(), protocol.NewMsgPackCodec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := echoServer(t, codec)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			out, err := codec.Encode(protocol.EventMessage("lv:1", "set", map[string]any{"field": "text"}))
			if err != nil {
				t.Fatal(err)
			}
			typ := websocket.MessageText
			if codec.Binary() {
				typ = websocket.MessageBinary
			}
			if err := conn.Write(ctx, typ, out); err != nil {
				t.Fatalf("write: %v", err)
			}

			gotType, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if gotType != typ {
				t.Errorf("frame type = %v, want %v", gotType, typ)
			}
			msg, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Event != "echo:set" || msg.GetPayloadString("field") != "text" {
				t.Errorf("unexpected echo: %+v", msg)
			}
		})
	}
}

func TestWebSocket_SendAfterClose(t *testing.T) {
	tr := NewWebSocketTransport(nil, nil, nil, nil)
	if err := tr.Send(protocol.HeartbeatMessage()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	tr.Close()
	tr.Close()
	select {
	case <-tr.Done():
	default:
		t.Error("Done should be closed")
	}
	if err := tr.PushMessage(protocol.HeartbeatMessage()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestTransportConfig_Defaults(t *testing.T) {
	c := (&TransportConfig{WriteTimeout: time.Second}).withDefaults()
	if c.WriteTimeout != time.Second {
		t.Errorf("explicit WriteTimeout overwritten: %v", c.WriteTimeout)
	}
	if c.MaxMessageSize != DefaultTransportConfig().MaxMessageSize {
		t.Errorf("MaxMessageSize = %d", c.MaxMessageSize)
	}
}
