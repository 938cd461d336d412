// Package transport carries protocol messages between the generator page and
// the server. WebSocket is the only transport.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/khattlab/khatt/pkg/protocol"
)

// Common transport errors.
var (
	ErrNotConnected     = errors.New("transport not connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send timeout")
	ErrTransportFull    = errors.New("transport buffer full")
)

// Transport is a bidirectional message stream to one client.
type Transport interface {
	// Send queues a message for the client.
	Send(msg *protocol.Message) error

	// Receive returns a channel for incoming messages.
	Receive() <-chan *protocol.Message

	// Done is closed once the connection is gone.
	Done() <-chan struct{}

	Close() error
	IsConnected() bool
}

// TransportConfig holds common transport configuration.
type TransportConfig struct {
	// ReadTimeout is the longest the client may stay silent. The page sends
	// a heartbeat well inside it.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for a write
	WriteTimeout time.Duration

	// PingInterval is how often to send protocol-level pings
	PingInterval time.Duration

	// MaxMessageSize is the maximum inbound frame size in bytes. Uploaded
	// backgrounds travel as data URLs, so it must exceed the upload limit.
	MaxMessageSize int64

	// SendBufferSize is the size of the send channel buffer
	SendBufferSize int

	// ReceiveBufferSize is the size of the receive channel buffer
	ReceiveBufferSize int
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    16 << 20,
		SendBufferSize:    64,
		ReceiveBufferSize: 64,
	}
}

func (c *TransportConfig) withDefaults() *TransportConfig {
	d := DefaultTransportConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.PingInterval <= 0 {
		out.PingInterval = d.PingInterval
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.SendBufferSize <= 0 {
		out.SendBufferSize = d.SendBufferSize
	}
	if out.ReceiveBufferSize <= 0 {
		out.ReceiveBufferSize = d.ReceiveBufferSize
	}
	return &out
}

// BaseTransport provides the channels and connection state shared by
// transports.
type BaseTransport struct {
	config    *TransportConfig
	connected bool
	sendCh    chan *protocol.Message
	recvCh    chan *protocol.Message
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewBaseTransport creates a new base transport.
func NewBaseTransport(config *TransportConfig) *BaseTransport {
	config = config.withDefaults()
	return &BaseTransport{
		config:  config,
		sendCh:  make(chan *protocol.Message, config.SendBufferSize),
		recvCh:  make(chan *protocol.Message, config.ReceiveBufferSize),
		closeCh: make(chan struct{}),
	}
}

// Config returns the transport configuration.
func (t *BaseTransport) Config() *TransportConfig {
	return t.config
}

// IsConnected returns the connection status.
func (t *BaseTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetConnected updates the connection status.
func (t *BaseTransport) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

// Receive returns the receive channel.
func (t *BaseTransport) Receive() <-chan *protocol.Message {
	return t.recvCh
}

// Done returns a channel closed when the transport closes.
func (t *BaseTransport) Done() <-chan struct{} {
	return t.closeCh
}

// Close marks the transport closed. It is safe to call more than once.
func (t *BaseTransport) Close() error {
	t.closeOnce.Do(func() {
		t.SetConnected(false)
		close(t.closeCh)
	})
	return nil
}

// PushMessage hands an inbound message to the reader without blocking.
func (t *BaseTransport) PushMessage(msg *protocol.Message) error {
	select {
	case <-t.closeCh:
		return ErrConnectionClosed
	default:
	}
	select {
	case t.recvCh <- msg:
		return nil
	case <-t.closeCh:
		return ErrConnectionClosed
	default:
		return ErrTransportFull
	}
}
