package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khattlab/khatt/pkg/protocol"
)

// Common socket errors.
var (
	ErrSocketClosed = errors.New("socket is closed")
	ErrSendFailed   = errors.New("failed to send message")
)

// ReplyError is a rejection reported by the client in answer to a Request.
// Name carries the browser's error name (for example "NotAllowedError").
type ReplyError struct {
	Name   string
	Reason string
}

func (e *ReplyError) Error() string {
	switch {
	case e.Name == "":
		return e.Reason
	case e.Reason == "":
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

// Transport is the interface for underlying connection transports.
type Transport interface {
	Send(msg *protocol.Message) error
	Close() error
	IsConnected() bool
}

// Socket is one live connection. Besides pushing messages it can issue
// requests the client answers with a MsgReply carrying the same Ref.
type Socket struct {
	id    string
	topic string

	connectedAt time.Time
	// lastActivity as atomic int64 (Unix nanoseconds)
	lastActivity atomic.Int64

	transport Transport

	// Pending server-to-client requests, keyed by ref.
	pending map[string]chan *protocol.Message
	refSeq  atomic.Uint64

	metadata map[string]any
	closed   bool

	// refresh re-renders the owning component outside the event loop.
	refresh func() error

	mu sync.RWMutex
}

// NewSocket creates a new socket with the given ID and transport.
func NewSocket(id string, transport Transport) *Socket {
	s := &Socket{
		id:          id,
		topic:       "lv:" + id,
		connectedAt: time.Now(),
		transport:   transport,
		pending:     make(map[string]chan *protocol.Message),
		metadata:    make(map[string]any),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// SetRefresh installs the function Refresh calls. The router sets it when
// the session starts.
func (s *Socket) SetRefresh(fn func() error) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

// Refresh asks for the component to be rendered and pushed again. It is for
// state changes that do not come from a client event, such as a finished
// background load.
func (s *Socket) Refresh() error {
	s.mu.RLock()
	fn, closed := s.refresh, s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSocketClosed
	}
	if fn == nil {
		return nil
	}
	return fn()
}

// ID returns the socket's unique identifier.
func (s *Socket) ID() string {
	return s.id
}

// Topic returns the topic messages for this socket are sent on.
func (s *Socket) Topic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topic
}

// SetTopic replaces the topic, typically with the one the client joined.
func (s *Socket) SetTopic(topic string) {
	s.mu.Lock()
	s.topic = topic
	s.mu.Unlock()
}

// IsConnected returns true if the socket is connected.
func (s *Socket) IsConnected() bool {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	return !closed && s.transport != nil && s.transport.IsConnected()
}

// ConnectedAt returns when the socket was connected.
func (s *Socket) ConnectedAt() time.Time {
	return s.connectedAt
}

// LastActivity returns the last activity time.
func (s *Socket) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// UpdateActivity updates the last activity timestamp.
func (s *Socket) UpdateActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Send sends a message through the transport.
func (s *Socket) Send(msg *protocol.Message) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed || s.transport == nil {
		return ErrSocketClosed
	}
	if msg.Topic == "" {
		msg.Topic = s.Topic()
	}
	if err := s.transport.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// Push sends a server push the client does not answer.
func (s *Socket) Push(event string, payload map[string]any) error {
	return s.Send(protocol.PushMessage(s.Topic(), event, payload))
}

// Request sends a push and waits for the client's reply. An error reply is
// returned as *ReplyError.
func (s *Socket) Request(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
	ref := "s" + strconv.FormatUint(s.refSeq.Add(1), 10)
	ch := make(chan *protocol.Message, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	s.pending[ref] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, ref)
		s.mu.Unlock()
	}()

	if err := s.Send(protocol.PushMessage(s.Topic(), event, payload).WithRef(ref)); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrSocketClosed
		}
		resp := reply.Response()
		if reply.Status() != protocol.StatusOK {
			re := &ReplyError{}
			if resp != nil {
				re.Name, _ = resp["name"].(string)
				re.Reason, _ = resp["reason"].(string)
			}
			if re.Name == "" && re.Reason == "" {
				re.Reason = "request rejected"
			}
			return nil, re
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers a client reply to the Request waiting on its ref. It
// returns false when nothing is waiting.
func (s *Socket) Resolve(reply *protocol.Message) bool {
	s.mu.Lock()
	ch, ok := s.pending[reply.Ref]
	if ok {
		delete(s.pending, reply.Ref)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	ch <- reply
	return true
}

// Pending returns the number of requests awaiting a reply.
func (s *Socket) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// GetMetadata retrieves a metadata value.
func (s *Socket) GetMetadata(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[key]
}

// SetMetadata sets a metadata value.
func (s *Socket) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Close closes the socket. Pending requests fail with ErrSocketClosed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ref, ch := range s.pending {
		close(ch)
		delete(s.pending, ref)
	}
	s.mu.Unlock()

	if s.transport != nil {
		return s.transport.Close()
	}
	return nil
}

// SocketManager manages all active sockets.
type SocketManager struct {
	sockets    map[string]*Socket
	isShutdown bool
	mu         sync.RWMutex
}

// NewSocketManager creates a new socket manager.
func NewSocketManager() *SocketManager {
	return &SocketManager{
		sockets: make(map[string]*Socket),
	}
}

// Add registers a socket.
func (sm *SocketManager) Add(socket *Socket) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sockets[socket.ID()] = socket
}

// Remove unregisters a socket.
func (sm *SocketManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sockets, id)
}

// Get retrieves a socket by ID.
func (sm *SocketManager) Get(id string) (*Socket, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sockets[id]
	return s, ok
}

// Count returns the number of active sockets.
func (sm *SocketManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sockets)
}

// Shutdown closes every socket. It stops early if ctx ends.
func (sm *SocketManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	if sm.isShutdown {
		sm.mu.Unlock()
		return nil
	}
	sm.isShutdown = true
	sockets := make([]*Socket, 0, len(sm.sockets))
	for id, s := range sm.sockets {
		sockets = append(sockets, s)
		delete(sm.sockets, id)
	}
	sm.mu.Unlock()

	for _, s := range sockets {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Close()
	}
	return nil
}

// IsShutdown returns true if the manager is shutting down.
func (sm *SocketManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.isShutdown
}

// CleanupInactive closes and removes sockets idle for longer than maxInactive.
func (sm *SocketManager) CleanupInactive(maxInactive time.Duration) int {
	sm.mu.Lock()
	var stale []*Socket
	now := time.Now()
	for id, s := range sm.sockets {
		if now.Sub(s.LastActivity()) > maxInactive {
			stale = append(stale, s)
			delete(sm.sockets, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}
