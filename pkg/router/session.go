package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khattlab/khatt/pkg/core"
	"github.com/khattlab/khatt/pkg/transport"
)

// LiveSession ties one mounted component to its socket.
type LiveSession struct {
	ID        string
	SocketID  string
	Topic     string
	Component core.Component
	Socket    *core.Socket
	Transport transport.Transport
	Params    core.Params
	Session   core.Session
	CreatedAt time.Time

	// renderMu serialises renders from the event loop and Refresh.
	renderMu sync.Mutex
	cancel   context.CancelFunc
	closed   sync.Once

	mu         sync.Mutex
	lastActive time.Time
	mounted    bool
	renderHash uint64
}

func newLiveSession(socketID string, comp core.Component, params core.Params, session core.Session) *LiveSession {
	if params == nil {
		params = core.Params{}
	}
	if session == nil {
		session = core.Session{}
	}
	now := time.Now()
	return &LiveSession{
		ID:         uuid.NewString(),
		SocketID:   socketID,
		Topic:      "lv:" + socketID,
		Component:  comp,
		Params:     params,
		Session:    session,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *LiveSession) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *LiveSession) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *LiveSession) setMounted() {
	s.mu.Lock()
	s.mounted = true
	s.mu.Unlock()
}

// Mounted reports whether the join has mounted the component.
func (s *LiveSession) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// swapRenderHash stores h and reports whether it differs from the hash of
// the last HTML the client received.
func (s *LiveSession) swapRenderHash(h uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.renderHash != h
	s.renderHash = h
	return changed
}

// SessionConfig limits the number of live sessions. Zero means no limit.
type SessionConfig struct {
	MaxSessions int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{MaxSessions: 10000}
}

// Sessions indexes live sessions by id and by socket id. When full, the
// least recently active session is evicted and its socket closed.
type Sessions struct {
	max int

	mu       sync.RWMutex
	byID     map[string]*LiveSession
	bySocket map[string]*LiveSession
}

func NewSessions(cfg SessionConfig) *Sessions {
	return &Sessions{
		max:      cfg.MaxSessions,
		byID:     make(map[string]*LiveSession),
		bySocket: make(map[string]*LiveSession),
	}
}

// Create registers a session for socketID.
func (m *Sessions) Create(socketID string, comp core.Component, params core.Params, session core.Session) *LiveSession {
	lv := newLiveSession(socketID, comp, params, session)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.byID) >= m.max {
		m.evictLocked()
	}
	m.byID[lv.ID] = lv
	m.bySocket[socketID] = lv
	return lv
}

func (m *Sessions) Get(id string) (*LiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lv, ok := m.byID[id]
	return lv, ok
}

func (m *Sessions) GetBySocket(socketID string) (*LiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lv, ok := m.bySocket[socketID]
	return lv, ok
}

func (m *Sessions) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lv, ok := m.byID[id]; ok {
		delete(m.bySocket, lv.SocketID)
		delete(m.byID, id)
	}
}

func (m *Sessions) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *Sessions) All() []*LiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LiveSession, 0, len(m.byID))
	for _, lv := range m.byID {
		out = append(out, lv)
	}
	return out
}

// Stale returns sessions idle for longer than maxIdle. The caller closes them.
func (m *Sessions) Stale(maxIdle time.Duration) []*LiveSession {
	cutoff := time.Now().Add(-maxIdle)
	var stale []*LiveSession
	for _, lv := range m.All() {
		if lv.LastActive().Before(cutoff) {
			stale = append(stale, lv)
		}
	}
	return stale
}

func (m *Sessions) evictLocked() {
	var oldest *LiveSession
	for _, lv := range m.byID {
		if oldest == nil || lv.LastActive().Before(oldest.LastActive()) {
			oldest = lv
		}
	}
	if oldest == nil {
		return
	}
	delete(m.bySocket, oldest.SocketID)
	delete(m.byID, oldest.ID)
	if oldest.Socket != nil {
		go oldest.Socket.Close()
	}
}
