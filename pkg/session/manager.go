package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cognitriage/console/pkg/common/logger"
	"github.com/cognitriage/console/pkg/observability/metrics"
)

// Closer is what the manager tears down alongside a session, typically the
// session's pipeline with its poll loop.
type Closer interface {
	Close()
}

// Session ties a store to the pipeline driving it. One per browser session.
type Session struct {
	ID        uuid.UUID
	Store     *Store
	CreatedAt time.Time

	closer Closer
}

// Bind attaches the pipeline (or any teardown hook) created for this
// session. Called once, right after construction.
func (s *Session) Bind(closer Closer) {
	s.closer = closer
}

// Runtime returns whatever Bind attached.
func (s *Session) Runtime() Closer {
	return s.closer
}

// Manager owns all live sessions. Sessions end explicitly (delete) or by
// idle expiry through the janitor.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	idleTTL  time.Duration
}

func NewManager(idleTTL time.Duration) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		idleTTL:  idleTTL,
	}
}

// Create registers a new empty session.
func (m *Manager) Create() *Session {
	s := &Session{
		ID:        uuid.New(),
		Store:     NewStore(),
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	metrics.IncSessions()
	logger.Log.WithField("session_id", s.ID).Info("Session created")
	return s
}

func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete tears a session down: the bound pipeline is closed (cancelling any
// active poll) and the state is dropped.
func (m *Manager) Delete(id uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if s.closer != nil {
		s.closer.Close()
	}
	metrics.DecSessions()
	logger.Log.WithField("session_id", id).Info("Session closed")
	return true
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunJanitor sweeps idle sessions until ctx is cancelled. Sweeping is
// equivalent to an explicit delete.
func (m *Manager) RunJanitor(ctx context.Context) {
	if m.idleTTL <= 0 {
		return
	}
	interval := m.idleTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []uuid.UUID
	for id, s := range m.sessions {
		if s.Store.LastActive().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		logger.Log.WithField("session_id", id).Info("Session expired")
		m.Delete(id)
	}
}
