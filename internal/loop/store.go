package loop

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/loom/internal/domain"
)

// Store tracks sessions with a running loop. All mutation goes through the
// store so API readers see consistent snapshots.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: map[string]*domain.Session{}}
}

// Begin registers a new session. An empty id gets a generated UUID. A second
// loop on the same id is rejected with domain.ErrSessionActive.
func (s *Store) Begin(id string) (*domain.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, domain.ErrSessionActive
	}
	sess := &domain.Session{
		ID:        id,
		StartedAt: time.Now(),
		ToolsUsed: map[string]struct{}{},
	}
	s.sessions[id] = sess
	return sess, nil
}

// Get returns a snapshot of the session, or domain.ErrSessionNotFound.
func (s *Store) Get(id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return snapshot(sess), nil
}

// snapshot copies the session, including the tool set, so readers never
// share a map with the running loop.
func snapshot(sess *domain.Session) domain.Session {
	out := *sess
	out.ToolsUsed = make(map[string]struct{}, len(sess.ToolsUsed))
	for name := range sess.ToolsUsed {
		out.ToolsUsed[name] = struct{}{}
	}
	return out
}

// Update applies fn to the session under the store lock.
func (s *Store) Update(id string, fn func(*domain.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	fn(sess)
	return nil
}

// End removes the session.
func (s *Store) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Active returns snapshots of all running sessions, oldest first.
func (s *Store) Active() []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, snapshot(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
