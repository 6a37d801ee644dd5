package upload

import (
	"context"
	"sync"
	"time"
)

// SessionStore is the persistence abstraction for upload sessions.
// Implementations hand out copies; a session is replaced as a whole on every
// write so readers never see a half-applied update.
type SessionStore interface {
	// Put stores a new session, replacing any previous record with its id.
	Put(ctx context.Context, s Session) error
	// Get returns the session or ErrSessionNotFound if it is unknown or expired.
	Get(ctx context.Context, id SessionID) (Session, error)
	// Update applies fn to a copy of the current record and stores the result
	// atomically. The write is rejected when it would regress the session.
	Update(ctx context.Context, id SessionID, fn func(s *Session) error) (Session, error)
	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id SessionID) error
}

// Retention is the lifetime policy shared by the store implementations.
type Retention struct {
	// Finished is how long a completed or failed session stays readable.
	Finished time.Duration
	// MaxAge bounds the lifetime of a session that never finishes.
	MaxAge time.Duration
}

// DefaultRetention keeps finished sessions for five minutes and abandons
// unfinished ones after two hours.
var DefaultRetention = Retention{Finished: 5 * time.Minute, MaxAge: 2 * time.Hour}

// ttl returns how long s should live from now.
func (r Retention) ttl(s Session, now time.Time) time.Duration {
	if s.Stage.Terminal() {
		return r.Finished
	}
	left := s.CreatedAt.Add(r.MaxAge).Sub(now)
	if left <= 0 {
		return time.Millisecond
	}
	return left
}

func (r Retention) expired(s Session, now time.Time) bool {
	if s.Stage.Terminal() {
		return now.Sub(s.UpdatedAt) >= r.Finished
	}
	return now.Sub(s.CreatedAt) >= r.MaxAge
}

// InMemoryStore keeps sessions in a map. Expired sessions are hidden from
// Get immediately and reclaimed by Sweep.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[SessionID]Session
	retention Retention
	now       func() time.Time
}

var _ SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty store with the given retention policy.
func NewInMemoryStore(r Retention) *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[SessionID]Session),
		retention: r,
		now:       time.Now,
	}
}

// Put implements SessionStore.Put.
func (m *InMemoryStore) Put(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// Get implements SessionStore.Get.
func (m *InMemoryStore) Get(ctx context.Context, id SessionID) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || m.retention.expired(s, m.now()) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// Update implements SessionStore.Update.
func (m *InMemoryStore) Update(ctx context.Context, id SessionID, fn func(s *Session) error) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.sessions[id]
	if !ok || m.retention.expired(prev, m.now()) {
		return Session{}, ErrSessionNotFound
	}
	next := prev
	if err := fn(&next); err != nil {
		return Session{}, err
	}
	if err := checkTransition(prev, next); err != nil {
		return Session{}, err
	}
	m.sessions[id] = next
	return next, nil
}

// Delete implements SessionStore.Delete.
func (m *InMemoryStore) Delete(ctx context.Context, id SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of records held, expired ones included.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (m *InMemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if m.retention.expired(s, now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *InMemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
