package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps session metadata in process memory. It is the
// single-instance fallback when redis is not configured; sessions do not
// survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*memoryEntry
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type memoryEntry struct {
	meta      *Metadata
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory session store with a background
// sweeper for expired entries
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	go s.sweep()
	return s
}

// Create stores the session metadata for the configured TTL
func (s *MemoryStore) Create(ctx context.Context, meta *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *meta
	s.sessions[meta.SessionID] = &memoryEntry{
		meta:      &copied,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Get returns a copy of the session metadata
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, ErrSessionNotFound
	}
	copied := *entry.meta
	return &copied, nil
}

// Touch bumps the access counter and last-access time
func (s *MemoryStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok || s.now().After(entry.expiresAt) {
		return ErrSessionNotFound
	}
	entry.meta.AccessCount++
	if at.After(entry.meta.LastAccessedAt) {
		entry.meta.LastAccessedAt = at
	}
	return nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Count returns the number of live sessions
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var n int64
	for _, entry := range s.sessions {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n, nil
}

// Close stops the sweeper and drops all sessions
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.sessions = make(map[string]*memoryEntry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for id, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
