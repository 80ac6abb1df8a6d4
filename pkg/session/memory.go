package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*memorySession
}

type memorySession struct {
	session   Session
	lockID    string
	lockUntil time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*memorySession)}
}

func (s *MemoryStore) Create(_ context.Context, id uuid.UUID, name *string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess := Session{
		ID:        id,
		Name:      name,
		Exchanges: []Exchange{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = &memorySession{session: sess}
	return sess, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return ms.session, nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Session, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	all := make([]Session, 0, len(s.sessions))
	for _, ms := range s.sessions {
		all = append(all, ms.session)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	if offset >= total {
		return []Session{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) AppendExchange(_ context.Context, id uuid.UUID, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	ms.session.Exchanges = append(ms.session.Exchanges, ex)
	ms.session.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RecentWindow(_ context.Context, id uuid.UUID, n int) ([]Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	exchanges := ms.session.Exchanges
	if n <= 0 || len(exchanges) <= n {
		return exchanges, nil
	}
	return exchanges[len(exchanges)-n:], nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, id uuid.UUID, lockID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	if ms.lockID != "" && ms.lockID != lockID && ms.lockUntil.After(now) {
		return ErrSessionBusy
	}
	ms.lockID = lockID
	ms.lockUntil = now.Add(ttl)
	return nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, id uuid.UUID, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if ms.lockID == lockID {
		ms.lockID = ""
		ms.lockUntil = time.Time{}
	}
	return nil
}
