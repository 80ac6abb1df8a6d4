// Package session persists chat sessions and serializes access to them so
// only one question per session runs at a time.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrSessionBusy is returned when another request holds the session
	// lock; callers surface it as HTTP 409.
	ErrSessionBusy = errors.New("session is busy answering another question")
)

// Exchange is one completed question/answer pair.
type Exchange struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a stored conversation.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Name      *string    `json:"name"`
	Exchanges []Exchange `json:"exchanges"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store persists sessions. Exchanges are append-only; the lock methods give
// per-session mutual exclusion across processes.
type Store interface {
	Create(ctx context.Context, id uuid.UUID, name *string) (Session, error)
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	List(ctx context.Context, limit, offset int) ([]Session, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// AppendExchange adds a completed pair and bumps updated_at.
	AppendExchange(ctx context.Context, id uuid.UUID, ex Exchange) error
	// RecentWindow returns the last n exchanges, oldest first.
	RecentWindow(ctx context.Context, id uuid.UUID, n int) ([]Exchange, error)

	// AcquireLock takes the session lock, succeeding if the lock is free,
	// expired, or already held by lockID. Returns ErrSessionBusy otherwise.
	AcquireLock(ctx context.Context, id uuid.UUID, lockID string, ttl time.Duration) error
	// ReleaseLock frees the lock if lockID owns it; releasing a lock that
	// is not held is a no-op.
	ReleaseLock(ctx context.Context, id uuid.UUID, lockID string) error
}
