package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in a sessions table with exchanges held as
// a JSONB array and lock columns for cross-process serialization.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, id uuid.UUID, name *string) (Session, error) {
	var sess Session
	var content []byte
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, name, content)
		VALUES ($1, $2, '[]'::jsonb)
		RETURNING id, name, content, created_at, updated_at
	`, id, name).Scan(&sess.ID, &sess.Name, &content, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	if err := json.Unmarshal(content, &sess.Exchanges); err != nil {
		return Session{}, fmt.Errorf("decode exchanges: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	var sess Session
	var content []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, content, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.Name, &content, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(content, &sess.Exchanges); err != nil {
		return Session{}, fmt.Errorf("decode exchanges: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Session, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	// id as secondary sort key keeps ordering stable when timestamps tie.
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, content, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var content []byte
		if err := rows.Scan(&sess.ID, &sess.Name, &content, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal(content, &sess.Exchanges); err != nil {
			return nil, 0, fmt.Errorf("decode exchanges: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, total, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendExchange(ctx context.Context, id uuid.UUID, ex Exchange) error {
	b, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	result, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET content = content || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, b)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecentWindow(ctx context.Context, id uuid.UUID, n int) ([]Exchange, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(sess.Exchanges) <= n {
		return sess.Exchanges, nil
	}
	return sess.Exchanges[len(sess.Exchanges)-n:], nil
}

// AcquireLock takes the session lock with a conditional update, so two
// concurrent requests on the same session resolve in the database rather
// than in process memory.
func (s *PostgresStore) AcquireLock(ctx context.Context, id uuid.UUID, lockID string, ttl time.Duration) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET lock_id = $2, lock_until = $3
		WHERE id = $1
		AND (lock_id IS NULL OR lock_until < NOW() OR lock_id = $2)
	`, id, lockID, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish a held lock from a missing session.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrSessionBusy
	}
	return nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, id uuid.UUID, lockID string) error {
	// Only the owner may release; zero rows affected means the end state is
	// already "not held by us", which is fine.
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET lock_id = NULL, lock_until = NULL
		WHERE id = $1 AND lock_id = $2
	`, id, lockID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
