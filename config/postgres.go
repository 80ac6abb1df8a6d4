package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectPostgres creates a connection pool and runs the session table
// migrations.
func ConnectPostgres(ctx context.Context, log *slog.Logger, cfg PostgresConfig) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)

	log.Info("connecting to postgres", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "username", cfg.Username)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := runMigrations(connectCtx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return pool, nil
}

// runMigrations creates the sessions table and its lock columns.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			name VARCHAR(255),
			content JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_sessions_updated
		ON sessions (updated_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions index: %w", err)
	}

	// Lock columns give cross-process serialization of requests per session.
	_, err = pool.Exec(ctx, `
		ALTER TABLE sessions
		ADD COLUMN IF NOT EXISTS lock_id VARCHAR(36),
		ADD COLUMN IF NOT EXISTS lock_until TIMESTAMPTZ
	`)
	if err != nil {
		return fmt.Errorf("failed to add lock columns: %w", err)
	}

	return nil
}
