package storepg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables and indexes if they do not exist. The partial
// unique index over (user_id) for active rows is the storage-level backstop
// for the one-active-token-per-user invariant.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL,
    identity TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT (TIMEZONE('utc', CURRENT_TIMESTAMP)),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT (TIMEZONE('utc', CURRENT_TIMESTAMP)),
    CONSTRAINT valid_user_identity_format CHECK (identity ~ '^[^:]+:[^:]+$')
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);
CREATE TABLE IF NOT EXISTS refresh_tokens (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    status TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT (TIMEZONE('utc', CURRENT_TIMESTAMP)),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT (TIMEZONE('utc', CURRENT_TIMESTAMP))
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_refresh_tokens_one_active ON refresh_tokens (user_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens (user_id);
`)
	return err
}
