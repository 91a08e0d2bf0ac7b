package storepg

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/denk-solutions/authgate/internal/store"
)

const pgUniqueViolation = "23505"

// Store is the raw-SQL PostgreSQL implementation of the user directory and
// refresh token state machine. It shares sentinel errors with internal/store
// so callers map failures uniformly across backends.
type Store struct {
	pool   *pgxpool.Pool
	minter store.RefreshTokenMinter
}

// NewStore constructs a Postgres store.
func NewStore(pool *pgxpool.Pool, minter store.RefreshTokenMinter) (*Store, error) {
	if minter == nil {
		return nil, fmt.Errorf("storepg.new: %w", store.ErrMissingMinter)
	}
	return &Store{pool: pool, minter: minter}, nil
}

// Upsert maps an external identity to a user id with a single
// conflict-resolving insert.
func (pgStore *Store) Upsert(ctx context.Context, identity store.Identity, email string) (string, error) {
	var userID string
	row := pgStore.pool.QueryRow(ctx, `
INSERT INTO users (id, email, identity)
VALUES ($1, $2, $3)
ON CONFLICT (identity) DO UPDATE SET email = EXCLUDED.email, updated_at = TIMEZONE('utc', CURRENT_TIMESTAMP)
RETURNING id
`, uuid.NewString(), email, identity.String())
	if err := row.Scan(&userID); err != nil {
		return "", fmt.Errorf("user_store.upsert.postgres: %w", err)
	}
	return userID, nil
}

// StrictCreate creates a user and fails with ErrIntegrityConflict when the
// identity already exists.
func (pgStore *Store) StrictCreate(ctx context.Context, identity store.Identity, email string) (string, error) {
	userID := uuid.NewString()
	_, err := pgStore.pool.Exec(ctx, `
INSERT INTO users (id, email, identity)
VALUES ($1, $2, $3)
`, userID, email, identity.String())
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("user_store.create.postgres: %w", store.ErrIntegrityConflict)
		}
		return "", fmt.Errorf("user_store.create.postgres: %w", err)
	}
	return userID, nil
}

// Rotate supersedes the user's active refresh token under a row lock and
// mints a new one, returning the raw token. The partial unique index turns
// any surviving race into ErrIntegrityConflict at insert time.
func (pgStore *Store) Rotate(ctx context.Context, userID string, presented string) (string, error) {
	transaction, beginErr := pgStore.pool.Begin(ctx)
	if beginErr != nil {
		return "", fmt.Errorf("refresh_store.rotate.postgres: %w", beginErr)
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	var currentID string
	var currentHash string
	row := transaction.QueryRow(ctx, `
SELECT id, token_hash
FROM refresh_tokens
WHERE user_id = $1 AND status = 'active'
FOR UPDATE
`, userID)
	scanErr := row.Scan(&currentID, &currentHash)
	switch {
	case scanErr == nil:
		if presented != "" && !verifyRefreshTokenHash(presented, currentHash) {
			return "", fmt.Errorf("refresh_store.rotate.postgres: %w", store.ErrHashMismatch)
		}
		if _, revokeErr := transaction.Exec(ctx, `
UPDATE refresh_tokens
SET status = 'revoked', updated_at = TIMEZONE('utc', CURRENT_TIMESTAMP)
WHERE id = $1
`, currentID); revokeErr != nil {
			return "", fmt.Errorf("refresh_store.rotate.postgres: %w", revokeErr)
		}
	case errors.Is(scanErr, pgx.ErrNoRows):
		// First rotation for this user; nothing to supersede.
	default:
		return "", fmt.Errorf("refresh_store.rotate.postgres: %w", scanErr)
	}

	var email string
	if emailErr := transaction.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email); emailErr != nil {
		if errors.Is(emailErr, pgx.ErrNoRows) {
			return "", fmt.Errorf("refresh_store.rotate.postgres: %w", store.ErrUserNotFound)
		}
		return "", fmt.Errorf("refresh_store.rotate.postgres: %w", emailErr)
	}

	token, _, signErr := pgStore.minter.SignRefresh(userID, email)
	if signErr != nil {
		return "", fmt.Errorf("refresh_store.rotate.postgres: %w", signErr)
	}
	if _, insertErr := transaction.Exec(ctx, `
INSERT INTO refresh_tokens (id, user_id, status, token_hash)
VALUES ($1, $2, 'active', $3)
`, uuid.NewString(), userID, hashRefreshToken(token)); insertErr != nil {
		if isUniqueViolation(insertErr) {
			return "", fmt.Errorf("refresh_store.rotate.postgres: %w", store.ErrIntegrityConflict)
		}
		return "", fmt.Errorf("refresh_store.rotate.postgres: %w", insertErr)
	}
	if commitErr := transaction.Commit(ctx); commitErr != nil {
		return "", fmt.Errorf("refresh_store.rotate.postgres: %w", commitErr)
	}
	return token, nil
}

// RevokeActive retires the user's active refresh token, if any.
func (pgStore *Store) RevokeActive(ctx context.Context, userID string) error {
	_, err := pgStore.pool.Exec(ctx, `
UPDATE refresh_tokens
SET status = 'revoked', updated_at = TIMEZONE('utc', CURRENT_TIMESTAMP)
WHERE user_id = $1 AND status = 'active'
`, userID)
	if err != nil {
		return fmt.Errorf("refresh_store.revoke.postgres: %w", err)
	}
	return nil
}

// ExpireOlderThan transitions active tokens created before the cutoff to expired.
func (pgStore *Store) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := pgStore.pool.Exec(ctx, `
UPDATE refresh_tokens
SET status = 'expired', updated_at = TIMEZONE('utc', CURRENT_TIMESTAMP)
WHERE status = 'active' AND created_at < $1
`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("refresh_store.expire.postgres: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgError *pgconn.PgError
	return errors.As(err, &pgError) && pgError.Code == pgUniqueViolation
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func verifyRefreshTokenHash(token string, storedHash string) bool {
	computed := hashRefreshToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
