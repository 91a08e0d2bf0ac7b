package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rotate atomically supersedes the user's active refresh token and mints a
// new one, returning the raw token string. When presented is non-empty it is
// checked against the stored hash first; a mismatch aborts the transaction
// with ErrHashMismatch and no state changes. The transaction serializes
// concurrent rotations for the same user via a row lock on the active record;
// the partial unique index catches any race that slips past it, surfacing as
// ErrIntegrityConflict.
func (store *Store) Rotate(ctx context.Context, userID string, presented string) (string, error) {
	var signed string
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup := tx
		if store.driverLabel == driverPostgres {
			lookup = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var current refreshTokenRecord
		lookupErr := lookup.Where("user_id = ? AND status = ?", userID, StatusActive).Take(&current).Error
		switch {
		case lookupErr == nil:
			if presented != "" && !verifyRefreshTokenHash(presented, current.TokenHash) {
				return ErrHashMismatch
			}
			if revokeErr := tx.Model(&refreshTokenRecord{}).
				Where("id = ?", current.ID).
				Update("status", StatusRevoked).Error; revokeErr != nil {
				return revokeErr
			}
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			// First rotation for this user; nothing to supersede.
		default:
			return lookupErr
		}

		email, emailErr := userEmail(tx, userID)
		if emailErr != nil {
			return emailErr
		}

		token, _, signErr := store.minter.SignRefresh(userID, email)
		if signErr != nil {
			return signErr
		}
		record := refreshTokenRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    StatusActive,
			TokenHash: hashRefreshToken(token),
		}
		if insertErr := tx.Create(&record).Error; insertErr != nil {
			if errors.Is(insertErr, gorm.ErrDuplicatedKey) {
				return ErrIntegrityConflict
			}
			return insertErr
		}
		signed = token
		return nil
	})
	if txErr != nil {
		return "", fmt.Errorf("refresh_store.rotate.%s: %w", store.driverLabel, txErr)
	}
	return signed, nil
}

// RevokeActive retires the user's active refresh token, if any. Revoking a
// user with no active token is a no-op.
func (store *Store) RevokeActive(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Model(&refreshTokenRecord{}).
		Where("user_id = ? AND status = ?", userID, StatusActive).
		Update("status", StatusRevoked)
	if result.Error != nil {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// ExpireOlderThan transitions active tokens created before the cutoff to
// expired. Intended for a periodic sweep outside the request path.
func (store *Store) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := store.db.WithContext(ctx).Model(&refreshTokenRecord{}).
		Where("status = ? AND created_at < ?", StatusActive, cutoff).
		Update("status", StatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("refresh_store.expire.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}
