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

// Upsert maps an external identity to an internal user id, creating the user
// on first sight and refreshing the stored email otherwise. The write is a
// single conflict-resolving statement: the loser of a concurrent creation
// race observes the winner's row instead of failing.
func (store *Store) Upsert(ctx context.Context, identity Identity, email string) (string, error) {
	record := userRecord{
		ID:       uuid.NewString(),
		Email:    email,
		Identity: identity.String(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"email":      email,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&record).Error
	if err != nil {
		return "", fmt.Errorf("user_store.upsert.%s: %w", store.driverLabel, err)
	}
	var persisted userRecord
	if readErr := store.db.WithContext(ctx).Where("identity = ?", identity.String()).Take(&persisted).Error; readErr != nil {
		return "", fmt.Errorf("user_store.upsert.%s: %w", store.driverLabel, readErr)
	}
	return persisted.ID, nil
}

// StrictCreate creates a user and fails with ErrIntegrityConflict when the
// identity already exists.
func (store *Store) StrictCreate(ctx context.Context, identity Identity, email string) (string, error) {
	record := userRecord{
		ID:       uuid.NewString(),
		Email:    email,
		Identity: identity.String(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", fmt.Errorf("user_store.create.%s: %w", store.driverLabel, ErrIntegrityConflict)
		}
		return "", fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	return record.ID, nil
}

func userEmail(tx *gorm.DB, userID string) (string, error) {
	var record userRecord
	if err := tx.Select("email").Where("id = ?", userID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return record.Email, nil
}
