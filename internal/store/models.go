package store

import (
	"fmt"
	"strings"
	"time"
)

// TokenStatus is the lifecycle state of a refresh token record.
type TokenStatus string

const (
	// StatusActive marks the single currently valid refresh token of a user.
	StatusActive TokenStatus = "active"
	// StatusExpired marks a token retired by a time-based sweep.
	StatusExpired TokenStatus = "expired"
	// StatusRevoked marks a token superseded by rotation or explicit revocation.
	StatusRevoked TokenStatus = "revoked"
)

// Identity is an external identity: a provider name plus the provider-scoped
// subject. It persists as the composite string "provider:subject".
type Identity struct {
	Provider string
	Subject  string
}

// String renders the composite identity persisted in the users table.
func (identity Identity) String() string {
	return identity.Provider + ":" + identity.Subject
}

// ParseIdentity splits a composite identity string back into its parts.
func ParseIdentity(value string) (Identity, error) {
	provider, subject, found := strings.Cut(value, ":")
	if !found || provider == "" || subject == "" {
		return Identity{}, fmt.Errorf("store.identity.malformed: %q", value)
	}
	return Identity{Provider: provider, Subject: subject}, nil
}

type userRecord struct {
	ID        string    `gorm:"column:id;primaryKey;size:36"`
	Email     string    `gorm:"column:email;not null;index"`
	Identity  string    `gorm:"column:identity;size:255;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (userRecord) TableName() string {
	return "users"
}

// refreshTokenRecord carries a partial unique index over user_id for rows in
// active status. The index is the storage-level backstop for the one-active-
// token-per-user invariant when application locking is bypassed.
type refreshTokenRecord struct {
	ID        string      `gorm:"column:id;primaryKey;size:36"`
	UserID    string      `gorm:"column:user_id;size:36;not null;index;index:ux_refresh_tokens_one_active,unique,where:status = 'active'"`
	Status    TokenStatus `gorm:"column:status;size:16;not null"`
	TokenHash string      `gorm:"column:token_hash;uniqueIndex;not null"`
	CreatedAt time.Time   `gorm:"column:created_at"`
	UpdatedAt time.Time   `gorm:"column:updated_at"`
}

func (refreshTokenRecord) TableName() string {
	return "refresh_tokens"
}
