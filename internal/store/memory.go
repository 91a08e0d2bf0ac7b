package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory store intended for tests and local runs. It
// carries the same active/expired/revoked state machine as the database
// store; one mutex stands in for row-level locking.
type MemoryStore struct {
	mutex           sync.Mutex
	minter          RefreshTokenMinter
	usersByIdentity map[string]*memoryUser
	usersByID       map[string]*memoryUser
	tokensByUser    map[string][]*memoryToken
}

type memoryUser struct {
	ID       string
	Email    string
	Identity string
}

type memoryToken struct {
	ID        string
	UserID    string
	Status    TokenStatus
	TokenHash string
	CreatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(minter RefreshTokenMinter) (*MemoryStore, error) {
	if minter == nil {
		return nil, fmt.Errorf("store.memory: %w", ErrMissingMinter)
	}
	return &MemoryStore{
		minter:          minter,
		usersByIdentity: make(map[string]*memoryUser),
		usersByID:       make(map[string]*memoryUser),
		tokensByUser:    make(map[string][]*memoryToken),
	}, nil
}

// Upsert inserts or updates a user keyed by composite identity.
func (store *MemoryStore) Upsert(ctx context.Context, identity Identity, email string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if existing, ok := store.usersByIdentity[identity.String()]; ok {
		existing.Email = email
		return existing.ID, nil
	}
	user := &memoryUser{
		ID:       uuid.NewString(),
		Email:    email,
		Identity: identity.String(),
	}
	store.usersByIdentity[user.Identity] = user
	store.usersByID[user.ID] = user
	return user.ID, nil
}

// StrictCreate creates a user and fails when the identity already exists.
func (store *MemoryStore) StrictCreate(ctx context.Context, identity Identity, email string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, ok := store.usersByIdentity[identity.String()]; ok {
		return "", fmt.Errorf("user_store.create.memory: %w", ErrIntegrityConflict)
	}
	user := &memoryUser{
		ID:       uuid.NewString(),
		Email:    email,
		Identity: identity.String(),
	}
	store.usersByIdentity[user.Identity] = user
	store.usersByID[user.ID] = user
	return user.ID, nil
}

// Rotate supersedes the user's active token and mints a new one under the
// store mutex, mirroring the database store's transaction.
func (store *MemoryStore) Rotate(ctx context.Context, userID string, presented string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var active *memoryToken
	for _, token := range store.tokensByUser[userID] {
		if token.Status == StatusActive {
			active = token
			break
		}
	}
	if active != nil && presented != "" && !verifyRefreshTokenHash(presented, active.TokenHash) {
		return "", fmt.Errorf("refresh_store.rotate.memory: %w", ErrHashMismatch)
	}

	user, ok := store.usersByID[userID]
	if !ok {
		return "", fmt.Errorf("refresh_store.rotate.memory: %w", ErrUserNotFound)
	}
	token, _, signErr := store.minter.SignRefresh(userID, user.Email)
	if signErr != nil {
		return "", fmt.Errorf("refresh_store.rotate.memory: %w", signErr)
	}

	// All checks passed; apply both mutations together.
	if active != nil {
		active.Status = StatusRevoked
	}
	store.tokensByUser[userID] = append(store.tokensByUser[userID], &memoryToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusActive,
		TokenHash: hashRefreshToken(token),
		CreatedAt: time.Now().UTC(),
	})
	return token, nil
}

// RevokeActive retires the user's active token, if any.
func (store *MemoryStore) RevokeActive(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	for _, token := range store.tokensByUser[userID] {
		if token.Status == StatusActive {
			token.Status = StatusRevoked
		}
	}
	return nil
}

// ExpireOlderThan transitions active tokens created before the cutoff to expired.
func (store *MemoryStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var expired int64
	for _, tokens := range store.tokensByUser {
		for _, token := range tokens {
			if token.Status == StatusActive && token.CreatedAt.Before(cutoff) {
				token.Status = StatusExpired
				expired++
			}
		}
	}
	return expired, nil
}

// StatusCounts reports token counts per status for a user. Test helper.
func (store *MemoryStore) StatusCounts(userID string) map[TokenStatus]int {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	counts := make(map[TokenStatus]int)
	for _, token := range store.tokensByUser[userID] {
		counts[token.Status]++
	}
	return counts
}
