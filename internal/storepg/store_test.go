package storepg

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/denk-solutions/authgate/internal/httpapi"
	"github.com/denk-solutions/authgate/internal/session"
	"github.com/denk-solutions/authgate/internal/store"
)

var (
	_ session.Directory = (*Store)(nil)
	_ session.Rotator   = (*Store)(nil)
	_ httpapi.Revoker   = (*Store)(nil)
)

func TestNewStoreRequiresMinter(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil, nil)
	if err == nil || !errors.Is(err, store.ErrMissingMinter) {
		t.Fatalf("expected missing minter error, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected unique violation to be detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation must not count as unique violation")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatalf("plain error must not count as unique violation")
	}
}

func TestRefreshTokenHashing(t *testing.T) {
	t.Parallel()

	hash := hashRefreshToken("some-refresh-token")
	if hash == "" || hash == "some-refresh-token" {
		t.Fatalf("expected opaque digest, got %q", hash)
	}
	if !verifyRefreshTokenHash("some-refresh-token", hash) {
		t.Fatalf("expected hash to verify against its source token")
	}
	if verifyRefreshTokenHash("another-token", hash) {
		t.Fatalf("expected mismatching token to fail verification")
	}
}
