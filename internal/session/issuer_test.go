package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/denk-solutions/authgate/internal/identity"
	"github.com/denk-solutions/authgate/internal/store"
	"github.com/denk-solutions/authgate/internal/tokens"
)

type controllableClock struct {
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.current = clock.current.Add(duration)
}

type stubVerifier struct {
	name      string
	assertion identity.Assertion
	err       error
}

func (verifier *stubVerifier) Name() string {
	return verifier.name
}

func (verifier *stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (identity.Assertion, error) {
	if verifier.err != nil {
		return identity.Assertion{}, verifier.err
	}
	return verifier.assertion, nil
}

func newTestIssuer(t *testing.T) (*Issuer, *store.MemoryStore, *controllableClock) {
	t.Helper()
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	codec, codecErr := tokens.NewCodec(tokens.Config{
		SigningKey: []byte("test-key"),
		Issuer:     "https://authgate-test/",
		Audience:   []string{"ios", "android"},
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Clock:      clock,
	})
	if codecErr != nil {
		t.Fatalf("failed to create codec: %v", codecErr)
	}
	memory, storeErr := store.NewMemoryStore(codec)
	if storeErr != nil {
		t.Fatalf("failed to create store: %v", storeErr)
	}
	issuer, issuerErr := NewIssuer(codec, memory, memory)
	if issuerErr != nil {
		t.Fatalf("failed to create issuer: %v", issuerErr)
	}
	return issuer, memory, clock
}

func appleStub() *stubVerifier {
	return &stubVerifier{
		name:      "apple",
		assertion: identity.Assertion{Subject: "1", Email: "test@test.io"},
	}
}

func TestNewIssuerRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewIssuer(nil, nil, nil); !errors.Is(err, ErrIssuerMisconfigured) {
		t.Fatalf("expected ErrIssuerMisconfigured, got %v", err)
	}
}

func TestLoginIssuesTokenPair(t *testing.T) {
	t.Parallel()

	issuer, _, _ := newTestIssuer(t)
	pair, err := issuer.LoginWithProvider(context.Background(), appleStub(), "provider-id-token")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.TokenType != "bearer" {
		t.Fatalf("expected bearer token type, got %s", pair.TokenType)
	}
	if pair.ExpiresIn != int64(time.Hour/time.Second) {
		t.Fatalf("expected access expires_in %d, got %d", int64(time.Hour/time.Second), pair.ExpiresIn)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens to be set")
	}

	claims, verifyErr := issuer.VerifyAccessToken(pair.AccessToken)
	if verifyErr != nil {
		t.Fatalf("access token failed verification: %v", verifyErr)
	}
	if claims.Email != "test@test.io" {
		t.Fatalf("expected email claim, got %s", claims.Email)
	}
}

func TestLoginRepeatedlyKeepsSameSubject(t *testing.T) {
	t.Parallel()

	issuer, _, _ := newTestIssuer(t)
	first, firstErr := issuer.LoginWithProvider(context.Background(), appleStub(), "provider-id-token")
	if firstErr != nil {
		t.Fatalf("first login failed: %v", firstErr)
	}
	second, secondErr := issuer.LoginWithProvider(context.Background(), appleStub(), "provider-id-token")
	if secondErr != nil {
		t.Fatalf("second login failed: %v", secondErr)
	}

	firstClaims, _ := issuer.VerifyAccessToken(first.AccessToken)
	secondClaims, _ := issuer.VerifyAccessToken(second.AccessToken)
	if firstClaims.Subject != secondClaims.Subject {
		t.Fatalf("expected same subject across logins, got %s and %s", firstClaims.Subject, secondClaims.Subject)
	}
}

func TestLoginPropagatesVerifierRejection(t *testing.T) {
	t.Parallel()

	issuer, _, _ := newTestIssuer(t)
	rejecting := &stubVerifier{name: "apple", err: identity.ErrInvalidAssertion}
	if _, err := issuer.LoginWithProvider(context.Background(), rejecting, "bad-token"); !errors.Is(err, identity.ErrInvalidAssertion) {
		t.Fatalf("expected ErrInvalidAssertion, got %v", err)
	}
}

func TestExchangeRotatesRefreshToken(t *testing.T) {
	t.Parallel()

	issuer, _, _ := newTestIssuer(t)
	loginPair, loginErr := issuer.LoginWithProvider(context.Background(), appleStub(), "provider-id-token")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}

	refreshed, refreshErr := issuer.ExchangeRefreshToken(context.Background(), loginPair.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("refresh failed: %v", refreshErr)
	}
	if refreshed.RefreshToken == loginPair.RefreshToken {
		t.Fatalf("expected refresh to mint a new token")
	}

	// The superseded token must be rejected as a replay.
	_, replayErr := issuer.ExchangeRefreshToken(context.Background(), loginPair.RefreshToken)
	if !errors.Is(replayErr, store.ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", replayErr)
	}
}

func TestExchangeRejectsGarbageToken(t *testing.T) {
	t.Parallel()

	issuer, _, _ := newTestIssuer(t)
	if _, err := issuer.ExchangeRefreshToken(context.Background(), "bad.jwt.token"); !errors.Is(err, tokens.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExchangeRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	issuer, _, clock := newTestIssuer(t)
	loginPair, loginErr := issuer.LoginWithProvider(context.Background(), appleStub(), "provider-id-token")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}

	clock.Advance(25 * time.Hour)
	if _, err := issuer.ExchangeRefreshToken(context.Background(), loginPair.RefreshToken); !errors.Is(err, tokens.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyAccessTokenRejectsExpiry(t *testing.T) {
	t.Parallel()

	issuer, _, clock := newTestIssuer(t)
	pair, loginErr := issuer.LoginWithProvider(context.Background(), appleStub(), "provider-id-token")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}
	clock.Advance(2 * time.Hour)
	if _, err := issuer.VerifyAccessToken(pair.AccessToken); !errors.Is(err, tokens.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
