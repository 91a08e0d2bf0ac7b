package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/denk-solutions/authgate/internal/identity"
	"github.com/denk-solutions/authgate/internal/store"
	"github.com/denk-solutions/authgate/internal/tokens"
)

// ErrIssuerMisconfigured indicates the issuer was built without a dependency.
var ErrIssuerMisconfigured = errors.New("session.issuer.misconfigured")

// TokenPair is the credential set handed to clients after login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Directory maps external identities to internal user ids.
type Directory interface {
	Upsert(ctx context.Context, identity store.Identity, email string) (string, error)
}

// Rotator atomically rotates a user's refresh token. An empty presented
// token means a fresh login with nothing to verify against.
type Rotator interface {
	Rotate(ctx context.Context, userID string, presented string) (string, error)
}

// Issuer orchestrates identity verification, the user directory, refresh
// token rotation, and token signing into login and refresh exchanges.
type Issuer struct {
	codec     *tokens.Codec
	directory Directory
	rotator   Rotator
}

// NewIssuer wires the issuer's dependencies. All are required.
func NewIssuer(codec *tokens.Codec, directory Directory, rotator Rotator) (*Issuer, error) {
	if codec == nil || directory == nil || rotator == nil {
		return nil, fmt.Errorf("session.issuer.new: %w", ErrIssuerMisconfigured)
	}
	return &Issuer{codec: codec, directory: directory, rotator: rotator}, nil
}

// LoginWithProvider exchanges a provider identity assertion for a token pair.
// Provider verification is network I/O and completes before any storage
// transaction begins.
func (issuer *Issuer) LoginWithProvider(ctx context.Context, verifier identity.Verifier, assertionToken string) (TokenPair, error) {
	assertion, verifyErr := verifier.VerifyIDToken(ctx, assertionToken)
	if verifyErr != nil {
		return TokenPair{}, fmt.Errorf("session.login.%s: %w", verifier.Name(), verifyErr)
	}

	userID, upsertErr := issuer.directory.Upsert(ctx, store.Identity{
		Provider: verifier.Name(),
		Subject:  assertion.Subject,
	}, assertion.Email)
	if upsertErr != nil {
		return TokenPair{}, fmt.Errorf("session.login.%s: %w", verifier.Name(), upsertErr)
	}

	refreshToken, rotateErr := issuer.rotator.Rotate(ctx, userID, "")
	if rotateErr != nil {
		return TokenPair{}, fmt.Errorf("session.login.%s: %w", verifier.Name(), rotateErr)
	}

	accessToken, expiresIn, signErr := issuer.codec.SignAccess(userID, assertion.Email)
	if signErr != nil {
		return TokenPair{}, fmt.Errorf("session.login.%s: %w", verifier.Name(), signErr)
	}

	return TokenPair{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
	}, nil
}

// ExchangeRefreshToken trades a presented refresh token for a fresh pair.
// The token is checked twice: cryptographically here, proving this service
// issued it, and against the stored hash inside Rotate, proving it is the
// currently active one rather than a replayed predecessor.
func (issuer *Issuer) ExchangeRefreshToken(ctx context.Context, presented string) (TokenPair, error) {
	claims, verifyErr := issuer.codec.Verify(presented)
	if verifyErr != nil {
		return TokenPair{}, fmt.Errorf("session.refresh: %w", verifyErr)
	}
	if claims.Expired(issuer.codec.Now()) {
		return TokenPair{}, fmt.Errorf("session.refresh: %w", tokens.ErrTokenExpired)
	}

	refreshToken, rotateErr := issuer.rotator.Rotate(ctx, claims.Subject, presented)
	if rotateErr != nil {
		return TokenPair{}, fmt.Errorf("session.refresh: %w", rotateErr)
	}

	accessToken, expiresIn, signErr := issuer.codec.SignAccess(claims.Subject, claims.Email)
	if signErr != nil {
		return TokenPair{}, fmt.Errorf("session.refresh: %w", signErr)
	}

	return TokenPair{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
	}, nil
}

// VerifyAccessToken validates a bearer access token and rejects expired ones.
func (issuer *Issuer) VerifyAccessToken(presented string) (*tokens.Claims, error) {
	claims, verifyErr := issuer.codec.Verify(presented)
	if verifyErr != nil {
		return nil, fmt.Errorf("session.access: %w", verifyErr)
	}
	if claims.Expired(issuer.codec.Now()) {
		return nil, fmt.Errorf("session.access: %w", tokens.ErrTokenExpired)
	}
	return claims, nil
}
