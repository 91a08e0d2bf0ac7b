package identity

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	appleIssuer  = "https://appleid.apple.com"
	appleJWKSURL = "https://appleid.apple.com/auth/keys"
)

// AppleVerifier validates Sign in with Apple ID tokens against Apple's JWKS.
type AppleVerifier struct {
	clientID string
	keyfunc  jwt.Keyfunc
}

// NewAppleVerifier constructs a verifier that fetches and caches Apple's
// signing keys.
func NewAppleVerifier(ctx context.Context, clientID string) (*AppleVerifier, error) {
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{appleJWKSURL})
	if err != nil {
		return nil, fmt.Errorf("identity.apple.init: %w", err)
	}
	return NewAppleVerifierWithKeyfunc(clientID, jwks.Keyfunc), nil
}

// NewAppleVerifierWithKeyfunc constructs a verifier with an injected key
// resolver. Used by tests.
func NewAppleVerifierWithKeyfunc(clientID string, resolver jwt.Keyfunc) *AppleVerifier {
	return &AppleVerifier{clientID: clientID, keyfunc: resolver}
}

// Name returns the provider identifier.
func (verifier *AppleVerifier) Name() string {
	return "apple"
}

// VerifyIDToken validates the Apple ID token signature, issuer, and audience,
// and yields the identity facts.
func (verifier *AppleVerifier) VerifyIDToken(ctx context.Context, idToken string) (Assertion, error) {
	claims := jwt.MapClaims{}
	parsedToken, parseErr := jwt.ParseWithClaims(idToken, claims, verifier.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(verifier.clientID),
	)
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return Assertion{}, fmt.Errorf("identity.apple.verify: %w", ErrInvalidAssertion)
	}
	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if subject == "" || email == "" {
		return Assertion{}, fmt.Errorf("identity.apple.claims: %w", ErrUnverifiedIdentity)
	}
	return Assertion{Subject: subject, Email: email}, nil
}
