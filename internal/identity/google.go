package identity

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
)

// GoogleTokenValidator abstracts the Google ID token validation call.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier validates Google-issued ID tokens for a web client ID.
type GoogleVerifier struct {
	clientID  string
	validator GoogleTokenValidator
}

// NewGoogleVerifier constructs a verifier backed by Google's certificate endpoints.
func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity.google.init: %w", err)
	}
	return NewGoogleVerifierWithValidator(clientID, validator), nil
}

// NewGoogleVerifierWithValidator constructs a verifier with an injected
// validator. Used by tests.
func NewGoogleVerifierWithValidator(clientID string, validator GoogleTokenValidator) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, validator: validator}
}

// Name returns the provider identifier.
func (verifier *GoogleVerifier) Name() string {
	return "google"
}

// VerifyIDToken validates signature and audience via Google, then gates on
// issuer and email verification before yielding the identity facts.
func (verifier *GoogleVerifier) VerifyIDToken(ctx context.Context, idToken string) (Assertion, error) {
	payload, validateErr := verifier.validator.Validate(ctx, idToken, verifier.clientID)
	if validateErr != nil {
		return Assertion{}, fmt.Errorf("identity.google.verify: %w", ErrInvalidAssertion)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return Assertion{}, fmt.Errorf("identity.google.issuer: %w", ErrInvalidAssertion)
	}
	subject, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if subject == "" || email == "" || !emailVerified {
		return Assertion{}, fmt.Errorf("identity.google.claims: %w", ErrUnverifiedIdentity)
	}
	return Assertion{Subject: subject, Email: email}, nil
}
