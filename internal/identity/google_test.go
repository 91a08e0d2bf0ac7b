package identity

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/idtoken"
)

type stubGoogleValidator struct {
	payload *idtoken.Payload
	err     error
}

func (validator *stubGoogleValidator) Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {
	return validator.payload, validator.err
}

func googlePayload(claims map[string]interface{}) *idtoken.Payload {
	return &idtoken.Payload{Claims: claims}
}

func TestGoogleVerifierAcceptsVerifiedIdentity(t *testing.T) {
	t.Parallel()

	verifier := NewGoogleVerifierWithValidator("client-id", &stubGoogleValidator{
		payload: googlePayload(map[string]interface{}{
			"iss":            "https://accounts.google.com",
			"sub":            "google-sub-1",
			"email":          "test@test.io",
			"email_verified": true,
		}),
	})
	assertion, err := verifier.VerifyIDToken(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assertion.Subject != "google-sub-1" || assertion.Email != "test@test.io" {
		t.Fatalf("unexpected assertion: %+v", assertion)
	}
}

func TestGoogleVerifierRejectsValidatorFailure(t *testing.T) {
	t.Parallel()

	verifier := NewGoogleVerifierWithValidator("client-id", &stubGoogleValidator{err: errors.New("bad token")})
	if _, err := verifier.VerifyIDToken(context.Background(), "id-token"); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("expected ErrInvalidAssertion, got %v", err)
	}
}

func TestGoogleVerifierRejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	verifier := NewGoogleVerifierWithValidator("client-id", &stubGoogleValidator{
		payload: googlePayload(map[string]interface{}{
			"iss":            "https://evil.example.com",
			"sub":            "google-sub-1",
			"email":          "test@test.io",
			"email_verified": true,
		}),
	})
	if _, err := verifier.VerifyIDToken(context.Background(), "id-token"); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("expected ErrInvalidAssertion, got %v", err)
	}
}

func TestGoogleVerifierRejectsUnverifiedEmail(t *testing.T) {
	t.Parallel()

	verifier := NewGoogleVerifierWithValidator("client-id", &stubGoogleValidator{
		payload: googlePayload(map[string]interface{}{
			"iss":            "accounts.google.com",
			"sub":            "google-sub-1",
			"email":          "test@test.io",
			"email_verified": false,
		}),
	})
	if _, err := verifier.VerifyIDToken(context.Background(), "id-token"); !errors.Is(err, ErrUnverifiedIdentity) {
		t.Fatalf("expected ErrUnverifiedIdentity, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	google := NewGoogleVerifierWithValidator("client-id", &stubGoogleValidator{})
	registry := NewRegistry(google)

	found, err := registry.Lookup("google")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.Name() != "google" {
		t.Fatalf("expected google verifier, got %s", found.Name())
	}
	if _, err := registry.Lookup("github"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
