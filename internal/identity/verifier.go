package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAssertion indicates the provider rejected the identity assertion.
	ErrInvalidAssertion = errors.New("identity.invalid_assertion")
	// ErrUnverifiedIdentity indicates the assertion lacks a verified subject or email.
	ErrUnverifiedIdentity = errors.New("identity.unverified")
	// ErrUnknownProvider indicates no verifier is registered under the name.
	ErrUnknownProvider = errors.New("identity.unknown_provider")
)

// Assertion is the verified outcome of a provider ID token check: the
// provider-scoped subject and the email the provider asserts ownership of.
type Assertion struct {
	Subject string
	Email   string
}

// Verifier validates a third-party identity assertion. Implementations
// return identity facts only and make no authorization decisions.
type Verifier interface {
	// Name returns the provider identifier (e.g. "google", "apple").
	Name() string

	// VerifyIDToken validates the provider-issued ID token and returns the
	// verified subject and email.
	VerifyIDToken(ctx context.Context, idToken string) (Assertion, error)
}

// Registry resolves verifiers by provider name.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry builds a registry from the given verifiers.
func NewRegistry(verifiers ...Verifier) *Registry {
	registry := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, verifier := range verifiers {
		registry.verifiers[verifier.Name()] = verifier
	}
	return registry
}

// Lookup returns the verifier registered under the provider name.
func (registry *Registry) Lookup(provider string) (Verifier, error) {
	verifier, ok := registry.verifiers[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("identity.registry.%s: %w", provider, ErrUnknownProvider)
	}
	return verifier, nil
}

// Providers lists the registered provider names.
func (registry *Registry) Providers() []string {
	names := make([]string, 0, len(registry.verifiers))
	for name := range registry.verifiers {
		names = append(names, name)
	}
	return names
}
