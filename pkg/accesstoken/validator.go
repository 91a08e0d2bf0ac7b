// Package accesstoken validates access tokens minted by the auth service.
// It is intended for downstream services that trust the shared signing key
// and want to authenticate requests without talking to the auth backend.
package accesstoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	Clock      Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_claims"

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("access_validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("access_validator.missing_issuer")
	ErrMissingToken      = errors.New("access_validator.missing_token")
	ErrMissingBearer     = errors.New("access_validator.missing_bearer")
	ErrInvalidToken      = errors.New("access_validator.invalid_token")
	ErrInvalidIssuer     = errors.New("access_validator.invalid_issuer")
	ErrInvalidAudience   = errors.New("access_validator.invalid_audience")
	ErrTokenExpired      = errors.New("access_validator.expired")
)

// Validator validates bearer access tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	audience   string
	clock      Clock
}

// Claims represent the payload embedded inside access tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identifier the token was issued to.
func (claims *Claims) GetUserID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// GetEmail returns the email associated with the token.
func (claims *Claims) GetEmail() string {
	if claims == nil {
		return ""
	}
	return claims.Email
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("access_validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("access_validator.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		audience:   configuration.Audience,
		clock:      clock,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return validator.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("access_validator.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidIssuer)
	}
	if validator.audience != "" && !claimsIncludeAudience(claims, validator.audience) {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidAudience)
	}
	current := validator.clock.Now()
	if claims.ExpiresAt != nil && current.After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrTokenExpired)
	}
	if claims.NotBefore != nil && current.Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidToken)
	}
	if claims.IssuedAt != nil && current.Before(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("access_validator.validate_token: %w", ErrInvalidToken)
	}
	return claims, nil
}

func claimsIncludeAudience(claims *Claims, expected string) bool {
	for _, audience := range claims.Audience {
		if audience == expected {
			return true
		}
	}
	return false
}

// ValidateRequest reads the bearer token from the Authorization header and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("access_validator.validate_request: %w", ErrMissingToken)
	}
	header := request.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("access_validator.validate_request: %w", ErrMissingBearer)
	}
	return validator.ValidateToken(strings.TrimSpace(token))
}

// GinMiddleware returns a Gin middleware that validates the bearer token and injects claims.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}
