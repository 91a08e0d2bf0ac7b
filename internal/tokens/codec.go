package tokens

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSigningKey indicates the codec was built without a signing secret.
	ErrMissingSigningKey = errors.New("tokens.missing_signing_key")
	// ErrMissingIssuer indicates the codec was built without an issuer identifier.
	ErrMissingIssuer = errors.New("tokens.missing_issuer")
	// ErrInsecureIssuer indicates the issuer is not a secure-transport URL.
	ErrInsecureIssuer = errors.New("tokens.insecure_issuer")
	// ErrMissingAudience indicates no accepted audience values were configured.
	ErrMissingAudience = errors.New("tokens.missing_audience")
	// ErrInvalidLifetime indicates a non-positive token lifetime.
	ErrInvalidLifetime = errors.New("tokens.invalid_lifetime")
	// ErrSigningFailed indicates a token could not be signed.
	ErrSigningFailed = errors.New("tokens.signing_failed")
	// ErrInvalidToken indicates a malformed or forged token.
	ErrInvalidToken = errors.New("tokens.invalid_token")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("tokens.expired")
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

// Config configures the Codec.
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      Clock
}

// Codec signs and verifies the compact HS256 tokens issued by this service.
type Codec struct {
	signingKey []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
}

// NewCodec constructs a Codec after validating the supplied configuration.
// The issuer must be an https URL; non-positive lifetimes are rejected so a
// signed token can never carry iat > exp.
func NewCodec(configuration Config) (*Codec, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("tokens.new: %w", ErrMissingSigningKey)
	}
	issuer := strings.TrimSpace(configuration.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("tokens.new: %w", ErrMissingIssuer)
	}
	parsedIssuer, parseErr := url.Parse(issuer)
	if parseErr != nil || parsedIssuer.Scheme != "https" || parsedIssuer.Host == "" {
		return nil, fmt.Errorf("tokens.new: %w", ErrInsecureIssuer)
	}
	if len(configuration.Audience) == 0 {
		return nil, fmt.Errorf("tokens.new: %w", ErrMissingAudience)
	}
	if configuration.AccessTTL <= 0 || configuration.RefreshTTL <= 0 {
		return nil, fmt.Errorf("tokens.new: %w", ErrInvalidLifetime)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Codec{
		signingKey: configuration.SigningKey,
		issuer:     issuer,
		audience:   configuration.Audience,
		accessTTL:  configuration.AccessTTL,
		refreshTTL: configuration.RefreshTTL,
		clock:      clock,
	}, nil
}

// SignAccess mints a short-lived access token for the subject.
func (codec *Codec) SignAccess(subject string, email string) (string, int64, error) {
	return codec.sign(subject, email, codec.accessTTL)
}

// SignRefresh mints a refresh token for the subject.
func (codec *Codec) SignRefresh(subject string, email string) (string, int64, error) {
	return codec.sign(subject, email, codec.refreshTTL)
}

func (codec *Codec) sign(subject string, email string, lifetime time.Duration) (string, int64, error) {
	if strings.TrimSpace(subject) == "" {
		return "", 0, fmt.Errorf("tokens.sign: %w: subject must be non-empty", ErrSigningFailed)
	}
	issuedAt := codec.clock.Now().UTC()
	expiresAt := issuedAt.Add(lifetime)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(codec.audience),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, signErr := token.SignedString(codec.signingKey)
	if signErr != nil {
		return "", 0, fmt.Errorf("tokens.sign: %w", ErrSigningFailed)
	}
	return signed, expiresAt.Unix() - issuedAt.Unix(), nil
}

// Verify decodes the token and checks signature, issuer, audience, and
// claim consistency. Expiry is not checked here; use Claims.Expired.
func (codec *Codec) Verify(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	if claims.Issuer != codec.issuer {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	if !claims.intendedForAny(codec.audience) {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	if claims.IssuedAt.Unix() > claims.ExpiresAt.Unix() {
		return nil, fmt.Errorf("tokens.verify: %w", ErrInvalidToken)
	}
	return claims, nil
}

// Now exposes the codec clock for callers acting on expiry.
func (codec *Codec) Now() time.Time {
	return codec.clock.Now()
}
