package accesstoken

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

func mintToken(t *testing.T, signingKey []byte, issuer string, audience []string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-123",
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	result, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return result
}

func TestNewValidatorRequiresSigningKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Issuer: "https://issuer/"})
	if err == nil || !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
}

func TestNewValidatorDefaults(t *testing.T) {
	t.Parallel()

	validator, err := New(Config{
		SigningKey: []byte("secret"),
		Issuer:     "https://issuer/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "https://issuer/",
		Audience:   "ios",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tokenValue := mintToken(t, []byte("secret-key"), "https://issuer/", []string{"ios", "web"}, now, time.Minute)

	claims, validateErr := validator.ValidateToken(tokenValue)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.GetUserID() != "user-123" || claims.GetEmail() != "user@example.com" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if !claims.GetExpiresAt().Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.GetExpiresAt())
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name      string
		tokenFunc func() string
		expectErr error
	}{
		{
			name:      "empty token",
			tokenFunc: func() string { return "" },
			expectErr: ErrMissingToken,
		},
		{
			name: "bad signature",
			tokenFunc: func() string {
				return mintToken(t, []byte("other-key"), "https://issuer/", []string{"ios"}, now, time.Minute)
			},
			expectErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "https://other/", []string{"ios"}, now, time.Minute)
			},
			expectErr: ErrInvalidIssuer,
		},
		{
			name: "wrong audience",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "https://issuer/", []string{"android"}, now, time.Minute)
			},
			expectErr: ErrInvalidAudience,
		},
		{
			name: "expired",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "https://issuer/", []string{"ios"}, now.Add(-2*time.Minute), time.Minute)
			},
			expectErr: ErrTokenExpired,
		},
	}

	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "https://issuer/",
		Audience:   "ios",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, validateErr := validator.ValidateToken(testCase.tokenFunc())
			if validateErr == nil || !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, validateErr)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tokenValue := mintToken(t, []byte("secret-key"), "https://issuer/", nil, now, time.Minute)
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "https://issuer/",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer "+tokenValue)
	claims, validateErr := validator.ValidateRequest(request)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.GetUserID() != "user-123" {
		t.Fatalf("unexpected user: %v", claims.GetUserID())
	}

	badRequest := httptest.NewRequest(http.MethodGet, "/protected", nil)
	_, missingErr := validator.ValidateRequest(badRequest)
	if missingErr == nil || !errors.Is(missingErr, ErrMissingBearer) {
		t.Fatalf("expected missing bearer error, got %v", missingErr)
	}

	basicRequest := httptest.NewRequest(http.MethodGet, "/protected", nil)
	basicRequest.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, schemeErr := validator.ValidateRequest(basicRequest)
	if schemeErr == nil || !errors.Is(schemeErr, ErrMissingBearer) {
		t.Fatalf("expected missing bearer error for basic auth, got %v", schemeErr)
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	tokenValue := mintToken(t, []byte("secret-key"), "https://issuer/", nil, now, time.Minute)
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "https://issuer/",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router := gin.New()
	router.Use(validator.GinMiddleware("claims"))
	router.GET("/protected", func(contextGin *gin.Context) {
		value, exists := contextGin.Get("claims")
		if !exists {
			t.Fatalf("claims missing")
		}
		if _, ok := value.(*Claims); !ok {
			t.Fatalf("unexpected claims type: %T", value)
		}
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer "+tokenValue)
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}

	requestMissing := httptest.NewRequest(http.MethodGet, "/protected", nil)
	responseMissing := httptest.NewRecorder()
	router.ServeHTTP(responseMissing, requestMissing)
	if responseMissing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing bearer token, got %d", responseMissing.Code)
	}
}
