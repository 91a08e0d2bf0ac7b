package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload embedded in access and refresh tokens issued by this
// service. Email travels alongside the registered claim set so the refresh
// path can re-sign an access token without a directory lookup.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Expired reports whether the token's expiry has passed. Verification never
// rejects on expiry; callers decide how to treat expired tokens.
func (claims *Claims) Expired(now time.Time) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return now.Unix() > claims.ExpiresAt.Unix()
}

// ExpiresIn returns the token lifetime in whole seconds.
func (claims *Claims) ExpiresIn() int64 {
	if claims == nil || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix() - claims.IssuedAt.Unix()
}

// IntendedFor reports whether the token carries the given audience value.
func (claims *Claims) IntendedFor(audience string) bool {
	if claims == nil {
		return false
	}
	for _, presented := range claims.Audience {
		if presented == audience {
			return true
		}
	}
	return false
}

func (claims *Claims) intendedForAny(accepted []string) bool {
	for _, audience := range accepted {
		if claims.IntendedFor(audience) {
			return true
		}
	}
	return false
}
