package store

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// hashRefreshToken derives the one-way hash persisted in place of the raw
// refresh token. Only the hash ever reaches storage.
func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifyRefreshTokenHash compares a presented token against a stored hash in
// constant time over the encoded digests.
func verifyRefreshTokenHash(token string, storedHash string) bool {
	computed := hashRefreshToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
