package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const opaqueTokenSize = 32

// NewOpaqueToken returns 32 random bytes encoded as unpadded base64url.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidateOpaqueToken rejects strings that cannot be a token from
// NewOpaqueToken, before any store lookup.
func ValidateOpaqueToken(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return err
	}
	if len(raw) != opaqueTokenSize {
		return errors.New("invalid token size")
	}
	return nil
}

// HashOpaque returns the hex SHA-256 of s.
func HashOpaque(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two hex digests in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
