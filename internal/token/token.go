// Package token mints and validates the opaque access tokens that gate
// shares and uploads. A token is the sole credential for its resource, so
// it carries 128 bits from a CSPRNG and nothing derived from the resource.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Length is the number of characters in an encoded token: 16 random bytes
// as uppercase hex.
const Length = 32

// ErrInvalid reports input that is not a well-formed token. Malformed
// input is rejected here, before any storage lookup, so the token field
// can never be abused as a path.
var ErrInvalid = errors.New("invalid token")

// A Token is an opaque, URL-safe access credential.
type Token string

func (t Token) String() string {
	return string(t)
}

// Generate returns a fresh token. Uniqueness against live tokens is the
// store's job; the entropy here makes collisions negligible to begin with.
func Generate() (Token, error) {
	var b [Length / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return Token(strings.ToUpper(hex.EncodeToString(b[:]))), nil
}

// Parse validates length and character set.
func Parse(raw string) (Token, error) {
	if len(raw) != Length {
		return "", ErrInvalid
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", ErrInvalid
		}
	}
	return Token(raw), nil
}
