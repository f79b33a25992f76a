package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"
)

// HashSHA256 is the stored digest format of existing user records: an
// unsalted hex SHA-256 of the UTF-8 password.
func HashSHA256(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Hasher produces password hashes in the configured scheme and verifies
// either scheme.
type Hasher struct {
	scheme string
	cost   int
}

// NewHasher returns a Hasher for scheme ("sha256" or "bcrypt").
func NewHasher(scheme string) (*Hasher, error) {
	switch scheme {
	case "", SchemeSHA256:
		return &Hasher{scheme: SchemeSHA256}, nil
	case SchemeBcrypt:
		return &Hasher{scheme: SchemeBcrypt, cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
}

// Scheme returns the scheme new hashes are written in.
func (h *Hasher) Scheme() string {
	return h.scheme
}

func (h *Hasher) Hash(password string) (string, error) {
	if h.scheme == SchemeBcrypt {
		b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(b), nil
	}
	return HashSHA256(password), nil
}

// Verify reports whether password matches stored. Bcrypt hashes are
// recognized by their "$2" prefix; anything else is taken as a hex digest.
func (h *Hasher) Verify(stored, password string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(HashSHA256(password))) == 1
}
