package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session identifies the logged-in user for every store call.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	PatientID string    `json:"patient_id,omitempty"`
}

// Can reports whether the session's role may perform action.
func (s Session) Can(action Action) bool {
	return Can(s.Role, action)
}

// Claims is the JWT payload of a session token. Subject holds the user id and
// ID the session id.
type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	PatientID string `json:"patient_id,omitempty"`
}

var ErrInvalidToken = errors.New("invalid session token")

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer using secret for HMAC signing.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for s and returns it with its expiry.
func (i *TokenIssuer) Issue(s Session) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID.String(),
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username:  s.Username,
		Name:      s.Name,
		Role:      string(s.Role),
		PatientID: s.PatientID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies tokenStr and rebuilds the session it carries.
func (i *TokenIssuer) Parse(tokenStr string) (Session, time.Time, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Session{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return Session{}, time.Time{}, fmt.Errorf("%w: session id: %v", ErrInvalidToken, err)
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Session{}, time.Time{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}

	return Session{
		ID:        id,
		UserID:    claims.Subject,
		Username:  claims.Username,
		Name:      claims.Name,
		Role:      role,
		PatientID: claims.PatientID,
	}, claims.ExpiresAt.Time, nil
}
