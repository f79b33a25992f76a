package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SessionKey contextKey = "session"
	expiresKey contextKey = "session_expires"
)

// WithSession stores s on ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// SessionFromContext returns the session set by RequireSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(SessionKey).(Session)
	return s, ok
}

// SessionExpiry returns when the request's token lapses.
func SessionExpiry(ctx context.Context) time.Time {
	t, _ := ctx.Value(expiresKey).(time.Time)
	return t
}

// SessionResolver looks up the account a session was issued for. It returns
// the session carrying the account's current role, name and patient id, or
// false when the account no longer exists.
type SessionResolver interface {
	ResolveSession(s Session) (Session, bool)
}

// RequireSession validates the bearer token on every request not matched by
// skipper and puts the session on the request context. With a resolver the
// token only identifies the account; its role and name come from the store.
func RequireSession(issuer *TokenIssuer, revoked *RevocationList, resolver SessionResolver, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			sess, exp, err := issuer.Parse(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			if revoked != nil && revoked.IsRevoked(sess.ID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session has ended")
			}
			if resolver != nil {
				current, ok := resolver.ResolveSession(sess)
				if !ok {
					return echo.NewHTTPError(http.StatusUnauthorized, "account no longer exists")
				}
				sess = current
			}

			ctx := WithSession(c.Request().Context(), sess)
			ctx = context.WithValue(ctx, expiresKey, exp)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
