package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass session checks: probes, metrics and the endpoints used
// before a session exists.
var publicPaths = map[string]bool{
	"/health":                 true,
	"/health/db":              true,
	"/metrics":                true,
	"/auth/login":             true,
	"/auth/bootstrap":         true,
	"/auth/security-question": true,
	"/auth/recover":           true,
}

// AuthSkipper returns true for requests whose route needs no session.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is reachable without a session.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
