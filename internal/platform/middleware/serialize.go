package middleware

import (
	"sync"

	"github.com/labstack/echo/v4"
)

// Serialize runs handlers one at a time. The record stores keep their
// collections in memory without locking, so every request that reaches them
// must pass through the same Serialize instance.
func Serialize() echo.MiddlewareFunc {
	var mu sync.Mutex
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return next(c)
		}
	}
}
