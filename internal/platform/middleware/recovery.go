package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/platform/auth"
)

const stackSize = 4096

// Recovery turns a handler panic into a 500. The log entry names the request
// and, once the session middleware has run, the account that made it. A
// panic may leave the in-memory collections half mutated; nothing is rolled
// back.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path())
				if sess, ok := auth.SessionFromContext(c.Request().Context()); ok {
					evt = evt.Str("user_id", sess.UserID).Str("role", string(sess.Role))
				}
				cause, isErr := r.(error)
				if !isErr {
					cause = fmt.Errorf("%v", r)
				}
				evt.Err(cause).Bytes("stack", stack).Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(cause)
			}()
			return next(c)
		}
	}
}
