// Package apperr defines the error taxonomy shared by the record stores and
// its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrSlotConflict       = errors.New("time slot already booked")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrRecovery           = errors.New("incorrect answer to security question")
	ErrStorage            = errors.New("storage failure")
)

// Validation returns an ErrValidation carrying a display message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Storage wraps a persistence failure for the named collection.
func Storage(collection string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, collection, err)
}

// Status maps an error from the taxonomy to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRecovery):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// HTTP converts err into an echo.HTTPError. Storage and unknown errors are
// reported without their internal detail.
func HTTP(err error) *echo.HTTPError {
	code := Status(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error())
}
