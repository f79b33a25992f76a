package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is the role carried by a user record.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleDoctor  Role = "Doctor"
	RoleNurse   Role = "Nurse"
	RolePatient Role = "Patient"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleDoctor, RoleNurse, RolePatient}

// ParseRole accepts an exact role name.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// Action names a capability checked by the record stores.
type Action string

const (
	ViewAllUsers            Action = "view-all-users"
	ManageUsers             Action = "manage-users"
	ViewAllPatients         Action = "view-all-patients"
	EditClinicalFields      Action = "edit-clinical-fields"
	BookAppointment         Action = "book-appointment"
	UpdateAppointmentStatus Action = "update-appointment-status"
	ViewOwnOnly             Action = "view-own-only"
)

var policy = map[Action][]Role{
	ViewAllUsers:            {RoleAdmin},
	ManageUsers:             {RoleAdmin},
	ViewAllPatients:         {RoleAdmin, RoleDoctor, RoleNurse},
	EditClinicalFields:      {RoleAdmin, RoleDoctor},
	BookAppointment:         {RoleAdmin, RoleNurse, RolePatient},
	UpdateAppointmentStatus: {RoleAdmin, RoleNurse},
	ViewOwnOnly:             {RoleDoctor, RolePatient},
}

// Can reports whether role may perform action. Unknown roles and actions are
// denied.
func Can(role Role, action Action) bool {
	for _, r := range policy[action] {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that checks the session carries one of the
// given roles. Admin always passes.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, ok := SessionFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "no session")
			}
			for _, required := range roles {
				if sess.Role == required || sess.Role == RoleAdmin {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// RequireAction returns middleware that checks the session's role against the
// access policy.
func RequireAction(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, ok := SessionFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "no session")
			}
			if !Can(sess.Role, action) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("%s may not %s", sess.Role, action))
			}
			return next(c)
		}
	}
}
