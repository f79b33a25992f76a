package identity

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/pkg/pagination"
)

type Handler struct {
	svc      *Service
	issuer   *auth.TokenIssuer
	revoked  *auth.RevocationList
	throttle echo.MiddlewareFunc
}

// NewHandler builds the account endpoints. throttle guards the credential
// endpoints and may be nil.
func NewHandler(svc *Service, issuer *auth.TokenIssuer, revoked *auth.RevocationList, throttle echo.MiddlewareFunc) *Handler {
	if throttle == nil {
		throttle = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return &Handler{svc: svc, issuer: issuer, revoked: revoked, throttle: throttle}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login, h.throttle)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
	api.GET("/auth/bootstrap", h.BootstrapStatus)
	api.POST("/auth/bootstrap", h.Bootstrap, h.throttle)
	api.GET("/auth/security-question", h.SecurityQuestion)
	api.POST("/auth/recover", h.Recover, h.throttle)

	api.GET("/users", h.ListUsers)
	api.GET("/users/:id", h.GetUser)
	api.GET("/doctors", h.ListDoctors)

	admin := api.Group("", auth.RequireAction(auth.ManageUsers))
	admin.POST("/users", h.CreateUser)
	admin.PATCH("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Session   auth.Session `json:"session"`
	User      Profile      `json:"user"`
}

func session(c echo.Context) (auth.Session, error) {
	sess, ok := auth.SessionFromContext(c.Request().Context())
	if !ok {
		return auth.Session{}, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return sess, nil
}

func forbidden() error {
	return echo.NewHTTPError(http.StatusForbidden, "not permitted")
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return apperr.HTTP(err)
	}

	sess := u.Session()
	token, exp, err := h.issuer.Issue(sess)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, Session: sess, User: u.Profile()})
}

func (h *Handler) Logout(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	if h.revoked != nil {
		h.revoked.Revoke(sess.ID, auth.SessionExpiry(c.Request().Context()))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(sess, sess.UserID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

func (h *Handler) BootstrapStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"admin_exists": h.svc.AdminExists()})
}

func (h *Handler) Bootstrap(c echo.Context) error {
	var reg Registration
	if err := c.Bind(&reg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.BootstrapAdmin(c.Request().Context(), reg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, u.Profile())
}

func (h *Handler) SecurityQuestion(c echo.Context) error {
	q, err := h.svc.SecurityQuestion(c.QueryParam("username"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"security_question": q})
}

type recoverRequest struct {
	Username       string `json:"username"`
	SecurityAnswer string `json:"security_answer"`
	NewPassword    string `json:"new_password"`
}

func (h *Handler) Recover(c echo.Context) error {
	var req recoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RecoverPassword(c.Request().Context(), req.Username, req.SecurityAnswer, req.NewPassword); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUsers(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	users := h.svc.List(sess, c.QueryParam("role"))
	return c.JSON(http.StatusOK, pagination.Page(Profiles(users), pg))
}

func (h *Handler) GetUser(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(sess, c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

func (h *Handler) ListDoctors(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Doctors())
}

func (h *Handler) CreateUser(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var reg Registration
	if err := c.Bind(&reg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Register(c.Request().Context(), sess, reg)
	if err != nil {
		return apperr.HTTP(err)
	}
	if u == nil {
		return forbidden()
	}
	return c.JSON(http.StatusCreated, u.Profile())
}

func (h *Handler) UpdateUser(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var patch UserPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Update(c.Request().Context(), sess, c.Param("id"), patch)
	if err != nil {
		return apperr.HTTP(err)
	}
	if u == nil {
		return forbidden()
	}
	return c.JSON(http.StatusOK, u.Profile())
}

func (h *Handler) DeleteUser(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), sess, c.Param("id")); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
