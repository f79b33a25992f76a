package patient

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)

	staff := api.Group("", auth.RequireAction(auth.ViewAllPatients))
	staff.POST("/patients", h.CreatePatient)
	staff.PATCH("/patients/:id", h.UpdatePatient)
}

func session(c echo.Context) (auth.Session, error) {
	sess, ok := auth.SessionFromContext(c.Request().Context())
	if !ok {
		return auth.Session{}, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return sess, nil
}

func (h *Handler) ListPatients(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Page(Views(h.svc.ListVisible(sess)), pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(sess, c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, rec.View())
}

func (h *Handler) CreatePatient(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var in NewPatient
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Create(c.Request().Context(), sess, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusForbidden, "not permitted")
	}
	return c.JSON(http.StatusCreated, rec.View())
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Update(c.Request().Context(), sess, c.Param("id"), p)
	if err != nil {
		return apperr.HTTP(err)
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusForbidden, "not permitted")
	}
	return c.JSON(http.StatusOK, rec.View())
}
