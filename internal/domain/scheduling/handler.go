package scheduling

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
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.GET("/time-slots", h.ListTimeSlots)

	book := api.Group("", auth.RequireAction(auth.BookAppointment))
	book.POST("/appointments", h.BookAppointment)
	book.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
	book.POST("/appointments/:id/cancel", h.CancelAppointment)

	status := api.Group("", auth.RequireAction(auth.UpdateAppointmentStatus))
	status.PUT("/appointments/:id/status", h.UpdateStatus)

	staff := api.Group("", auth.RequireAction(auth.ViewAllPatients))
	staff.GET("/doctors/:name/appointments", h.ListDoctorSchedule)
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

// respond renders a mutated appointment. A nil appointment without an error
// means the store refused the write.
func (h *Handler) respond(c echo.Context, sess auth.Session, code int, a *Appointment, err error) error {
	if err != nil {
		return apperr.HTTP(err)
	}
	if a == nil {
		return forbidden()
	}
	e, err := h.svc.Detail(sess, a.ApptID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(code, e.View())
}

func (h *Handler) ListAppointments(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	filter := c.QueryParam("filter")
	if filter == "" {
		filter = FilterAll
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Page(Views(h.svc.List(sess, filter)), pg))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Detail(sess, c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e.View())
}

func (h *Handler) ListTimeSlots(c echo.Context) error {
	return c.JSON(http.StatusOK, TimeSlots())
}

func (h *Handler) ListDoctorSchedule(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Page(Views(h.svc.ListByDoctor(sess, c.Param("name"))), pg))
}

func (h *Handler) BookAppointment(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var b Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Book(c.Request().Context(), sess, b)
	return h.respond(c, sess, http.StatusCreated, a, err)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), sess, c.Param("id"), req.Date, req.Time)
	return h.respond(c, sess, http.StatusOK, a, err)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), sess, c.Param("id"))
	return h.respond(c, sess, http.StatusOK, a, err)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), sess, c.Param("id"), req.Status)
	return h.respond(c, sess, http.StatusOK, a, err)
}
