// Package metrics exposes Prometheus counters for logins, appointment
// operations, collection writes and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several instances can coexist in
// tests. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	authAttempts   *prometheus.CounterVec
	appointmentOps *prometheus.CounterVec
	storageWrites  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the HMS metrics plus the Go runtime collector.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hms_auth_attempts_total",
				Help: "Login and password recovery attempts by outcome.",
			},
			[]string{"method", "status"},
		),
		appointmentOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hms_appointment_operations_total",
				Help: "Appointment mutations by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		storageWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hms_storage_writes_total",
				Help: "Whole-collection writes by collection and outcome.",
			},
			[]string{"collection", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hms_http_requests_total",
				Help: "HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hms_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		c.authAttempts,
		c.appointmentOps,
		c.storageWrites,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordAuthAttempt counts a login ("password") or recovery attempt.
func (c *Collector) RecordAuthAttempt(method string, err error) {
	if c == nil {
		return
	}
	c.authAttempts.WithLabelValues(method, outcome(err)).Inc()
}

// RecordAppointmentOp counts book, reschedule, cancel and status updates.
func (c *Collector) RecordAppointmentOp(operation string, err error) {
	if c == nil {
		return
	}
	c.appointmentOps.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveWrite implements storage.WriteObserver.
func (c *Collector) ObserveWrite(collection string, err error) {
	if c == nil {
		return
	}
	c.storageWrites.WithLabelValues(collection, outcome(err)).Inc()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Middleware records every request under its route template.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			c.RecordHTTPRequest(ec.Request().Method, ec.Path(), status, time.Since(start))
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
