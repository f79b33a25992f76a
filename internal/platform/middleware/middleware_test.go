package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/platform/auth"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}

	e := echo.New()
	handler := RateLimit(cfg)(okHandler)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/login", nil), rec)

		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}

	e := echo.New()
	handler := RateLimit(cfg)(okHandler)

	for i := 0; i < 2; i++ {
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/login", nil), httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/login", nil), rec)
	err := handler(c)
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}

	e := echo.New()
	handler := RateLimit(cfg)(okHandler)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Errorf("first request from %s should pass, got %v", ip, err)
		}
	}
}

func TestIPRateLimiter_DropsIdleClients(t *testing.T) {
	l := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Limiter("10.0.0.1")
	now = now.Add(2 * time.Minute)
	l.Limiter("10.0.0.2")

	if l.Len() != 1 {
		t.Errorf("expected idle client dropped, tracking %d", l.Len())
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	handler := RequestID()(Logger(logger)(okHandler))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), rec)
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rid := rec.Header().Get("X-Request-ID")
	if rid == "" {
		t.Fatal("expected a generated request id")
	}
	out := buf.String()
	if !strings.Contains(out, rid) || !strings.Contains(out, `"path":"/patients"`) {
		t.Errorf("log line missing request fields: %s", out)
	}
}

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	e := echo.New()
	handler := Recovery(zerolog.New(&logs))(func(echo.Context) error {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
	req = req.WithContext(auth.WithSession(req.Context(), auth.Session{UserID: "U0003", Role: auth.RoleNurse}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/appointments")
	c.Set("request_id", "req-1")

	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if he.Internal == nil || he.Internal.Error() != "boom" {
		t.Errorf("panic value not kept as internal error: %v", he.Internal)
	}
	for _, want := range []string{`"user_id":"U0003"`, `"request_id":"req-1"`, `"route":"/appointments"`, `"error":"boom"`} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %s: %s", want, logs.String())
		}
	}
}

func TestSerialize(t *testing.T) {
	e := echo.New()
	var inFlight, maxInFlight int32
	handler := Serialize()(func(c echo.Context) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("handlers overlapped: %d in flight", maxInFlight)
	}
}
