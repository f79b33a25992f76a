package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/config"
	"github.com/healthcenter/hms/internal/platform/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                    "development",
		LogLevel:               "disabled",
		StorageDriver:          config.DriverMemory,
		SessionSecret:          "main-test",
		SessionTTL:             time.Hour,
		PasswordScheme:         "sha256",
		DefaultPatientPassword: "default_password",
		LoginRateLimitRPS:      100,
		LoginRateLimitBurst:    100,
	}
}

func newTestServer(t *testing.T) (*echo.Echo, *storage.MemoryGateway) {
	t.Helper()
	gw := storage.NewMemoryGateway()
	a, err := newApp(context.Background(), testConfig(), gw, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return newServer(a), gw
}

func call(e *echo.Echo, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, strings.NewReader(string(b)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, e *echo.Echo, username, password string) string {
	t.Helper()
	rec := call(e, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func account(name, username, role string) map[string]string {
	return map[string]string{
		"name": name, "username": username, "password": "pw", "confirm": "pw", "role": role,
		"age": "45", "gender": "Female", "email": username + "@example.com", "contact_no": "555-0000",
		"security_question": "Favourite food?", "security_answer": "Soup",
	}
}

func TestServer_Health(t *testing.T) {
	e, _ := newTestServer(t)
	rec := call(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}
	if rec := call(e, http.MethodGet, "/users", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("users without session: expected 401, got %d", rec.Code)
	}
}

func TestServer_EndToEnd(t *testing.T) {
	e, gw := newTestServer(t)

	if rec := call(e, http.MethodPost, "/auth/bootstrap", "", account("Ada Admin", "admin", "")); rec.Code != http.StatusCreated {
		t.Fatalf("bootstrap: %d %s", rec.Code, rec.Body.String())
	}
	admin := loginAs(t, e, "admin", "pw")

	if rec := call(e, http.MethodPost, "/users", admin, account("Greg House", "house", "Doctor")); rec.Code != http.StatusCreated {
		t.Fatalf("register doctor: %d %s", rec.Code, rec.Body.String())
	}

	rec := call(e, http.MethodPost, "/patients", admin, map[string]string{
		"name": "Pat Doe", "age": "31", "gender": "Male", "email": "pat@example.com",
	})
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"patient_id":"P0001"`) {
		t.Fatalf("create patient: %d %s", rec.Code, rec.Body.String())
	}
	pat := loginAs(t, e, "pat@example.com", "default_password")

	booking := map[string]string{
		"patient_id": "P0001", "doctor": "Greg House", "date": "2030-01-07", "time": "09:00", "reason": "checkup",
	}
	if rec := call(e, http.MethodPost, "/appointments", pat, booking); rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	if rec := call(e, http.MethodPost, "/appointments", admin, booking); rec.Code != http.StatusConflict {
		t.Errorf("double booking: expected 409, got %d", rec.Code)
	}

	rec = call(e, http.MethodGet, "/appointments?filter=Upcoming", pat, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("patient appointments: %d %s", rec.Code, rec.Body.String())
	}

	doctor := loginAs(t, e, "house", "pw")
	rec = call(e, http.MethodGet, "/patients/P0001", doctor, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"appointments":["A0001"]`) {
		t.Errorf("patient record: %d %s", rec.Code, rec.Body.String())
	}

	var stored []map[string]interface{}
	if err := json.Unmarshal(gw.Bytes(storage.Appointments), &stored); err != nil || len(stored) != 1 {
		t.Fatalf("stored appointments: %v %s", err, gw.Bytes(storage.Appointments))
	}
	if stored[0]["status"] != "Pending" {
		t.Errorf("stored status = %v", stored[0]["status"])
	}

	rec = call(e, http.MethodGet, "/metrics", "", nil)
	body := rec.Body.String()
	for _, want := range []string{"hms_appointment_operations_total", "hms_storage_writes_total", "hms_auth_attempts_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.LogLevel = "warn"
	if got := newLogger(cfg).GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("level = %s, want warn", got)
	}
	cfg.LogLevel = "chatty"
	if got := newLogger(cfg).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("bad level should fall back to info, got %s", got)
	}
}
