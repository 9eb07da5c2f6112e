package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nerrad567/gray-logic-myq/internal/auth"
	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-myq/internal/metrics"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

func TestNew_Validation(t *testing.T) {
	fb := newFakeBridge()
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Bridge: fb, Devices: fb}},
		{"no bridge", Deps{Logger: testLogger(), Devices: fb}},
		{"no devices", Deps{Logger: testLogger(), Bridge: fb}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), "", http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), "", http.MethodGet, "/api/v1/health", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code >= http.StatusMultipleChoices {
		t.Errorf("preflight status = %d, want 2xx", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodGet, "/api/v1/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetrics_CountsRequests(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/health", "200")
	before := counterValue(t, counter)

	do(t, router, "", http.MethodGet, "/api/v1/health", "")

	if got := counterValue(t, counter) - before; got != 1 {
		t.Errorf("health request counter delta = %v, want 1", got)
	}

	w := do(t, router, "", http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", w.Code)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth_Rejects(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: auth.RoleAdmin,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	wrongSecret, err := auth.GenerateAccessToken("tester", auth.RoleAdmin, strings.Repeat("x", 40), time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + wrongSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if e := decodeError(t, w); e.Code != ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", e.Code, ErrCodeUnauthorized)
			}
		})
	}
}

func TestAuth_RolePermissions(t *testing.T) {
	srv, fb := testServer(t)
	fb.addDoor("GD1", myq.DoorClosed)
	router := srv.buildRouter()

	tests := []struct {
		name   string
		role   auth.Role
		method string
		path   string
		body   string
		want   int
	}{
		{"viewer reads status", auth.RoleViewer, http.MethodGet, "/api/v1/status", "", http.StatusOK},
		{"viewer lists devices", auth.RoleViewer, http.MethodGet, "/api/v1/devices", "", http.StatusOK},
		{"viewer cannot command", auth.RoleViewer, http.MethodPost, "/api/v1/devices/GD1/commands", `{"command":"open"}`, http.StatusForbidden},
		{"operator commands", auth.RoleOperator, http.MethodPost, "/api/v1/devices/GD1/commands", `{"command":"open"}`, http.StatusAccepted},
		{"operator cannot pair", auth.RoleOperator, http.MethodGet, "/api/v1/pairing/garagedoor", "", http.StatusForbidden},
		{"operator cannot set token", auth.RoleOperator, http.MethodPut, "/api/v1/settings/refresh-token", `{"refresh_token":"rt"}`, http.StatusForbidden},
		{"admin lists pairable", auth.RoleAdmin, http.MethodGet, "/api/v1/pairing/garagedoor", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.role, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Status & Settings Tests ───────────────────────────────────────

func TestStatus(t *testing.T) {
	srv, fb := testServer(t)
	fb.addDoor("GD1", myq.DoorOpen)
	until := time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC)
	fb.set(func(f *fakeBridge) {
		f.status.RateLimitedUntil = &until
		f.status.RateLimitMinutes = 90
	})

	w := do(t, srv.buildRouter(), auth.RoleViewer, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Version != "test" || !resp.Bridge.Configured || resp.Bridge.DevicesManaged != 1 {
		t.Errorf("status = %+v", resp)
	}
	if resp.Bridge.RateLimitMinutes != 90 || resp.Bridge.RateLimitedUntil == nil {
		t.Errorf("rate limit = %d / %v", resp.Bridge.RateLimitMinutes, resp.Bridge.RateLimitedUntil)
	}
}

func TestStatus_Error(t *testing.T) {
	srv, fb := testServer(t)
	fb.set(func(f *fakeBridge) { f.statusErr = errors.New("store down") })

	w := do(t, srv.buildRouter(), auth.RoleViewer, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSetRefreshToken(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		applyErr error
		wantCode int
		wantErr  string
	}{
		{"success", `{"refresh_token":"  rt-123  "}`, nil, http.StatusOK, ""},
		{"invalid json", `{`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank", `{"refresh_token":"   "}`, nil, http.StatusBadRequest, ErrCodeValidation},
		{"rejected", `{"refresh_token":"bad"}`, &myq.AuthError{Err: errors.New("invalid_grant")}, http.StatusBadRequest, ErrCodeAuthFailed},
		{"rate limited", `{"refresh_token":"rt"}`, &myq.RateLimitedError{Remaining: 90 * time.Minute}, http.StatusTooManyRequests, ErrCodeRateLimited},
		{"no account", `{"refresh_token":"rt"}`, myq.ErrNoAccount, http.StatusBadGateway, ErrCodeCloudError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fb := testServer(t)
			fb.set(func(f *fakeBridge) {
				f.status.Configured = false
				f.applyErr = tt.applyErr
			})

			w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodPut, "/api/v1/settings/refresh-token", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantErr != "" {
				if e := decodeError(t, w); e.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
				}
				return
			}

			var st myqbridge.Status
			if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !st.Configured {
				t.Error("Configured = false after success")
			}
			if strings.Contains(w.Body.String(), "rt-123") {
				t.Error("response echoes the refresh token")
			}
		})
	}
}

func TestSetRefreshToken_RetryAfter(t *testing.T) {
	srv, fb := testServer(t)
	fb.set(func(f *fakeBridge) { f.applyErr = &myq.RateLimitedError{Remaining: 30 * time.Second} })

	w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodPut, "/api/v1/settings/refresh-token", `{"refresh_token":"rt"}`)
	if got := w.Header().Get("Retry-After"); got != "31" {
		t.Errorf("Retry-After = %q, want 31", got)
	}
}

func TestSetRefreshToken_RateLimitedPerIP(t *testing.T) {
	srv, _ := testServerWithSecurity(t, config.SecurityConfig{
		JWT:       config.JWTConfig{Secret: testSecret},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})
	router := srv.buildRouter()

	for i := range 2 {
		w := do(t, router, auth.RoleAdmin, http.MethodPut, "/api/v1/settings/refresh-token", `{"refresh_token":"rt"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := do(t, router, auth.RoleAdmin, http.MethodPut, "/api/v1/settings/refresh-token", `{"refresh_token":"rt"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", w.Code)
	}

	// Other routes are not limited.
	if w := do(t, router, auth.RoleAdmin, http.MethodGet, "/api/v1/status", ""); w.Code != http.StatusOK {
		t.Errorf("status route = %d, want 200", w.Code)
	}
}

// ─── Pairing Tests ─────────────────────────────────────────────────

func TestListPairable(t *testing.T) {
	srv, fb := testServer(t)
	fb.set(func(f *fakeBridge) {
		f.pairable[myq.KindGate] = []myq.PairCandidate{{
			Name: "Front Gate",
			Kind: myq.KindGate,
			Data: myq.DeviceData{SerialNumber: "G1", AccountID: "acc-1"},
		}}
	})
	router := srv.buildRouter()

	w := do(t, router, auth.RoleAdmin, http.MethodGet, "/api/v1/pairing/gate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Kind    myq.Kind            `json:"kind"`
		Devices []myq.PairCandidate `json:"devices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Kind != myq.KindGate || len(resp.Devices) != 1 || resp.Devices[0].Data.SerialNumber != "G1" {
		t.Errorf("pairable = %+v", resp)
	}

	if w := do(t, router, auth.RoleAdmin, http.MethodGet, "/api/v1/pairing/toaster", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", w.Code)
	}
}

func TestListPairable_CloudErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"not configured", myq.ErrNotConfigured, http.StatusConflict, ErrCodeNotConfigured},
		{"rate limited", &myq.RateLimitedError{Remaining: time.Hour}, http.StatusTooManyRequests, ErrCodeRateLimited},
		{"auth", &myq.AuthError{Err: errors.New("revoked")}, http.StatusBadGateway, ErrCodeAuthFailed},
		{"transport", &myq.TransportError{Err: errors.New("timeout")}, http.StatusBadGateway, ErrCodeDeviceUnreachable},
		{"api", &myq.APIError{StatusCode: 500, Body: "boom"}, http.StatusBadGateway, ErrCodeCloudError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fb := testServer(t)
			fb.set(func(f *fakeBridge) { f.cloudErr = tt.err })

			w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodGet, "/api/v1/pairing/garagedoor", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			e := decodeError(t, w)
			if e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
			if strings.Contains(e.Message, "boom") {
				t.Errorf("message leaks cloud body: %q", e.Message)
			}
		})
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, fb := testServer(t)
	fb.addDoor("GD1", myq.DoorClosed)
	fb.set(func(f *fakeBridge) {
		f.devices["L1"] = device.Device{SerialNumber: "L1", AccountID: "acc-1", Kind: myq.KindLamp, Name: "Porch"}
	})
	router := srv.buildRouter()

	w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Devices []deviceView `json:"devices"`
		Count   int          `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	for _, v := range resp.Devices {
		switch v.SerialNumber {
		case "GD1":
			if v.State == nil || v.State.State[myq.CapGarageDoorClosed] != true {
				t.Errorf("GD1 state = %+v", v.State)
			}
		case "L1":
			if v.State != nil {
				t.Errorf("L1 state = %+v, want none", v.State)
			}
		}
	}

	w = do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/devices?kind=lamp", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Devices[0].SerialNumber != "L1" {
		t.Errorf("kind filter = %+v", resp.Devices)
	}

	if w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/devices?kind=toaster", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad kind filter status = %d, want 400", w.Code)
	}
}

func TestGetDevice(t *testing.T) {
	srv, fb := testServer(t)
	fb.addDoor("GD1", myq.DoorOpen)
	router := srv.buildRouter()

	w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/devices/GD1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var v deviceView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.SerialNumber != "GD1" || v.Kind != myq.KindGarageDoor || v.State == nil {
		t.Errorf("device = %+v", v)
	}

	if w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/devices/NOPE", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", w.Code)
	}
}

func TestPairDevice(t *testing.T) {
	candidates := []myq.PairCandidate{{
		Name: "Garage",
		Kind: myq.KindGarageDoor,
		Data: myq.DeviceData{SerialNumber: "GD9", AccountID: "acc-1"},
	}}

	tests := []struct {
		name     string
		body     string
		existing bool
		wantCode int
		wantName string
	}{
		{"cloud name", `{"serial_number":"GD9","kind":"garagedoor"}`, false, http.StatusCreated, "Garage"},
		{"custom name", `{"serial_number":"GD9","kind":"garagedoor","name":" Left bay "}`, false, http.StatusCreated, "Left bay"},
		{"already paired", `{"serial_number":"GD9","kind":"garagedoor"}`, true, http.StatusConflict, ""},
		{"not pairable", `{"serial_number":"XX1","kind":"garagedoor"}`, false, http.StatusNotFound, ""},
		{"missing serial", `{"kind":"garagedoor"}`, false, http.StatusBadRequest, ""},
		{"bad kind", `{"serial_number":"GD9","kind":"toaster"}`, false, http.StatusBadRequest, ""},
		{"invalid json", `{"serial_number":`, false, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fb := testServer(t)
			fb.set(func(f *fakeBridge) { f.pairable[myq.KindGarageDoor] = candidates })
			if tt.existing {
				fb.addDoor("GD9", myq.DoorClosed)
			}

			w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodPost, "/api/v1/devices", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantName == "" {
				return
			}
			var v deviceView
			if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if v.Name != tt.wantName || v.AccountID != "acc-1" {
				t.Errorf("paired = %+v, want name %q", v.Device, tt.wantName)
			}
		})
	}
}

func TestPairDevice_ValidationError(t *testing.T) {
	srv, fb := testServer(t)
	fb.set(func(f *fakeBridge) {
		f.pairErr = fmt.Errorf("%w: exceeds 100 characters", device.ErrInvalidName)
	})

	w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodPost, "/api/v1/devices", `{"serial_number":"GD9","kind":"garagedoor"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeValidation {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeValidation)
	}
}

func TestRemoveDevice(t *testing.T) {
	srv, fb := testServer(t)
	fb.addDoor("GD1", myq.DoorClosed)
	router := srv.buildRouter()

	if w := do(t, router, auth.RoleAdmin, http.MethodDelete, "/api/v1/devices/GD1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}
	if _, err := fb.GetDevice("GD1"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("device still present: %v", err)
	}
	if w := do(t, router, auth.RoleAdmin, http.MethodDelete, "/api/v1/devices/GD1", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestSendCommand(t *testing.T) {
	srv, fb := testServer(t)
	fb.addDoor("GD1", myq.DoorClosed)

	w := do(t, srv.buildRouter(), auth.RoleOperator, http.MethodPost, "/api/v1/devices/GD1/commands", `{"command":"open"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	if got := fb.getCommands(); !slices.Equal(got, []string{"GD1:open"}) {
		t.Errorf("commands = %v, want [GD1:open]", got)
	}
}

func TestSendCommand_Failures(t *testing.T) {
	tests := []struct {
		name     string
		serial   string
		body     string
		err      error
		wantCode int
		wantErr  string
		wantMsg  string
	}{
		{"unknown command", "GD1", `{"command":"explode"}`, nil, http.StatusBadRequest, ErrCodeBadRequest, "unknown command: explode"},
		{"invalid json", "GD1", `nope`, nil, http.StatusBadRequest, ErrCodeBadRequest, ""},
		{"unknown device", "NOPE", `{"command":"open"}`, nil, http.StatusNotFound, ErrCodeNotFound, ""},
		{
			"cloud rejected", "GD1", `{"command":"open"}`,
			&myq.CommandFailedError{Serial: "GD1", Command: myq.CommandOpen, Err: &myq.APIError{StatusCode: 500, Body: "secret detail"}},
			http.StatusBadGateway, ErrCodeCloudError, "open command failed, please try again",
		},
		{
			"rate limited", "GD1", `{"command":"close"}`,
			&myq.CommandFailedError{Serial: "GD1", Command: myq.CommandClose, Err: &myq.RateLimitedError{Remaining: time.Hour}},
			http.StatusTooManyRequests, ErrCodeRateLimited, "",
		},
		{
			"offline", "GD1", `{"command":"open"}`,
			&myq.CommandFailedError{Serial: "GD1", Command: myq.CommandOpen, Err: myq.ErrDeviceUnavailable},
			http.StatusBadGateway, ErrCodeDeviceUnreachable, "open command failed, please try again",
		},
		{"not configured", "GD1", `{"command":"open"}`, myq.ErrNotConfigured, http.StatusConflict, ErrCodeNotConfigured, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fb := testServer(t)
			fb.addDoor("GD1", myq.DoorClosed)
			fb.set(func(f *fakeBridge) { f.commandErr = tt.err })

			w := do(t, srv.buildRouter(), auth.RoleOperator, http.MethodPost, "/api/v1/devices/"+tt.serial+"/commands", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			e := decodeError(t, w)
			if e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
			if tt.wantMsg != "" && e.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", e.Message, tt.wantMsg)
			}
			if strings.Contains(e.Message, "secret detail") {
				t.Errorf("message leaks cloud body: %q", e.Message)
			}
		})
	}
}

// ─── WebSocket Ticket Tests ────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), auth.RoleViewer, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ticket, ok := resp["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	entry, ok := srv.tickets.redeem(ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.subject != "tester" || entry.role != auth.RoleViewer {
		t.Errorf("entry = %+v", entry)
	}
	if _, ok := srv.tickets.redeem(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_RequiresAuth(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), "", http.MethodPost, "/api/v1/auth/ws-ticket", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue(ticketEntry{subject: "tester", role: auth.RoleAdmin}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := store.redeem(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelDeviceState: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceState, map[string]any{"device_id": "GD1"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelDeviceState {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"other.channel": {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceState, map[string]any{"device_id": "GD1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Connection Tests ────────────────────────────────────

// dialWS connects to the test server's WebSocket endpoint and subscribes
// to device state changes.
func dialWS(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceState}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var subResp WSMessage
	if err := ws.ReadJSON(&subResp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if subResp.Type != WSTypeResponse || subResp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", subResp)
	}
	return ws
}

func TestWebSocket_StateEvents(t *testing.T) {
	srv, fb := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	// Wire the observer the way Start does.
	srv.bridge.SetStateObserver(func(msg myqbridge.StateMessage) {
		srv.hub.Broadcast(ChannelDeviceState, msg)
	})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, auth.RoleViewer))
	ticketResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer ticketResp.Body.Close()
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(ticketResp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws := dialWS(t, wsURL+"?ticket="+ticket.Ticket, nil)

	fb.mu.Lock()
	observer := fb.observer
	fb.mu.Unlock()
	observer(myqbridge.StateMessage{
		DeviceID:  "GD1",
		Kind:      myq.KindGarageDoor,
		State:     map[string]any{myq.CapGarageDoorClosed: false},
		Available: true,
		Protocol:  myqbridge.Protocol,
	})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var event struct {
		Type      string                 `json:"type"`
		EventType string                 `json:"event_type"`
		Payload   myqbridge.StateMessage `json:"payload"`
	}
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelDeviceState || event.Payload.DeviceID != "GD1" {
		t.Errorf("event = %+v", event)
	}

	// The ticket was consumed by the first dial.
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?ticket="+ticket.Ticket, nil); err == nil {
		t.Error("reused ticket should be rejected")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused ticket response = %v, want 401", resp)
	}
}

func TestWebSocket_BearerHeader(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, auth.RoleViewer))
	ws := dialWS(t, wsURL, header)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("unauthenticated dial should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated response = %v, want 401", resp)
	}
}

func TestStartClose(t *testing.T) {
	fb := newFakeBridge()
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       testWSConfig(),
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:   testLogger(),
		Bridge:   fb,
		Devices:  fb,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fb.mu.Lock()
	wired := fb.observer != nil
	fb.mu.Unlock()
	if !wired {
		t.Error("Start() did not register a state observer")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	fb.mu.Lock()
	cleared := fb.observer == nil
	fb.mu.Unlock()
	if !cleared {
		t.Error("Close() did not clear the state observer")
	}
}
