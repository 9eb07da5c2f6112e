package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/auth"
	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeBridge implements Bridge and DeviceLister in memory.
type fakeBridge struct {
	mu sync.Mutex

	status    myqbridge.Status
	statusErr error

	applyErr     error
	appliedToken []string

	pairable map[myq.Kind][]myq.PairCandidate
	cloudErr error
	pairErr  error

	devices map[string]device.Device
	states  map[string]myqbridge.StateMessage

	commandErr error
	commands   []string

	observer func(myqbridge.StateMessage)
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		status:   myqbridge.Status{Configured: true, MQTTConnected: true},
		pairable: make(map[myq.Kind][]myq.PairCandidate),
		devices:  make(map[string]device.Device),
		states:   make(map[string]myqbridge.StateMessage),
	}
}

func (f *fakeBridge) Status(context.Context) (myqbridge.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.DevicesManaged = len(f.devices)
	return st, f.statusErr
}

func (f *fakeBridge) ApplyRefreshToken(_ context.Context, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := strings.TrimSpace(raw)
	if token == "" {
		return myqbridge.ErrEmptyRefreshToken
	}
	f.appliedToken = append(f.appliedToken, token)
	if f.applyErr != nil {
		return f.applyErr
	}
	f.status.Configured = true
	return nil
}

func (f *fakeBridge) ListPairable(_ context.Context, kind myq.Kind) ([]myq.PairCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cloudErr != nil {
		return nil, f.cloudErr
	}
	return append([]myq.PairCandidate{}, f.pairable[kind]...), nil
}

func (f *fakeBridge) PairDevice(_ context.Context, serial string, kind myq.Kind, name string) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cloudErr != nil {
		return nil, f.cloudErr
	}
	if f.pairErr != nil {
		return nil, f.pairErr
	}
	if _, ok := f.devices[serial]; ok {
		return nil, device.ErrDeviceExists
	}
	for _, c := range f.pairable[kind] {
		if c.Data.SerialNumber != serial {
			continue
		}
		if name == "" {
			name = c.Name
		}
		d := device.Device{SerialNumber: serial, AccountID: c.Data.AccountID, Kind: kind, Name: name}
		f.devices[serial] = d
		return &d, nil
	}
	return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
}

func (f *fakeBridge) RemoveDevice(_ context.Context, serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[serial]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(f.devices, serial)
	delete(f.states, serial)
	return nil
}

func (f *fakeBridge) SendCommand(_ context.Context, serial string, cmd myq.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[serial]; !ok {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}
	if f.commandErr != nil {
		return f.commandErr
	}
	f.commands = append(f.commands, serial+":"+string(cmd))
	return nil
}

func (f *fakeBridge) DeviceState(serial string) (myqbridge.StateMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[serial]
	if !ok {
		return myqbridge.StateMessage{}, device.ErrDeviceNotFound
	}
	return st, nil
}

func (f *fakeBridge) GetMetrics() myqbridge.BridgeMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return myqbridge.BridgeMetrics{Configured: f.status.Configured, DevicesManaged: len(f.devices)}
}

func (f *fakeBridge) SetStateObserver(fn func(myqbridge.StateMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = fn
}

func (f *fakeBridge) ListDevices() []device.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]device.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out
}

func (f *fakeBridge) GetDevice(serial string) (device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[serial]
	if !ok {
		return device.Device{}, device.ErrDeviceNotFound
	}
	return d, nil
}

func (f *fakeBridge) set(fn func(f *fakeBridge)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// addDoor pairs a garage door with a cached state.
func (f *fakeBridge) addDoor(serial, doorState string) {
	f.set(func(f *fakeBridge) {
		f.devices[serial] = device.Device{SerialNumber: serial, AccountID: "acc-1", Kind: myq.KindGarageDoor, Name: "Door " + serial}
		f.states[serial] = myqbridge.StateMessage{
			DeviceID:  serial,
			Kind:      myq.KindGarageDoor,
			State:     map[string]any{myq.CapGarageDoorClosed: doorState == myq.DoorClosed},
			Available: true,
			Protocol:  myqbridge.Protocol,
		}
	})
}

func (f *fakeBridge) getCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server over a fake bridge.
func testServer(t *testing.T) (*Server, *fakeBridge) {
	t.Helper()
	return testServerWithSecurity(t, config.SecurityConfig{
		JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
	})
}

func testServerWithSecurity(t *testing.T, sec config.SecurityConfig) (*Server, *fakeBridge) {
	t.Helper()
	fb := newFakeBridge()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS:     config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		WS:       testWSConfig(),
		Security: sec,
		Logger:   testLogger(),
		Bridge:   fb,
		Devices:  fb,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, fb
}

func tokenFor(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateAccessToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return token
}

// do sends a request through the router as role. An empty role sends no
// Authorization header.
func do(t *testing.T, h http.Handler, role auth.Role, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, role))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}
