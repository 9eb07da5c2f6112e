package myq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore implements Store in memory.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func (s *memStore) Unset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memStore) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// fakeCloud is an httptest myQ cloud.
type fakeCloud struct {
	srv *httptest.Server

	mu sync.Mutex

	// token endpoint
	tokenCalls  int
	tokenStatus int
	tokenForms  []map[string]string
	tokenGate   chan struct{} // when set, exchanges block until closed
	tokenSeen   chan struct{} // signalled when an exchange arrives
	expiresIn   int64
	rotate      bool
	accessSeq   int

	// authenticated endpoints
	accounts     []Account
	devicesBody  string
	apiStatus    int
	apiBody      string
	unauthorized int // number of 401s still to return
	apiCalls     int
	deviceCalls  int
	deviceGate   chan struct{} // when set, the next device list blocks until closed
	deviceSeen   chan struct{} // signalled when a gated device list arrives
	bearers      []string
	commands     []string
	headers      http.Header
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	c := &fakeCloud{
		expiresIn:   3600,
		accounts:    []Account{{ID: "acc-1", Name: "Home"}},
		devicesBody: `{"items":[]}`,
	}
	c.srv = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/connect/token" {
		c.serveToken(w, r)
		return
	}

	c.mu.Lock()
	c.apiCalls++
	c.bearers = append(c.bearers, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	c.headers = r.Header.Clone()
	if c.unauthorized > 0 {
		c.unauthorized--
		c.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if c.apiStatus != 0 {
		status, body := c.apiStatus, c.apiBody
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	c.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v6.0/accounts":
		c.mu.Lock()
		data, _ := json.Marshal(itemsResponse[Account]{Items: c.accounts})
		c.mu.Unlock()
		_, _ = w.Write(data)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/Devices"):
		c.mu.Lock()
		c.deviceCalls++
		body := c.devicesBody
		gate, seen := c.deviceGate, c.deviceSeen
		c.deviceGate = nil
		c.mu.Unlock()
		if gate != nil {
			if seen != nil {
				seen <- struct{}{}
			}
			<-gate
		}
		_, _ = w.Write([]byte(body))
	case r.Method == http.MethodPut:
		c.mu.Lock()
		c.commands = append(c.commands, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (c *fakeCloud) serveToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := make(map[string]string)
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	c.mu.Lock()
	c.tokenCalls++
	c.tokenForms = append(c.tokenForms, form)
	gate, seen := c.tokenGate, c.tokenSeen
	c.mu.Unlock()

	if seen != nil {
		select {
		case seen <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokenStatus != 0 {
		w.WriteHeader(c.tokenStatus)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	c.accessSeq++
	resp := map[string]any{
		"access_token": fmt.Sprintf("access-%d", c.accessSeq),
		"expires_in":   c.expiresIn,
		"token_type":   "Bearer",
	}
	if c.rotate {
		resp["refresh_token"] = fmt.Sprintf("refresh-%d", c.accessSeq)
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

func (c *fakeCloud) setDevices(t *testing.T, devices ...map[string]any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"items": devices})
	if err != nil {
		t.Fatalf("marshal devices: %v", err)
	}
	c.mu.Lock()
	c.devicesBody = string(data)
	c.mu.Unlock()
}

func (c *fakeCloud) set(fn func(c *fakeCloud)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeCloud) counts() (token, api, devices int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCalls, c.apiCalls, c.deviceCalls
}

func newTestClient(t *testing.T, cloud *fakeCloud, store Store, clock scheduler.Clock, opts ...func(*ClientOptions)) *Client {
	t.Helper()
	endpoints := SingleHostEndpoints(cloud.srv.URL)
	o := ClientOptions{
		Store:     store,
		Clock:     clock,
		Endpoints: &endpoints,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := NewClient(o)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return c
}

// seedStore returns a store holding a valid token (expiring at exp) and
// a cached account id.
func seedStore(t *testing.T, exp time.Time) *memStore {
	t.Helper()
	s := newMemStore()
	data, err := json.Marshal(TokenState{AccessToken: "seed-access", RefreshToken: "seed-refresh", ExpiresAt: exp})
	if err != nil {
		t.Fatalf("marshal token state: %v", err)
	}
	s.values[SettingTokenState] = string(data)
	s.values[SettingAccountID] = "acc-1"
	return s
}
