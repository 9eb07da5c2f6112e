package myq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-myq/internal/metrics"
	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
)

const (
	// SettingTokenState is the store key holding the TokenState JSON.
	SettingTokenState = "myq_token_state"

	// tokenRefreshMargin is subtracted from expires_in so the access
	// token is replaced before the cloud rejects it.
	tokenRefreshMargin = 3 * time.Minute

	refreshFlightKey = "refresh"
)

// TokenManager owns the OAuth refresh-token state.
//
// Concurrent refreshes share one in-flight exchange: the myQ refresh
// token is single use, so two parallel exchanges would invalidate each
// other.
//
// Thread Safety: All methods are safe for concurrent use.
type TokenManager struct {
	oauth     *oauth2.Config
	transport *Transport
	limiter   *RateLimiter
	store     Store
	clock     scheduler.Clock
	logger    Logger

	mu    sync.RWMutex
	state *TokenState

	// exchangeMu keeps Configure and refresh from exchanging at the same time.
	exchangeMu sync.Mutex
	flight     singleflight.Group
}

func newTokenManager(cfg *oauth2.Config, transport *Transport, limiter *RateLimiter,
	store Store, clock scheduler.Clock, logger Logger) *TokenManager {
	return &TokenManager{
		oauth:     cfg,
		transport: transport,
		limiter:   limiter,
		store:     store,
		clock:     clock,
		logger:    logger,
	}
}

// Init loads persisted token state. A corrupt record is logged and
// treated as unconfigured.
func (m *TokenManager) Init(ctx context.Context) error {
	raw, ok, err := m.store.Get(ctx, SettingTokenState)
	if err != nil {
		return fmt.Errorf("loading token state: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var st TokenState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		m.logger.Warn("ignoring unreadable token state", "error", err)
		return nil
	}

	m.mu.Lock()
	m.state = &st
	m.mu.Unlock()
	return nil
}

// IsConfigured reports whether a refresh token is held.
func (m *TokenManager) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != nil && m.state.RefreshToken != ""
}

// State returns a copy of the current token state.
func (m *TokenManager) State() (TokenState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return TokenState{}, false
	}
	return *m.state, true
}

// Configure exchanges a new refresh token immediately. Stored state is
// replaced only when the exchange succeeds; any failure is an *AuthError.
func (m *TokenManager) Configure(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return &AuthError{Err: errors.New("refresh token is empty")}
	}

	m.exchangeMu.Lock()
	defer m.exchangeMu.Unlock()

	st, err := m.exchange(ctx, refreshToken, "configure")
	if err != nil {
		return &AuthError{Err: err}
	}
	m.replace(ctx, st)
	return nil
}

// EnsureAccessToken returns a valid access token, refreshing first when
// the cached one is missing or expired.
func (m *TokenManager) EnsureAccessToken(ctx context.Context) (string, error) {
	tok, err := m.ensureToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (m *TokenManager) ensureToken(ctx context.Context) (*oauth2.Token, error) {
	st, ok := m.State()
	if !ok || st.RefreshToken == "" {
		return nil, ErrNotConfigured
	}
	if err := m.limiter.CheckAllowed(); err != nil {
		return nil, err
	}

	if st.AccessToken == "" || !m.clock.Now().Before(st.ExpiresAt) {
		if err := m.refresh(ctx, st.AccessToken); err != nil {
			return nil, err
		}
		st, _ = m.State()
	}

	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: st.RefreshToken,
		Expiry:       st.ExpiresAt,
	}, nil
}

// Refresh forces an exchange of the current refresh token. On failure
// the stored state is left untouched and the error is returned as is.
func (m *TokenManager) Refresh(ctx context.Context) error {
	st, _ := m.State()
	return m.refresh(ctx, st.AccessToken)
}

// refresh exchanges the refresh token unless another caller already
// replaced the stale access token. Callers that arrive while an exchange
// is in flight wait for its result instead of starting their own.
func (m *TokenManager) refresh(ctx context.Context, stale string) error {
	ch := m.flight.DoChan(refreshFlightKey, func() (any, error) {
		// The shared exchange must not die with whichever caller started it.
		return nil, m.refreshLocked(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *TokenManager) refreshLocked(ctx context.Context, stale string) error {
	m.exchangeMu.Lock()
	defer m.exchangeMu.Unlock()

	st, ok := m.State()
	if !ok || st.RefreshToken == "" {
		return ErrNotConfigured
	}
	if st.AccessToken != "" && st.AccessToken != stale && m.clock.Now().Before(st.ExpiresAt) {
		return nil
	}

	next, err := m.exchange(ctx, st.RefreshToken, "refresh")
	if err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		return err
	}
	m.replace(ctx, next)
	return nil
}

// exchange posts the refresh grant and builds the next state. It never
// touches m.state.
func (m *TokenManager) exchange(ctx context.Context, refreshToken, flow string) (*TokenState, error) {
	st, err := m.doExchange(ctx, refreshToken)
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	metrics.TokenRefreshesTotal.WithLabelValues(flow, result).Inc()
	return st, err
}

func (m *TokenManager) doExchange(ctx context.Context, refreshToken string) (*TokenState, error) {
	form := refreshForm(m.oauth, refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.oauth.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	body, err := m.transport.Do(req, "token")
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	// The cloud rotates refresh tokens; keep the old one only if it
	// didn't send a new one.
	next := resp.RefreshToken
	if next == "" {
		next = refreshToken
	}

	return &TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: next,
		ExpiresAt:    m.clock.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenRefreshMargin),
	}, nil
}

// replace installs st and persists it. A persistence failure is logged:
// the in-memory token is valid and the rotated refresh token must not be
// dropped.
func (m *TokenManager) replace(ctx context.Context, st *TokenState) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		m.logger.Error("encoding token state", "error", err)
		return
	}
	if err := m.store.Set(ctx, SettingTokenState, string(data)); err != nil {
		m.logger.Error("persisting token state", "error", err)
	}
}
