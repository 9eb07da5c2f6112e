package myq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kofalt/go-memoize"
	"golang.org/x/oauth2"

	"github.com/nerrad567/gray-logic-myq/internal/metrics"
	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
)

// SettingAccountID is the store key holding the cached account id.
const SettingAccountID = "myq_account_id"

// Store is the host key-value persistence the client needs.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Unset(ctx context.Context, key string) error
}

// Logger is the logging dependency. Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Store persists token state and the account id. Required.
	Store Store

	// Clock defaults to the system clock.
	Clock scheduler.Clock

	// HTTPClient defaults to a plain http.Client.
	HTTPClient *http.Client

	// Endpoints defaults to DefaultEndpoints().
	Endpoints *Endpoints

	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// DeviceCacheTTL shares one device list between callers for this long
	// and coalesces simultaneous fetches. Zero disables the cache.
	DeviceCacheTTL time.Duration

	Logger Logger
}

// Client is the authenticated myQ cloud API client. One Client is shared
// by every poller.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	tokens    *TokenManager
	limiter   *RateLimiter
	transport *Transport
	endpoints Endpoints
	store     Store
	logger    Logger

	mu        sync.RWMutex
	accountID string

	devices *memoize.Memoizer // nil when caching is disabled
	// devicesGen is part of the cache key; flushDevices bumps it so a
	// fetch already in flight stores under a key nobody reads.
	devicesGen atomic.Uint64
}

// NewClient creates a Client. Call Init to load persisted state.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = scheduler.NewSystem()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	endpoints := DefaultEndpoints()
	if opts.Endpoints != nil {
		endpoints = *opts.Endpoints
	}

	limiter := NewRateLimiter(clock)
	transport := NewTransport(opts.HTTPClient, limiter, opts.RequestTimeout)

	c := &Client{
		tokens:    newTokenManager(oauthConfig(endpoints.Token), transport, limiter, opts.Store, clock, logger),
		limiter:   limiter,
		transport: transport,
		endpoints: endpoints,
		store:     opts.Store,
		logger:    logger,
	}
	if opts.DeviceCacheTTL > 0 {
		c.devices = memoize.NewMemoizer(opts.DeviceCacheTTL, 10*opts.DeviceCacheTTL)
	}
	return c, nil
}

// Init loads the persisted token state and account id.
func (c *Client) Init(ctx context.Context) error {
	if err := c.tokens.Init(ctx); err != nil {
		return err
	}
	id, ok, err := c.store.Get(ctx, SettingAccountID)
	if err != nil {
		return fmt.Errorf("loading account id: %w", err)
	}
	if ok {
		c.mu.Lock()
		c.accountID = id
		c.mu.Unlock()
	}
	return nil
}

// Tokens returns the token manager.
func (c *Client) Tokens() *TokenManager { return c.tokens }

// RateLimiter returns the client's rate limiter.
func (c *Client) RateLimiter() *RateLimiter { return c.limiter }

// IsConfigured reports whether a refresh token is held.
func (c *Client) IsConfigured() bool { return c.tokens.IsConfigured() }

// Configure installs a new refresh token and discovers the account.
// Both steps surface their errors synchronously: an *AuthError for the
// exchange, ErrNoAccount when the account list is empty.
func (c *Client) Configure(ctx context.Context, refreshToken string) error {
	if err := c.tokens.Configure(ctx, refreshToken); err != nil {
		return err
	}

	// New credentials may belong to a different account.
	c.mu.Lock()
	c.accountID = ""
	c.mu.Unlock()
	if err := c.store.Unset(ctx, SettingAccountID); err != nil {
		c.logger.Warn("clearing cached account id", "error", err)
	}
	c.flushDevices()

	if _, err := c.fetchAccountID(ctx); err != nil {
		return err
	}
	return nil
}

// GetAccounts lists the accounts visible to the token.
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	body, err := c.authenticatedDo(ctx, http.MethodGet, c.endpoints.Accounts, "accounts")
	if err != nil {
		return nil, err
	}
	return decodeItems[Account](body), nil
}

// GetAccountID returns the cached account id, discovering it on first use.
func (c *Client) GetAccountID(ctx context.Context) (string, error) {
	c.mu.RLock()
	id := c.accountID
	c.mu.RUnlock()
	if id != "" {
		return id, nil
	}
	return c.fetchAccountID(ctx)
}

// fetchAccountID takes the first account. Multiple accounts are not supported.
func (c *Client) fetchAccountID(ctx context.Context) (string, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", ErrNoAccount
	}

	id := accounts[0].ID
	c.mu.Lock()
	c.accountID = id
	c.mu.Unlock()

	if err := c.store.Set(ctx, SettingAccountID, id); err != nil {
		c.logger.Error("persisting account id", "error", err)
	}
	if len(accounts) > 1 {
		c.logger.Warn("multiple myQ accounts found, using the first", "account_id", id, "accounts", len(accounts))
	}
	return id, nil
}

// GetDevices lists the devices of the account. The result is shared with
// concurrent callers and must not be modified.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	accountID, err := c.GetAccountID(ctx)
	if err != nil {
		return nil, err
	}
	if c.devices == nil {
		return c.fetchDevices(ctx, accountID)
	}

	type shared struct {
		devices []Device
		err     error
	}
	key := fmt.Sprintf("%s/%d", accountID, c.devicesGen.Load())
	ch := make(chan shared, 1)
	go func() {
		v, err, _ := c.devices.Memoize(key, func() (interface{}, error) {
			// Other callers may be waiting on this fetch, so it must not
			// die with the caller that started it.
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedFetchTimeout())
			defer cancel()
			return c.fetchDevices(fctx, accountID)
		})
		if err != nil {
			ch <- shared{err: err}
			return
		}
		ch <- shared{devices: v.([]Device)}
	}()

	select {
	case res := <-ch:
		return res.devices, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sharedFetchTimeout bounds a detached device fetch: a token refresh,
// the request and one 401 retry.
func (c *Client) sharedFetchTimeout() time.Duration {
	return 3 * c.transport.timeout
}

func (c *Client) fetchDevices(ctx context.Context, accountID string) ([]Device, error) {
	body, err := c.authenticatedDo(ctx, http.MethodGet, c.endpoints.devicesURL(accountID), "devices")
	if err != nil {
		return nil, err
	}
	return decodeItems[Device](body), nil
}

// GetDevice returns the device with the given serial, or nil (and no
// error) when the account has no such device.
func (c *Client) GetDevice(ctx context.Context, serial string) (*Device, error) {
	devices, err := c.GetDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].SerialNumber == serial {
			d := devices[i]
			return &d, nil
		}
	}
	return nil, nil
}

// SendDoorCommand opens or closes a door or gate.
func (c *Client) SendDoorCommand(ctx context.Context, serial string, cmd Command) error {
	if !cmd.IsDoor() {
		return fmt.Errorf("%w: %q is not a door command", ErrInvalidCommand, cmd)
	}
	return c.sendCommand(ctx, serial, cmd, "door_command")
}

// SendLampCommand switches a lamp on or off.
func (c *Client) SendLampCommand(ctx context.Context, serial string, cmd Command) error {
	if !cmd.IsLamp() {
		return fmt.Errorf("%w: %q is not a lamp command", ErrInvalidCommand, cmd)
	}
	return c.sendCommand(ctx, serial, cmd, "lamp_command")
}

func (c *Client) sendCommand(ctx context.Context, serial string, cmd Command, endpoint string) error {
	accountID, err := c.GetAccountID(ctx)
	if err == nil {
		_, err = c.authenticatedDo(ctx, http.MethodPut, c.endpoints.commandURL(accountID, serial, cmd), endpoint)
	}

	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd), result).Inc()
	if err != nil {
		return err
	}

	// The next poll must see the state change, not a cached list.
	c.flushDevices()
	return nil
}

func (c *Client) flushDevices() {
	c.devicesGen.Add(1)
	if c.devices != nil {
		c.devices.Storage.Flush()
	}
}

// authenticatedDo runs one authenticated request. A 401 forces a token
// refresh and exactly one retry; a second 401 is an *AuthError.
func (c *Client) authenticatedDo(ctx context.Context, method, url, endpoint string) ([]byte, error) {
	tok, err := c.tokens.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, method, url, endpoint, tok)
	if !isUnauthorized(err) {
		return body, err
	}

	c.logger.Info("access token rejected, refreshing", "endpoint", endpoint)
	if err := c.tokens.refresh(ctx, tok.AccessToken); err != nil {
		return nil, err
	}
	tok, err = c.tokens.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err = c.do(ctx, method, url, endpoint, tok)
	if isUnauthorized(err) {
		return nil, &AuthError{Err: err}
	}
	return body, err
}

func (c *Client) do(ctx context.Context, method, url, endpoint string, tok *oauth2.Token) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("MyQApplicationId", appID)
	req.Header.Set("App-Version", appVersion)
	req.Header.Set("BrandId", brandID)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	return c.transport.Do(req, endpoint)
}

// decodeItems parses an {"items": [...]} body. Empty or unparsable
// bodies yield an empty list.
func decodeItems[T any](body []byte) []T {
	if len(body) == 0 {
		return []T{}
	}
	var resp itemsResponse[T]
	if err := json.Unmarshal(body, &resp); err != nil || resp.Items == nil {
		return []T{}
	}
	return resp.Items
}
