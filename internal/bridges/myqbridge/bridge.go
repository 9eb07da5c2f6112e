package myqbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
	"github.com/nerrad567/gray-logic-myq/internal/settings"
)

// Bridge operation constants.
const (
	// minTopicParts is the number of parts in graylogic/{category}/myq/{id}.
	minTopicParts = 4

	// commandTimeout bounds a command including a token refresh and the
	// 401 retry.
	commandTimeout = 75 * time.Second

	// requestTimeout bounds read_state and discover requests.
	requestTimeout = 45 * time.Second

	// startConcurrency limits how many pollers run their initial poll at once.
	startConcurrency = 4
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// CloudClient is the part of *myq.Client the bridge uses.
type CloudClient interface {
	myq.DeviceAPI
	Configure(ctx context.Context, refreshToken string) error
	ListPairable(ctx context.Context, kind myq.Kind) ([]myq.PairCandidate, error)
	RateLimiter() *myq.RateLimiter
}

// StateRecorder stores device state history. *influxdb.Client satisfies it.
type StateRecorder interface {
	WriteDeviceState(s influxdb.DeviceState)
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Client     CloudClient
	Registry   *device.Registry
	Store      settings.Store
	MQTTClient MQTTClient

	// Recorder is optional.
	Recorder StateRecorder

	// Scheduler drives the pollers. Default: real time.
	Scheduler scheduler.Scheduler

	// Zero values use the myq package defaults.
	PollInterval       time.Duration
	ActivePollInterval time.Duration
	ActivePollDuration time.Duration

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	Version string
	Logger  Logger
}

// managedDevice pairs a device's host adapter with its poller.
type managedDevice struct {
	device device.Device
	host   *deviceHost
	poller *myq.Poller
}

// Bridge connects paired myQ devices to Gray Logic Core over MQTT.
// It handles:
//   - One poller per paired device, publishing state changes
//   - Commands from Core, acknowledged per command
//   - Requests (read_state, discover, status) and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client   CloudClient
	registry *device.Registry
	store    settings.Store
	mqtt     MQTTClient
	recorder StateRecorder
	sched    scheduler.Scheduler
	topics   mqtt.Topics
	health   *HealthReporter

	pollInterval       time.Duration
	activePollInterval time.Duration
	activePollDuration time.Duration

	mu      sync.RWMutex
	devices map[string]*managedDevice
	stopped bool

	observer   func(StateMessage)
	observerMu sync.RWMutex

	// Counters for GetMetrics
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to subscribe and begin polling.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("cloud client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		client:             opts.Client,
		registry:           opts.Registry,
		store:              opts.Store,
		mqtt:               opts.MQTTClient,
		recorder:           opts.Recorder, // May be nil (optional)
		sched:              opts.Scheduler,
		pollInterval:       opts.PollInterval,
		activePollInterval: opts.ActivePollInterval,
		activePollDuration: opts.ActivePollDuration,
		devices:            make(map[string]*managedDevice),
		done:               make(chan struct{}),
		ctx:                ctx,
		ctxCancel:          ctxCancel,
		logger:             opts.Logger,
	}
	if b.sched == nil {
		b.sched = scheduler.NewSystem()
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
		Now:       b.now,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// SetLogger sets the logger for the bridge and its health reporter.
// Pollers pick up the logger current when they are started.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// SetStateObserver registers fn to receive every published state.
// fn must not block.
func (b *Bridge) SetStateObserver(fn func(StateMessage)) {
	b.observerMu.Lock()
	b.observer = fn
	b.observerMu.Unlock()
}

// Start subscribes to command and request topics, starts a poller for
// every paired device and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.onMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.AllRequests()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.onMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	if err := b.startPollers(ctx); err != nil {
		return err
	}

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"devices", b.DeviceCount(),
		"configured", b.client.IsConfigured())
	return nil
}

// startPollers starts a poller for every paired device. Initial polls run
// concurrently.
func (b *Bridge) startPollers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(startConcurrency)

	for _, d := range b.registry.ListDevices() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := b.startDevice(d); err != nil {
				return fmt.Errorf("starting poller for %s: %w", d.SerialNumber, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop stops every poller and health reporting, then waits for in-flight
// commands and requests. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		devices := make([]*managedDevice, 0, len(b.devices))
		for _, md := range b.devices {
			devices = append(devices, md)
		}
		b.mu.Unlock()

		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		for _, md := range devices {
			md.poller.Stop()
		}

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// startDevice creates the host adapter and poller for d and starts polling.
// A device that already has a poller is left alone.
func (b *Bridge) startDevice(d device.Device) error {
	host := newDeviceHost(b, d)
	poller, err := myq.NewPoller(myq.PollerOptions{
		Client:             b.client,
		Host:               host,
		Device:             d.Data(),
		Kind:               d.Kind,
		Scheduler:          b.sched,
		PollInterval:       b.pollInterval,
		ActivePollInterval: b.activePollInterval,
		ActivePollDuration: b.activePollDuration,
		Logger:             b.getLogger(),
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	if _, ok := b.devices[d.SerialNumber]; ok {
		b.mu.Unlock()
		return nil
	}
	b.devices[d.SerialNumber] = &managedDevice{device: d, host: host, poller: poller}
	b.mu.Unlock()

	poller.Start()
	b.logDebug("poller started", "serial", d.SerialNumber, "kind", d.Kind)
	return nil
}

func (b *Bridge) managed(serial string) (*managedDevice, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	md, ok := b.devices[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}
	return md, nil
}

// PairDevice pairs the cloud device serial as kind. The device must be
// one of the account's pairable devices for that kind. An empty name uses
// the cloud name.
func (b *Bridge) PairDevice(ctx context.Context, serial string, kind myq.Kind, name string) (*device.Device, error) {
	candidates, err := b.client.ListPairable(ctx, kind)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if c.Data.SerialNumber != serial {
			continue
		}
		if name == "" {
			name = c.Name
		}
		d := &device.Device{
			SerialNumber: serial,
			AccountID:    c.Data.AccountID,
			Kind:         kind,
			Name:         name,
		}
		if err := b.AddDevice(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s is not a pairable %s", device.ErrDeviceNotFound, serial, kind)
}

// AddDevice persists d and starts its poller.
func (b *Bridge) AddDevice(ctx context.Context, d *device.Device) error {
	if err := b.registry.CreateDevice(ctx, d); err != nil {
		return err
	}
	if err := b.startDevice(*d); err != nil {
		if delErr := b.registry.DeleteDevice(ctx, d.SerialNumber); delErr != nil {
			b.logError("failed to roll back device", delErr, "serial", d.SerialNumber)
		}
		return err
	}
	return nil
}

// RemoveDevice stops the device's poller, deletes it and clears its
// retained state.
func (b *Bridge) RemoveDevice(ctx context.Context, serial string) error {
	if err := b.registry.DeleteDevice(ctx, serial); err != nil {
		return err
	}

	b.mu.Lock()
	md, ok := b.devices[serial]
	delete(b.devices, serial)
	b.mu.Unlock()

	if ok {
		md.poller.Stop()
	}

	// An empty retained payload clears the broker's retained state.
	if err := b.mqtt.Publish(b.topics.State(serial), nil, 1, true); err != nil {
		b.logError("failed to clear retained state", err, "serial", serial)
	}
	return nil
}

// SendCommand sends cmd to a paired device. Failures are returned as
// *myq.CommandFailedError (or a not-found error for unknown devices).
func (b *Bridge) SendCommand(ctx context.Context, serial string, cmd myq.Command) error {
	md, err := b.managed(serial)
	if err != nil {
		return err
	}
	return md.poller.HandleCommand(ctx, cmd)
}

// RefreshDevice polls the device now and returns its state. A poll
// already in flight is waited out first, so the state comes from a read
// that started after the call.
func (b *Bridge) RefreshDevice(ctx context.Context, serial string) (StateMessage, error) {
	md, err := b.managed(serial)
	if err != nil {
		return StateMessage{}, err
	}
	if err := md.poller.Poll(ctx); err != nil {
		return StateMessage{}, err
	}
	return md.host.State(), nil
}

// DeviceState returns the cached state of a paired device.
func (b *Bridge) DeviceState(serial string) (StateMessage, error) {
	md, err := b.managed(serial)
	if err != nil {
		return StateMessage{}, err
	}
	return md.host.State(), nil
}

// DeviceStates returns the cached state of every paired device.
func (b *Bridge) DeviceStates() []StateMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]StateMessage, 0, len(b.devices))
	for _, md := range b.devices {
		out = append(out, md.host.State())
	}
	return out
}

// ListPairable returns the cloud devices pairable as kind and publishes
// them on the discovery topic.
func (b *Bridge) ListPairable(ctx context.Context, kind myq.Kind) ([]myq.PairCandidate, error) {
	candidates, err := b.client.ListPairable(ctx, kind)
	if err != nil {
		return nil, err
	}

	msg := DiscoveryMessage{Timestamp: b.now().UTC(), Kind: kind, Devices: candidates}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling discovery: %w", err)
	}
	if err := b.mqtt.Publish(b.topics.Discovery(), payload, 1, false); err != nil {
		b.logError("failed to publish discovery", err, "kind", kind)
	}
	return candidates, nil
}

// ApplyRefreshToken configures the cloud client with a user-supplied
// refresh token and records the outcome in the settings store.
func (b *Bridge) ApplyRefreshToken(ctx context.Context, raw string) error {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ErrEmptyRefreshToken
	}

	if err := b.client.Configure(ctx, token); err != nil {
		b.logError("refresh token rejected", err)
		b.recordConfigResult(ctx, false, err.Error())
		return err
	}

	b.logInfo("myQ configured")
	b.recordConfigResult(ctx, true, "")
	b.pollAll()
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
	return nil
}

func (b *Bridge) recordConfigResult(ctx context.Context, configured bool, msg string) {
	if err := settings.SetBool(ctx, b.store, settings.KeyConfigured, configured); err != nil {
		b.logError("failed to store configured flag", err)
	}
	if err := b.store.Set(ctx, settings.KeyError, msg); err != nil {
		b.logError("failed to store configuration error", err)
	}
}

// pollAll polls every device in the background so devices marked
// not_configured recover without waiting for their next tick.
func (b *Bridge) pollAll() {
	b.mu.RLock()
	pollers := make([]*myq.Poller, 0, len(b.devices))
	for _, md := range b.devices {
		pollers = append(pollers, md.poller)
	}
	b.mu.RUnlock()

	for _, p := range pollers {
		b.goTracked(func() {
			if err := p.Poll(b.ctx); err != nil {
				b.logDebug("poll after configure failed", "serial", p.Serial(), "error", err)
			}
		})
	}
}

// Status summarises the bridge for the settings page and the status request.
type Status struct {
	Configured       bool       `json:"configured"`
	LastError        string     `json:"last_error,omitempty"`
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
	RateLimitMinutes int        `json:"rate_limit_minutes,omitempty"`
	DevicesManaged   int        `json:"devices_managed"`
	MQTTConnected    bool       `json:"mqtt_connected"`
}

// Status returns the current bridge status.
func (b *Bridge) Status(ctx context.Context) (Status, error) {
	lastErr, _, err := b.store.Get(ctx, settings.KeyError)
	if err != nil {
		return Status{}, fmt.Errorf("reading last error: %w", err)
	}

	st := Status{
		Configured:     b.client.IsConfigured(),
		LastError:      lastErr,
		DevicesManaged: b.DeviceCount(),
		MQTTConnected:  b.mqtt.IsConnected(),
	}

	var rl *myq.RateLimitedError
	if err := b.client.RateLimiter().CheckAllowed(); errors.As(err, &rl) {
		until := b.client.RateLimiter().BlockedUntil().UTC()
		st.RateLimitedUntil = &until
		st.RateLimitMinutes = rl.Minutes()
	}
	return st, nil
}

// IsConfigured reports whether the cloud client has a refresh token.
func (b *Bridge) IsConfigured() bool {
	return b.client.IsConfigured()
}

// RateLimitedUntil returns the end of the 429 cooldown, or the zero time.
func (b *Bridge) RateLimitedUntil() time.Time {
	return b.client.RateLimiter().BlockedUntil()
}

// DeviceCount returns the number of devices with a running poller.
func (b *Bridge) DeviceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}

// onMessage is the MQTT subscription handler. Commands can take as long
// as a cloud round trip, so handling runs off the MQTT client's goroutine.
func (b *Bridge) onMessage(topic string, payload []byte) error {
	if !b.goTracked(func() { b.handleMQTTMessage(topic, payload) }) {
		return ErrStopped
	}
	return nil
}

// goTracked runs fn in a goroutine Stop waits for. It reports false after
// Stop.
func (b *Bridge) goTracked(fn func()) bool {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return false
	}
	b.wg.Add(1)
	b.mu.RUnlock()

	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// handleMQTTMessage routes a message by topic category.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(serial string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err, "serial", serial)
		return
	}
	b.commandsReceived.Add(1)

	b.logInfo("received command",
		"command_id", cmd.ID,
		"serial", serial,
		"command", cmd.Command,
		"source", cmd.Source)

	if cmd.DeviceID == "" {
		cmd.DeviceID = serial
	}
	if cmd.DeviceID != serial {
		b.publishAckError(serial, cmd, ErrCodeInvalidParameters, "device_id does not match topic")
		return
	}

	c, err := myq.ParseCommand(cmd.Command)
	if err != nil {
		b.publishAckError(serial, cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.SendCommand(ctx, serial, c); err != nil {
		b.publishAckError(serial, cmd, ErrorCode(err), commandErrorMessage(err))
		return
	}
	b.publishAck(serial, NewAckMessage(cmd, AckAccepted))
}

// commandErrorMessage is the user-facing text for a failed command.
func commandErrorMessage(err error) string {
	var failed *myq.CommandFailedError
	switch {
	case errors.As(err, &failed):
		return failed.Error()
	case errors.Is(err, device.ErrDeviceNotFound):
		return "device is not paired"
	default:
		return "command failed, please try again"
	}
}

func (b *Bridge) publishAck(serial string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(serial), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err, "serial", serial)
	}
}

func (b *Bridge) publishAckError(serial string, cmd CommandMessage, code, message string) {
	b.commandsFailed.Add(1)
	b.logInfo("command rejected",
		"command_id", cmd.ID,
		"serial", serial,
		"code", code)
	b.publishAck(serial, NewAckError(cmd, code, message))
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(topicID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(ctx, req)
	case ActionDiscover:
		resp = b.handleDiscover(ctx, req)
	case ActionStatus:
		resp = b.handleStatus(ctx, req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Response(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleReadState(ctx context.Context, req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	st, err := b.RefreshDevice(ctx, req.DeviceID)
	if err != nil {
		b.logError("read_state failed", err, "serial", req.DeviceID)
		return errorResponse(req, ErrorCode(err), "could not read device state")
	}
	return successResponse(req, st)
}

func (b *Bridge) handleDiscover(ctx context.Context, req RequestMessage) ResponseMessage {
	kinds := []myq.Kind{myq.KindGarageDoor, myq.KindGate, myq.KindLamp}
	if req.Kind != "" {
		if !req.Kind.Valid() {
			return errorResponse(req, ErrCodeInvalidParameters, fmt.Sprintf("unknown kind: %s", req.Kind))
		}
		kinds = []myq.Kind{req.Kind}
	}

	found := make(map[myq.Kind][]myq.PairCandidate, len(kinds))
	for _, kind := range kinds {
		candidates, err := b.ListPairable(ctx, kind)
		if err != nil {
			b.logError("discover failed", err, "kind", kind)
			return errorResponse(req, ErrorCode(err), "could not list myQ devices")
		}
		found[kind] = candidates
	}
	return successResponse(req, found)
}

func (b *Bridge) handleStatus(ctx context.Context, req RequestMessage) ResponseMessage {
	st, err := b.Status(ctx)
	if err != nil {
		b.logError("status failed", err)
		return errorResponse(req, ErrCodeBridgeError, "could not read status")
	}
	return successResponse(req, st)
}

// publishState sends a changed device state to the state recorder, the
// observer and MQTT (retained).
func (b *Bridge) publishState(msg StateMessage) error {
	if b.recorder != nil {
		b.recorder.WriteDeviceState(influxdb.DeviceState{
			Serial:    msg.DeviceID,
			Kind:      string(msg.Kind),
			Values:    msg.State,
			Available: msg.Available,
			Reason:    msg.Reason,
			Time:      msg.Timestamp,
		})
	}

	b.observerMu.RLock()
	observer := b.observer
	b.observerMu.RUnlock()
	if observer != nil {
		observer(msg)
	}

	return b.publishRetained(msg)
}

// publishRetained sends a device state to its retained MQTT topic only.
func (b *Bridge) publishRetained(msg StateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	if err := b.mqtt.Publish(b.topics.State(msg.DeviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err, "serial", msg.DeviceID)
		return fmt.Errorf("publishing state: %w", err)
	}
	b.statesPublished.Add(1)

	b.logDebug("state published",
		"serial", msg.DeviceID,
		"available", msg.Available,
		"reason", msg.Reason)
	return nil
}

// RepublishStates sends every device's cached state to its retained
// topic. Call it after an MQTT reconnect; a broker that lost its retained
// messages, or states whose publish failed while disconnected, are
// restored without waiting for the devices to change.
func (b *Bridge) RepublishStates() {
	b.mu.RLock()
	hosts := make([]*deviceHost, 0, len(b.devices))
	for _, md := range b.devices {
		hosts = append(hosts, md.host)
	}
	b.mu.RUnlock()

	var failed int
	for _, h := range hosts {
		if err := h.Republish(); err != nil {
			failed++
		}
	}
	b.logInfo("device states republished", "devices", len(hosts), "failed", failed)
}

// OnMQTTReconnect republishes device states off the MQTT client's
// callback goroutine. Wire it to the client's connect callback.
func (b *Bridge) OnMQTTReconnect() {
	b.goTracked(b.RepublishStates)
}

func (b *Bridge) now() time.Time {
	return b.sched.Now()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	MQTTConnected    bool   `json:"mqtt_connected"`
	Configured       bool   `json:"configured"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatesPublished  uint64 `json:"states_published"`
	DevicesManaged   int    `json:"devices_managed"`
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		MQTTConnected:    b.mqtt.IsConnected(),
		Configured:       b.client.IsConfigured(),
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatesPublished:  b.statesPublished.Load(),
		DevicesManaged:   b.DeviceCount(),
	}
}
