package myq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/metrics"
	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
)

// Poller defaults.
const (
	DefaultPollInterval       = 30 * time.Second
	DefaultActivePollInterval = 5 * time.Second
	DefaultActivePollDuration = 60 * time.Second
)

// Mode is the poller's scheduling state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDefault
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeActive:
		return "active"
	default:
		return "idle"
	}
}

// DeviceAPI is the part of Client a Poller uses. One Client is shared by
// every Poller.
type DeviceAPI interface {
	IsConfigured() bool
	GetDevice(ctx context.Context, serial string) (*Device, error)
	SendDoorCommand(ctx context.Context, serial string, cmd Command) error
	SendLampCommand(ctx context.Context, serial string, cmd Command) error
}

// Host is the hub-side device a Poller drives.
type Host interface {
	SetCapabilityValue(capability string, value any) error
	SetAvailable() error
	SetUnavailable(reason string) error
	IsAvailable() bool
	HasCapability(capability string) bool
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Client    DeviceAPI
	Host      Host
	Device    DeviceData
	Kind      Kind
	Scheduler scheduler.Scheduler

	// Zero values use the package defaults.
	PollInterval       time.Duration
	ActivePollInterval time.Duration
	ActivePollDuration time.Duration

	Logger Logger
}

// Poller keeps one paired device in sync with the cloud.
//
// After Start it polls every PollInterval. A successful command switches
// it to ActivePollInterval for ActivePollDuration; another command in
// that window restarts the window. Stop cancels every timer and no
// callback runs afterwards.
//
// Thread Safety: All methods are safe for concurrent use.
type Poller struct {
	client DeviceAPI
	host   Host
	device DeviceData
	kind   Kind
	sched  scheduler.Scheduler
	logger Logger

	pollInterval       time.Duration
	activePollInterval time.Duration
	activePollDuration time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	mode     Mode
	stopped  bool
	interval scheduler.Timer
	revert   scheduler.Timer
	// gen invalidates callbacks of replaced timers that are already on
	// their way.
	gen       uint64
	revertGen uint64

	// pollSlot admits one poll at a time.
	pollSlot chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a Poller in ModeIdle.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	if opts.Host == nil {
		return nil, errors.New("host is required")
	}
	if opts.Device.SerialNumber == "" {
		return nil, errors.New("device serial number is required")
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("unknown device kind %q", opts.Kind)
	}

	p := &Poller{
		client:             opts.Client,
		host:               opts.Host,
		device:             opts.Device,
		kind:               opts.Kind,
		sched:              opts.Scheduler,
		logger:             opts.Logger,
		pollInterval:       orDefault(opts.PollInterval, DefaultPollInterval),
		activePollInterval: orDefault(opts.ActivePollInterval, DefaultActivePollInterval),
		activePollDuration: orDefault(opts.ActivePollDuration, DefaultActivePollDuration),
	}
	if p.sched == nil {
		p.sched = scheduler.NewSystem()
	}
	if p.logger == nil {
		p.logger = nopLogger{}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.pollSlot = make(chan struct{}, 1)
	return p, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Serial returns the device serial number.
func (p *Poller) Serial() string { return p.device.SerialNumber }

// Kind returns the device kind.
func (p *Poller) Kind() Kind { return p.kind }

// Mode returns the current scheduling state.
func (p *Poller) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Start enters ModeDefault and runs one poll before the first tick.
// The initial poll's error is logged, not returned.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.stopped || p.mode != ModeIdle {
		p.mu.Unlock()
		return
	}
	p.setIntervalLocked(p.pollInterval)
	p.mode = ModeDefault
	p.mu.Unlock()

	if err := p.Poll(p.ctx); err != nil {
		p.logger.Warn("initial poll failed", "serial", p.device.SerialNumber, "error", err)
	}
}

// Stop cancels both timers and any in-flight poll, then waits for it to
// return. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.gen++
	p.revertGen++
	if p.interval != nil {
		p.interval.Stop()
		p.interval = nil
	}
	if p.revert != nil {
		p.revert.Stop()
		p.revert = nil
	}
	p.mode = ModeIdle
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// setIntervalLocked replaces the repeating timer. Caller holds p.mu.
func (p *Poller) setIntervalLocked(d time.Duration) {
	if p.interval != nil {
		p.interval.Stop()
	}
	p.gen++
	gen := p.gen
	p.interval = p.sched.ScheduleRepeating(d, func() { p.tick(gen) })
}

func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	live := !p.stopped && gen == p.gen
	p.mu.Unlock()
	if !live {
		return
	}
	if err := p.tryPoll(); err != nil {
		p.logger.Warn("poll failed", "serial", p.device.SerialNumber, "error", err)
	}
}

// startActivePoll switches to the fast interval and (re)starts the single
// revert timer.
func (p *Poller) startActivePoll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	p.setIntervalLocked(p.activePollInterval)
	p.mode = ModeActive

	if p.revert != nil {
		p.revert.Stop()
	}
	p.revertGen++
	rgen := p.revertGen
	p.revert = p.sched.ScheduleOnce(p.activePollDuration, func() { p.endActivePoll(rgen) })
}

func (p *Poller) endActivePoll(rgen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || rgen != p.revertGen {
		return
	}
	p.revert = nil
	p.setIntervalLocked(p.pollInterval)
	p.mode = ModeDefault
}

// HandleCommand sends cmd to the cloud. Any failure is returned as a
// *CommandFailedError and leaves the polling state unchanged; success
// enters active polling.
func (p *Poller) HandleCommand(ctx context.Context, cmd Command) error {
	serial := p.device.SerialNumber
	p.logger.Info("sending command", "serial", serial, "command", cmd)

	var err error
	switch {
	case p.kind == KindLamp && cmd.IsLamp():
		err = p.client.SendLampCommand(ctx, serial, cmd)
	case p.kind != KindLamp && cmd.IsDoor():
		err = p.client.SendDoorCommand(ctx, serial, cmd)
	default:
		err = fmt.Errorf("%w: %q for %s", ErrInvalidCommand, cmd, p.kind)
	}
	if err != nil {
		p.logger.Error("command failed", "serial", serial, "command", cmd, "error", err)
		return &CommandFailedError{Serial: serial, Command: cmd, Err: err}
	}

	p.startActivePoll()
	return nil
}

// HandleCapability translates a hub capability write into a command.
func (p *Poller) HandleCapability(ctx context.Context, capability string, value bool) error {
	cmd, err := CapabilityCommand(p.kind, capability, value)
	if err != nil {
		return &CommandFailedError{Serial: p.device.SerialNumber, Err: err}
	}
	return p.HandleCommand(ctx, cmd)
}

// CapabilityCommand maps a capability write to the cloud command:
// garagedoor_closed true closes, onoff true switches on.
func CapabilityCommand(kind Kind, capability string, value bool) (Command, error) {
	switch {
	case capability == CapGarageDoorClosed && kind != KindLamp:
		if value {
			return CommandClose, nil
		}
		return CommandOpen, nil
	case capability == CapOnOff && kind == KindLamp:
		if value {
			return CommandOn, nil
		}
		return CommandOff, nil
	}
	return "", fmt.Errorf("%w: capability %q is not writable on %s", ErrInvalidCommand, capability, kind)
}

// Poll fetches the device and reconciles the host. When a poll is
// already in flight, Poll waits for it and then fetches again, so the
// host reflects a read that started after the call. Client errors are
// returned without touching availability, except 403 which marks the
// device unavailable. After Stop, Poll does nothing.
func (p *Poller) Poll(ctx context.Context) error {
	select {
	case p.pollSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return nil
	}
	return p.runPoll(ctx)
}

// tryPoll polls unless a poll is already in flight. Timer ticks use it,
// so overlapping ticks are skipped.
func (p *Poller) tryPoll() error {
	select {
	case p.pollSlot <- struct{}{}:
	default:
		return nil
	}
	return p.runPoll(p.ctx)
}

// runPoll performs one poll. The caller holds pollSlot.
func (p *Poller) runPoll(ctx context.Context) error {
	defer func() { <-p.pollSlot }()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	result, err := p.poll(ctx)
	metrics.PollsTotal.WithLabelValues(string(p.kind), result).Inc()
	return err
}

func (p *Poller) poll(ctx context.Context) (string, error) {
	if !p.client.IsConfigured() {
		return ReasonNotConfigured, p.setUnavailable(ReasonNotConfigured)
	}

	dev, err := p.client.GetDevice(ctx, p.device.SerialNumber)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return ReasonDeviceUnavailable, p.setUnavailable(ReasonDeviceUnavailable)
		}
		return resultLabel(err), err
	}
	if dev == nil {
		return ReasonDeviceNotFound, p.setUnavailable(ReasonDeviceNotFound)
	}
	if dev.State.Offline() {
		return ReasonDeviceOffline, p.setUnavailable(ReasonDeviceOffline)
	}

	if !p.host.IsAvailable() {
		if err := p.host.SetAvailable(); err != nil {
			return "host_error", fmt.Errorf("marking device available: %w", err)
		}
	}
	p.applyState(dev.State)
	return "ok", nil
}

func (p *Poller) setUnavailable(reason string) error {
	if err := p.host.SetUnavailable(reason); err != nil {
		return fmt.Errorf("marking device unavailable: %w", err)
	}
	return nil
}

// applyState writes capability values. Write failures are logged only.
func (p *Poller) applyState(st DeviceState) {
	if p.kind == KindLamp {
		p.setCapability(CapOnOff, st.LampState == LampOn)
		return
	}

	doorState := st.DoorStateOrUnknown()
	p.setCapability(CapGarageDoorClosed, doorState == DoorClosed)
	if p.host.HasCapability(CapGateState) {
		p.setCapability(CapGateState, doorState)
	}
}

func (p *Poller) setCapability(capability string, value any) {
	if err := p.host.SetCapabilityValue(capability, value); err != nil {
		p.logger.Error("setting capability", "serial", p.device.SerialNumber, "capability", capability, "error", err)
	}
}
