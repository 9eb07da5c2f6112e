package myqbridge

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/device"
)

// deviceHost is the hub-side view of one paired device. It implements
// myq.Host for the device's poller: it caches capability values and
// availability and hands a StateMessage to the bridge whenever either
// changes. A state whose MQTT publish failed stays pending and is
// retried on the next update, even an unchanged one.
type deviceHost struct {
	bridge *Bridge
	device device.Device
	caps   map[string]bool

	mu        sync.Mutex
	values    map[string]any
	available bool
	reason    string
	updated   time.Time
	pending   bool // last state not yet on the retained topic
}

func newDeviceHost(b *Bridge, d device.Device) *deviceHost {
	caps := make(map[string]bool)
	for _, c := range d.Capabilities() {
		caps[c] = true
	}
	return &deviceHost{
		bridge:    b,
		device:    d,
		caps:      caps,
		values:    make(map[string]any),
		available: true,
	}
}

// SetCapabilityValue stores value and publishes when it changed.
func (h *deviceHost) SetCapabilityValue(capability string, value any) error {
	if !h.caps[capability] {
		return fmt.Errorf("%w: %s on %s", ErrUnknownCapability, capability, h.device.SerialNumber)
	}

	h.mu.Lock()
	if old, ok := h.values[capability]; ok && old == value {
		return h.retryLocked()
	}
	h.values[capability] = value
	return h.changedLocked()
}

// SetAvailable marks the device available.
func (h *deviceHost) SetAvailable() error {
	h.mu.Lock()
	if h.available {
		return h.retryLocked()
	}
	h.available = true
	h.reason = ""
	return h.changedLocked()
}

// SetUnavailable marks the device unavailable with a reason code.
func (h *deviceHost) SetUnavailable(reason string) error {
	h.mu.Lock()
	if !h.available && h.reason == reason {
		return h.retryLocked()
	}
	h.available = false
	h.reason = reason
	return h.changedLocked()
}

// changedLocked stamps and publishes a changed state. Called with h.mu
// held; releases it.
func (h *deviceHost) changedLocked() error {
	h.updated = h.bridge.now()
	msg := h.snapshotLocked()
	h.mu.Unlock()

	err := h.bridge.publishState(msg)
	h.markPublished(err)
	return err
}

// retryLocked republishes the current state to MQTT when an earlier
// publish failed. Called with h.mu held; releases it.
func (h *deviceHost) retryLocked() error {
	if !h.pending {
		h.mu.Unlock()
		return nil
	}
	msg := h.snapshotLocked()
	h.mu.Unlock()

	err := h.bridge.publishRetained(msg)
	h.markPublished(err)
	return err
}

// Republish sends the current state to the retained topic. Devices that
// have not reported any state yet are skipped.
func (h *deviceHost) Republish() error {
	h.mu.Lock()
	if h.updated.IsZero() {
		h.mu.Unlock()
		return nil
	}
	msg := h.snapshotLocked()
	h.mu.Unlock()

	err := h.bridge.publishRetained(msg)
	h.markPublished(err)
	return err
}

func (h *deviceHost) markPublished(err error) {
	h.mu.Lock()
	h.pending = err != nil
	h.mu.Unlock()
}

// Pending reports whether the last state has not reached MQTT.
func (h *deviceHost) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

func (h *deviceHost) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

func (h *deviceHost) HasCapability(capability string) bool {
	return h.caps[capability]
}

// State returns the cached state without publishing it.
func (h *deviceHost) State() StateMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// snapshotLocked copies the current state. Caller holds h.mu.
func (h *deviceHost) snapshotLocked() StateMessage {
	return StateMessage{
		DeviceID:  h.device.SerialNumber,
		Kind:      h.device.Kind,
		Timestamp: h.updated,
		State:     maps.Clone(h.values),
		Available: h.available,
		Reason:    h.reason,
		Protocol:  Protocol,
	}
}
