package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementDeviceState holds one point per observed device state change.
const measurementDeviceState = "myq_device_state"

// DeviceState is a single observation of a paired device.
type DeviceState struct {
	Serial    string
	Kind      string
	Values    map[string]any // capability id -> value
	Available bool
	Reason    string // unavailable reason, empty when available
	Time      time.Time
}

// WriteDeviceState queues a device state point. It is a no-op when the
// client is nil or disconnected so callers don't need to check.
func (c *Client) WriteDeviceState(s DeviceState) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceStatePoint(s))
}

// deviceStatePoint maps a DeviceState onto tags (serial, kind) and fields
// (each capability plus availability).
func deviceStatePoint(s DeviceState) *write.Point {
	fields := make(map[string]interface{}, len(s.Values)+2)
	for k, v := range s.Values {
		fields[k] = v
	}
	fields["available"] = s.Available
	if s.Reason != "" {
		fields["unavailable_reason"] = s.Reason
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(measurementDeviceState,
		map[string]string{"serial": s.Serial, "kind": s.Kind},
		fields, ts)
}
