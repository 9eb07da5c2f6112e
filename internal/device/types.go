package device

import (
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// Device is a paired myQ device.
type Device struct {
	SerialNumber string    `json:"serial_number"`
	AccountID    string    `json:"account_id"`
	Kind         myq.Kind  `json:"kind"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Data returns the pairing identity handed to the poller.
func (d Device) Data() myq.DeviceData {
	return myq.DeviceData{SerialNumber: d.SerialNumber, AccountID: d.AccountID}
}

// Capabilities returns the capability ids the device exposes.
func (d Device) Capabilities() []string {
	return d.Kind.Capabilities()
}
