package myq

import (
	"context"
	"fmt"
)

// PairCandidate is a cloud device offered for pairing as a given kind.
type PairCandidate struct {
	Name string     `json:"name"`
	Kind Kind       `json:"kind"`
	Data DeviceData `json:"data"`
}

// ListPairable returns the account's devices that can be paired as kind.
// Garage doors and gates both pair against door openers.
func (c *Client) ListPairable(ctx context.Context, kind Kind) ([]PairCandidate, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown device kind %q", kind)
	}
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	accountID, err := c.GetAccountID(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := c.GetDevices(ctx)
	if err != nil {
		return nil, err
	}

	want := kind.Family()
	out := make([]PairCandidate, 0, len(devices))
	for _, d := range devices {
		if d.Family != want {
			continue
		}
		out = append(out, PairCandidate{
			Name: pairingName(kind, d),
			Kind: kind,
			Data: DeviceData{SerialNumber: d.SerialNumber, AccountID: accountID},
		})
	}
	return out, nil
}

func pairingName(kind Kind, d Device) string {
	if d.Name != "" {
		return d.Name
	}
	return DefaultName(kind, d.SerialNumber)
}

// DefaultName is the display name for a device the cloud left unnamed.
func DefaultName(kind Kind, serial string) string {
	switch kind {
	case KindGate:
		return "Gate " + serial
	case KindLamp:
		return "Lamp " + serial
	default:
		return "Garage Door " + serial
	}
}
