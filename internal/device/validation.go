package device

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

const (
	maxNameLength   = 100
	maxSerialLength = 64
)

// ValidateDevice checks a device before it is stored. An empty name is
// filled with the default pairing name.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	d.SerialNumber = strings.TrimSpace(d.SerialNumber)
	if d.SerialNumber == "" || len(d.SerialNumber) > maxSerialLength {
		return fmt.Errorf("%w: serial number must be 1-%d characters", ErrInvalidDevice, maxSerialLength)
	}
	if strings.TrimSpace(d.AccountID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidDevice)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}

	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		d.Name = myq.DefaultName(d.Kind, d.SerialNumber)
	}
	return ValidateName(d.Name)
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}
