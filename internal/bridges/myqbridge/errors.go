package myqbridge

import (
	"errors"

	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// Domain errors for the myQ bridge package.
var (
	// ErrEmptyRefreshToken is returned when a blank refresh token is applied.
	ErrEmptyRefreshToken = errors.New("myqbridge: refresh token is empty")

	// ErrUnknownCapability is returned when a host write names a capability
	// the device does not expose.
	ErrUnknownCapability = errors.New("myqbridge: unknown capability")

	// ErrStopped is returned by operations attempted after Stop.
	ErrStopped = errors.New("myqbridge: bridge stopped")
)

// ErrorCode maps an error from the cloud client or the bridge to the
// wire error code used in acks and responses.
func ErrorCode(err error) string {
	var (
		rateLimited *myq.RateLimitedError
		authErr     *myq.AuthError
		transport   *myq.TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, myq.ErrNotConfigured):
		return ErrCodeNotConfigured
	case errors.As(err, &rateLimited):
		return ErrCodeRateLimited
	case errors.As(err, &authErr):
		return ErrCodeAuthFailed
	case errors.Is(err, myq.ErrDeviceUnavailable), errors.As(err, &transport):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, myq.ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeDeviceNotFound
	default:
		return ErrCodeBridgeError
	}
}
