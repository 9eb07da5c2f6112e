package myq

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors. Use errors.Is() to check for these.
var (
	// ErrNotConfigured means no refresh token has been set yet.
	ErrNotConfigured = errors.New("myq: not configured, set a refresh token first")

	// ErrNoAccount means the accounts endpoint returned no accounts.
	ErrNoAccount = errors.New("myq: no accounts found")

	// ErrDeviceUnavailable is returned for HTTP 403: the device is offline
	// or access was denied.
	ErrDeviceUnavailable = errors.New("myq: device is offline or access denied")

	// ErrInvalidCommand is returned for a command the device kind does not support.
	ErrInvalidCommand = errors.New("myq: invalid command")
)

// AuthError reports a failed token exchange or a request that was still
// unauthorised after a refresh.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("myq: authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitedError is returned while the 429 cooldown is active.
type RateLimitedError struct {
	Remaining time.Duration
}

// Minutes returns the remaining wait rounded up to whole minutes.
func (e *RateLimitedError) Minutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("myq: rate limited, retry in ~%d minutes", e.Minutes())
}

// APIError is any other non-2xx response. Body is truncated to
// maxErrorBodyLen characters.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("myq: api error: HTTP %d - %s", e.StatusCode, e.Body)
}

// TransportError is a network failure or timeout.
type TransportError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("myq: %s: request timed out", e.Op)
	}
	return fmt.Sprintf("myq: %s: network error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CommandFailedError is the user-facing wrapper for any failed command.
// Error() stays generic; the cause is available through errors.Unwrap.
type CommandFailedError struct {
	Serial  string
	Command Command
	Err     error
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("%s command failed, please try again", e.Command)
}

func (e *CommandFailedError) Unwrap() error { return e.Err }
