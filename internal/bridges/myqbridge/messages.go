package myqbridge

import (
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// MQTT message types exchanged between Gray Logic Core and the myQ bridge.

// Protocol is the protocol identifier carried in bridge messages.
const Protocol = "myq"

// CommandMessage is sent from Core to the bridge to operate a device.
// Topic: graylogic/command/myq/{serial}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the device serial number. When empty the serial is
	// taken from the topic.
	DeviceID string `json:"device_id"`

	// Command is one of "open", "close", "on", "off".
	Command string `json:"command"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`

	// UserID is the user who triggered the command, if any.
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted means the cloud accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core for every command.
// Topic: graylogic/ack/myq/{serial}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains details for a failed command. Message is safe to show
// to users; the underlying cause is only logged.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the current state of a paired device.
// Topic: graylogic/state/myq/{serial}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Kind      myq.Kind  `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// State maps capability ids to values:
	//   garage door: {"garagedoor_closed": true}
	//   gate:        {"garagedoor_closed": false, "gate_state": "opening"}
	//   lamp:        {"onoff": true}
	State map[string]any `json:"state"`

	Available bool `json:"available"`

	// Reason explains why the device is unavailable.
	Reason string `json:"reason,omitempty"`

	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/myq
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge           string       `json:"bridge"`
	Timestamp        time.Time    `json:"timestamp"`
	Status           HealthStatus `json:"status"`
	Version          string       `json:"version,omitempty"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	Configured       bool         `json:"configured"`
	RateLimitedUntil *time.Time   `json:"rate_limited_until,omitempty"`
	DevicesManaged   int          `json:"devices_managed"`
	Reason           string       `json:"reason,omitempty"`
}

// RequestMessage is sent from Core to the bridge for request/response
// operations.
// Topic: graylogic/request/myq/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "discover" or "status".
	Action string `json:"action"`

	// DeviceID is required by read_state.
	DeviceID string `json:"device_id,omitempty"`

	// Kind selects the device kind for discover. Empty means every kind.
	Kind myq.Kind `json:"kind,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionDiscover  = "discover"
	ActionStatus    = "status"
)

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/myq/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains details for a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage lists the cloud devices that can be paired as Kind.
// Topic: graylogic/discovery/myq
type DiscoveryMessage struct {
	Timestamp time.Time           `json:"timestamp"`
	Kind      myq.Kind            `json:"kind"`
	Devices   []myq.PairCandidate `json:"devices"`
}

// NewAckMessage creates an acknowledgement for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}

func successResponse(req RequestMessage, data any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}
