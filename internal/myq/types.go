package myq

import (
	"encoding/json"
	"time"
)

// TokenState is the persisted OAuth state. ExpiresAt already includes the
// refresh margin, so the token is treated as expired once now >= ExpiresAt.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// tokenStateJSON is the stored shape; expiresAt is Unix milliseconds.
type tokenStateJSON struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// MarshalJSON encodes ExpiresAt as Unix milliseconds.
func (s TokenState) MarshalJSON() ([]byte, error) {
	v := tokenStateJSON{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
	if !s.ExpiresAt.IsZero() {
		v.ExpiresAt = s.ExpiresAt.UnixMilli()
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes the stored shape. A zero expiresAt leaves ExpiresAt zero.
func (s *TokenState) UnmarshalJSON(data []byte) error {
	var v tokenStateJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = TokenState{AccessToken: v.AccessToken, RefreshToken: v.RefreshToken}
	if v.ExpiresAt != 0 {
		s.ExpiresAt = time.UnixMilli(v.ExpiresAt)
	}
	return nil
}

// tokenResponse is the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// Account is an entry from the accounts endpoint.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// itemsResponse wraps list endpoints: {"items": [...]}.
type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

// Family is the cloud device family.
type Family string

const (
	FamilyGarageDoor Family = "garagedoor"
	FamilyLamp       Family = "lamp"
	FamilyGateway    Family = "gateway"
)

// Door states reported in DeviceState.DoorState.
const (
	DoorOpen    = "open"
	DoorClosed  = "closed"
	DoorOpening = "opening"
	DoorClosing = "closing"
	DoorStopped = "stopped"
	DoorUnknown = "unknown"
)

// Lamp states reported in DeviceState.LampState.
const (
	LampOn  = "on"
	LampOff = "off"
)

// Device is one entry from the devices endpoint. Devices are query
// results; nothing here is persisted.
type Device struct {
	SerialNumber   string      `json:"serial_number"`
	Family         Family      `json:"device_family"`
	Name           string      `json:"name"`
	DeviceType     string      `json:"device_type,omitempty"`
	ParentDeviceID string      `json:"parent_device_id,omitempty"`
	AccountID      string      `json:"account_id,omitempty"`
	State          DeviceState `json:"state"`
}

// DeviceState holds the fields the bridge reads plus every other field
// the cloud sent, untouched, in Extra.
type DeviceState struct {
	DoorState  string                     `json:"door_state,omitempty"`
	LampState  string                     `json:"lamp_state,omitempty"`
	Online     *bool                      `json:"online,omitempty"`
	LastUpdate string                     `json:"last_update,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

var knownStateFields = []string{"door_state", "lamp_state", "online", "last_update"}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (s *DeviceState) UnmarshalJSON(data []byte) error {
	type plain DeviceState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownStateFields {
		delete(all, k)
	}
	*s = DeviceState(p)
	if len(all) > 0 {
		s.Extra = all
	}
	return nil
}

// Offline reports an explicit online=false. A missing field is not offline.
func (s DeviceState) Offline() bool {
	return s.Online != nil && !*s.Online
}

// DoorStateOrUnknown returns DoorState, or "unknown" when the cloud omitted it.
func (s DeviceState) DoorStateOrUnknown() string {
	if s.DoorState == "" {
		return DoorUnknown
	}
	return s.DoorState
}

// DeviceData is the immutable pairing identity stored by the host.
type DeviceData struct {
	SerialNumber string `json:"id"`
	AccountID    string `json:"accountId"`
}

// Kind is the hub-side device kind chosen at pairing.
type Kind string

const (
	KindGarageDoor Kind = "garagedoor"
	KindGate       Kind = "gate"
	KindLamp       Kind = "lamp"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGarageDoor, KindGate, KindLamp:
		return true
	}
	return false
}

// Family returns the cloud family a kind pairs against. Gates are
// door openers in the cloud.
func (k Kind) Family() Family {
	if k == KindLamp {
		return FamilyLamp
	}
	return FamilyGarageDoor
}

// Capabilities returns the capability ids a device of this kind exposes.
func (k Kind) Capabilities() []string {
	switch k {
	case KindGate:
		return []string{CapGarageDoorClosed, CapGateState}
	case KindLamp:
		return []string{CapOnOff}
	default:
		return []string{CapGarageDoorClosed}
	}
}

// Capability ids.
const (
	CapGarageDoorClosed = "garagedoor_closed"
	CapOnOff            = "onoff"
	CapGateState        = "gate_state"
)

// Unavailable reasons set by the poller.
const (
	ReasonNotConfigured     = "not_configured"
	ReasonDeviceNotFound    = "device_not_found"
	ReasonDeviceOffline     = "device_offline"
	ReasonDeviceUnavailable = "device_unavailable"
)

// Command is a device command.
type Command string

const (
	CommandOpen  Command = "open"
	CommandClose Command = "close"
	CommandOn    Command = "on"
	CommandOff   Command = "off"
)

// ParseCommand validates a command string.
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandOpen, CommandClose, CommandOn, CommandOff:
		return c, nil
	}
	return "", ErrInvalidCommand
}

// IsDoor reports whether c is a door opener command.
func (c Command) IsDoor() bool { return c == CommandOpen || c == CommandClose }

// IsLamp reports whether c is a lamp command.
func (c Command) IsLamp() bool { return c == CommandOn || c == CommandOff }
