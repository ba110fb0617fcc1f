package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceType classifies what kind of load or input a device is.
type DeviceType int

// Device types the bridge understands. Unknown devices with zones are
// treated as dimmable loads.
const (
	DeviceUnknown DeviceType = iota
	DeviceSwitch
	DeviceDimmer
	DeviceShade
	DeviceRemote
)

// String returns the lowercase name of the device type.
func (t DeviceType) String() string {
	switch t {
	case DeviceSwitch:
		return "switch"
	case DeviceDimmer:
		return "dimmer"
	case DeviceShade:
		return "shade"
	case DeviceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Channel is one controllable output of a device, backed by a hub zone.
type Channel struct {
	// ZoneID is the hub's zone identifier.
	ZoneID string

	// Slug is the channel's topic segment ("main" for the primary zone).
	Slug string

	// Binary marks on/off channels; their values publish as ON/OFF
	// rather than a numeric level.
	Binary bool
}

// Button is one input on a remote.
type Button struct {
	// ID is the hub's button identifier.
	ID string

	// Number is the button's position on the device face.
	Number int

	// Slug is the button's topic segment ("on", "favorite", "off",
	// "raise", "lower", or "button-N").
	Slug string
}

// Device is the bridge's view of one hub device.
type Device struct {
	// ID is the hub's device identifier.
	ID string

	// Name is the human-readable device name from the hub.
	Name string

	// Area is the human-readable area name from the hub.
	Area string

	// NameSlug and AreaSlug are the topic segments derived from Name
	// and Area, computed once at registry load.
	NameSlug string
	AreaSlug string

	Type DeviceType

	// Channels are the device's controllable outputs, empty for remotes.
	Channels []Channel

	// Buttons are the device's inputs, empty for loads.
	Buttons []Button
}

// Value is a channel state: either binary on/off or a 0-100 level.
type Value struct {
	// Binary selects the ON/OFF encoding.
	Binary bool

	// On is meaningful only when Binary is true.
	On bool

	// Level is 0-100, meaningful only when Binary is false.
	Level int
}

// BinaryValue returns an ON/OFF value.
func BinaryValue(on bool) Value {
	return Value{Binary: true, On: on}
}

// LevelValue returns a 0-100 level value.
func LevelValue(level int) Value {
	return Value{Level: level}
}

// Equal reports whether two values encode the same state.
func (v Value) Equal(other Value) bool {
	if v.Binary != other.Binary {
		return false
	}
	if v.Binary {
		return v.On == other.On
	}
	return v.Level == other.Level
}

// HubLevel converts the value to the hub's 0-100 level range.
func (v Value) HubLevel() int {
	if v.Binary {
		if v.On {
			return 100
		}
		return 0
	}
	return v.Level
}

// Payload encodes the value as an MQTT payload: ON/OFF for binary
// values, the decimal level otherwise.
func (v Value) Payload() []byte {
	if v.Binary {
		if v.On {
			return []byte("ON")
		}
		return []byte("OFF")
	}
	return []byte(strconv.Itoa(v.Level))
}

// String implements fmt.Stringer for log output.
func (v Value) String() string {
	return string(v.Payload())
}

// ParseValue decodes an MQTT payload into a Value.
//
// Accepts ON/OFF (case-insensitive) and integer levels 0-100. Anything
// else is ErrInvalidValue. The binary flag of the target channel is
// applied later at command dispatch, not here.
func ParseValue(payload []byte) (Value, error) {
	text := strings.TrimSpace(string(payload))

	switch strings.ToUpper(text) {
	case "ON":
		return BinaryValue(true), nil
	case "OFF":
		return BinaryValue(false), nil
	}

	level, err := strconv.Atoi(text)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}
	if level < 0 || level > 100 {
		return Value{}, fmt.Errorf("%w: level %d out of range 0-100", ErrInvalidValue, level)
	}
	return LevelValue(level), nil
}

// valueForChannel normalises a parsed command value to the channel's
// encoding, so an ON sent to a dimmer becomes level 100 and a level
// sent to a switch becomes ON/OFF.
func valueForChannel(v Value, ch Channel) Value {
	if ch.Binary {
		return BinaryValue(v.HubLevel() > 0)
	}
	return LevelValue(v.HubLevel())
}

// EventSource records how a hub event reached the bridge.
type EventSource int

const (
	// SourceHubPush is an unsolicited status notification.
	SourceHubPush EventSource = iota

	// SourceCommandAck is state observed while acknowledging a command.
	SourceCommandAck

	// SourceRefresh is state read back during a forced refresh.
	SourceRefresh
)

// String returns the source name for log output.
func (s EventSource) String() string {
	switch s {
	case SourceCommandAck:
		return "command-ack"
	case SourceRefresh:
		return "refresh"
	default:
		return "hub-push"
	}
}

// ButtonAction is a raw press or release from the hub.
type ButtonAction int

const (
	ButtonPress ButtonAction = iota
	ButtonRelease
)

// String returns the action name for log output.
func (a ButtonAction) String() string {
	if a == ButtonRelease {
		return "release"
	}
	return "press"
}

// HubEventKind discriminates the two kinds of hub notifications.
type HubEventKind int

const (
	HubEventZone HubEventKind = iota
	HubEventButton
)

// HubEvent is one inbound notification from the hub, normalised to the
// bridge's domain types.
type HubEvent struct {
	Kind HubEventKind

	// Zone events.
	ZoneID string
	Value  Value
	Source EventSource

	// Button events.
	ButtonID string
	Action   ButtonAction
}

// CommandRequest is one parsed command from the broker, not yet
// resolved against the registry.
type CommandRequest struct {
	// Area, Device, Channel are the slug segments from the topic.
	Area    string
	Device  string
	Channel string

	Value Value

	// Topic is the original command topic, kept for diagnostics.
	Topic string
}

// SessionState is the connection state of one supervised session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateReady
	StateDegraded
)

// String returns the state name for logs and health payloads.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}
