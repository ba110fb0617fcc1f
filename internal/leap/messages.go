package leap

import (
	"encoding/json"
	"strings"
)

// Communique types used on the wire. LEAP is a JSON request/response
// protocol where every message carries a CommuniqueType, a Header, and
// an optional Body.
const (
	CommuniqueReadRequest       = "ReadRequest"
	CommuniqueReadResponse      = "ReadResponse"
	CommuniqueCreateRequest     = "CreateRequest"
	CommuniqueCreateResponse    = "CreateResponse"
	CommuniqueSubscribeRequest  = "SubscribeRequest"
	CommuniqueSubscribeResponse = "SubscribeResponse"
	CommuniqueExceptionResponse = "ExceptionResponse"
)

// Message is a single LEAP communique, one JSON object per line.
type Message struct {
	CommuniqueType string          `json:"CommuniqueType"`
	Header         Header          `json:"Header"`
	Body           json.RawMessage `json:"Body,omitempty"`
}

// Header carries routing and correlation metadata.
//
// ClientTag is echoed back by the hub, letting a client match responses
// to in-flight requests on a connection that interleaves unsolicited
// status reports with request/response traffic.
type Header struct {
	ClientTag       string `json:"ClientTag,omitempty"`
	MessageBodyType string `json:"MessageBodyType,omitempty"`
	StatusCode      string `json:"StatusCode,omitempty"`
	URL             string `json:"Url,omitempty"`
}

// Successful reports whether the header's status code is in the 2xx
// range. LEAP status codes look like HTTP ones ("200 OK", "204 NoContent").
func (h Header) Successful() bool {
	return strings.HasPrefix(h.StatusCode, "2")
}

// Href is a reference to another LEAP resource, e.g. {"href":"/zone/123"}.
type Href struct {
	Href string `json:"href"`
}

// ID returns the trailing path segment of the href, which is the
// resource's numeric identifier. Returns "" for an empty href.
func (h Href) ID() string {
	trimmed := strings.TrimSuffix(h.Href, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// Device is the hub's definition of a physical device.
type Device struct {
	Href               Href     `json:"href"`
	Name               string   `json:"Name"`
	FullyQualifiedName []string `json:"FullyQualifiedName"`
	SerialNumber       any      `json:"SerialNumber"`
	DeviceType         string   `json:"DeviceType"`
	LocalZones         []Href   `json:"LocalZones"`
	AssociatedArea     Href     `json:"AssociatedArea"`
	ButtonGroups       []Href   `json:"ButtonGroups"`
}

// MultipleDeviceDefinition is the body of a ReadResponse for /device.
type MultipleDeviceDefinition struct {
	Devices []Device `json:"Devices"`
}

// OneAreaDefinition is the body of a ReadResponse for /area/{id}.
type OneAreaDefinition struct {
	Area Area `json:"Area"`
}

// MultipleAreaDefinition is the body of a ReadResponse for /area.
type MultipleAreaDefinition struct {
	Areas []Area `json:"Areas"`
}

// Area is a named location grouping devices.
type Area struct {
	Href Href   `json:"href"`
	Name string `json:"Name"`
}

// OneZoneStatus is the body of a zone status report, both the response
// to a status read and the unsolicited push after a level change.
type OneZoneStatus struct {
	ZoneStatus ZoneStatusBody `json:"ZoneStatus"`
}

// ZoneStatusBody carries the current state of a single zone.
// Level is 0-100; SwitchedLevel is "On"/"Off" for non-dimmable zones.
type ZoneStatusBody struct {
	Zone          Href   `json:"Zone"`
	Level         int    `json:"Level"`
	SwitchedLevel string `json:"SwitchedLevel,omitempty"`
}

// OneButtonStatusEvent is the body of an unsolicited button event push.
type OneButtonStatusEvent struct {
	ButtonStatus ButtonStatusBody `json:"ButtonStatus"`
}

// ButtonStatusBody wraps the event for a single button.
type ButtonStatusBody struct {
	Button      Href        `json:"Button,omitempty"`
	ButtonEvent ButtonEvent `json:"ButtonEvent"`
}

// ButtonEvent describes what happened to a button.
// EventType is "Press" or "Release".
type ButtonEvent struct {
	EventType string `json:"EventType"`
}

// OneButtonGroupDefinition is the body of a ReadResponse for a button group.
type OneButtonGroupDefinition struct {
	ButtonGroup ButtonGroup `json:"ButtonGroup"`
}

// ButtonGroup lists the buttons belonging to a remote.
type ButtonGroup struct {
	Href    Href   `json:"href"`
	Buttons []Href `json:"Buttons"`
}

// MultipleButtonDefinition is the body of a ReadResponse for the buttons
// in a group.
type MultipleButtonDefinition struct {
	Buttons []ButtonDefinition `json:"Buttons"`
}

// ButtonDefinition describes one button on a remote, including its
// position number on the device face.
type ButtonDefinition struct {
	Href         Href `json:"href"`
	ButtonNumber int  `json:"ButtonNumber"`
	Parent       Href `json:"Parent"`
}

// CommandBody is the body of a CreateRequest to a zone command processor.
type CommandBody struct {
	Command Command `json:"Command"`
}

// Command instructs a zone to change state.
type Command struct {
	CommandType string             `json:"CommandType"`
	Parameter   []CommandParameter `json:"Parameter,omitempty"`
}

// CommandParameter is a typed argument to a Command.
type CommandParameter struct {
	Type  string `json:"Type"`
	Value int    `json:"Value"`
}
