package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkulla01/caseta-to-mqtt/internal/leap"
)

// HubConnection is the subset of the LEAP client the hub session uses.
// An interface so tests can drive the session without a connection.
type HubConnection interface {
	LoadDevices(ctx context.Context) ([]leap.Device, error)
	LoadAreas(ctx context.Context) ([]leap.Area, error)
	LoadButtons(ctx context.Context, groupID string) ([]leap.ButtonDefinition, error)
	SubscribeAll(ctx context.Context) error
	SetZoneLevel(ctx context.Context, zoneID string, level int) error
	ReadZoneStatus(ctx context.Context, zoneID string) (leap.ZoneStatusBody, error)
	Ping(ctx context.Context) error
	Notifications() <-chan leap.Notification
	Close() error
}

// HubSessionConfig tunes one hub session.
type HubSessionConfig struct {
	// CommandTimeout bounds the wait for a command acknowledgement.
	CommandTimeout time.Duration

	// KeepaliveInterval is how often to ping the hub.
	KeepaliveInterval time.Duration

	// MaxMissedPings is how many consecutive ping failures mark the
	// session degraded.
	MaxMissedPings int
}

// HubSession adapts one LEAP connection to the bridge's domain:
// notifications become HubEvents, commands become zone levels, and the
// hub's device inventory becomes bridge Devices.
//
// A session lives exactly as long as its connection. The Events
// channel closes when the connection drops, which is the supervisor's
// signal to dial a replacement session.
type HubSession struct {
	conn   HubConnection
	cfg    HubSessionConfig
	logger Logger

	events chan HubEvent

	// onDegraded fires once when keepalive misses exceed the limit.
	onDegraded func()

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHubSession wraps an established connection and starts translating
// its notification stream.
func NewHubSession(conn HubConnection, cfg HubSessionConfig, logger Logger) *HubSession {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 60 * time.Second
	}
	if cfg.MaxMissedPings <= 0 {
		cfg.MaxMissedPings = 2
	}
	if logger == nil {
		logger = noopLogger{}
	}

	s := &HubSession{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		events: make(chan HubEvent),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.translateLoop()

	return s
}

// SetOnDegraded registers the degraded callback. Must be called before
// StartKeepalive.
func (s *HubSession) SetOnDegraded(callback func()) {
	s.onDegraded = callback
}

// Events returns the session's stream of domain events. The channel
// closes when the underlying connection ends.
func (s *HubSession) Events() <-chan HubEvent {
	return s.events
}

// translateLoop converts LEAP notifications to HubEvents.
func (s *HubSession) translateLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for notification := range s.conn.Notifications() {
		event, ok := translateNotification(notification)
		if !ok {
			s.logger.Debug("ignoring hub notification", "notification", fmt.Sprintf("%T", notification))
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

// translateNotification maps a LEAP notification to a domain event.
func translateNotification(n leap.Notification) (HubEvent, bool) {
	switch n := n.(type) {
	case leap.ZoneStatusNotification:
		return HubEvent{
			Kind:   HubEventZone,
			ZoneID: n.ZoneID,
			Value:  zoneValue(n.Level, n.SwitchedLevel),
			Source: SourceHubPush,
		}, true

	case leap.ButtonEventNotification:
		var action ButtonAction
		switch n.Action {
		case "Press":
			action = ButtonPress
		case "Release":
			action = ButtonRelease
		default:
			return HubEvent{}, false
		}
		return HubEvent{
			Kind:     HubEventButton,
			ButtonID: n.ButtonID,
			Action:   action,
		}, true
	}

	return HubEvent{}, false
}

// zoneValue builds a Value from the hub's level and switched-level
// fields. A non-empty SwitchedLevel marks a non-dimmable zone.
func zoneValue(level int, switchedLevel string) Value {
	if switchedLevel != "" {
		return BinaryValue(strings.EqualFold(switchedLevel, "On"))
	}
	return LevelValue(level)
}

// Subscribe asks the hub to push zone and button status. Idempotent.
func (s *HubSession) Subscribe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	return s.conn.SubscribeAll(ctx)
}

// SendCommand drives a zone to the given value, waiting at most the
// command timeout for the hub's acknowledgement. The resulting state
// change arrives separately on Events; the caller must not assume the
// command took effect.
func (s *HubSession) SendCommand(ctx context.Context, zoneID string, value Value) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	return s.conn.SetZoneLevel(ctx, zoneID, value.HubLevel())
}

// RefreshZone reads a zone's current state from the hub.
func (s *HubSession) RefreshZone(ctx context.Context, zoneID string) (Value, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	status, err := s.conn.ReadZoneStatus(ctx, zoneID)
	if err != nil {
		return Value{}, err
	}
	return zoneValue(status.Level, status.SwitchedLevel), nil
}

// StartKeepalive pings the hub on the configured interval. After the
// configured number of consecutive misses the degraded callback fires
// once and the loop stops; recovery means a fresh session.
func (s *HubSession) StartKeepalive(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.KeepaliveInterval)
		defer ticker.Stop()

		missed := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
				err := s.conn.Ping(pingCtx)
				cancel()

				if err == nil {
					missed = 0
					continue
				}

				missed++
				s.logger.Warn("hub keepalive miss", "missed", missed, "error", err)
				if missed >= s.cfg.MaxMissedPings {
					if s.onDegraded != nil {
						s.onDegraded()
					}
					return
				}
			}
		}
	}()
}

// LoadDevices reads the hub's inventory and maps it to bridge devices.
//
// The virtual hub device itself is excluded. For remotes, button
// definitions are read per button group so events can be labelled with
// their position on the device face. Any failure aborts the whole
// load; a partial inventory is worse than a stale one.
func (s *HubSession) LoadDevices(ctx context.Context) ([]Device, error) {
	areas, err := s.conn.LoadAreas(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading areas: %w", err)
	}
	areaNames := make(map[string]string, len(areas))
	for _, area := range areas {
		areaNames[area.Href.ID()] = area.Name
	}

	leapDevices, err := s.conn.LoadDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}

	devices := make([]Device, 0, len(leapDevices))
	for _, ld := range leapDevices {
		if strings.Contains(ld.DeviceType, "SmartBridge") {
			continue
		}

		device := Device{
			ID:   ld.Href.ID(),
			Name: deviceName(ld),
			Area: deviceArea(ld, areaNames),
			Type: mapDeviceType(ld.DeviceType),
		}
		device.NameSlug = Slugify(device.Name)
		device.AreaSlug = Slugify(device.Area)
		if device.NameSlug == "" || device.AreaSlug == "" {
			s.logger.Warn("skipping device with unusable name",
				"device_id", device.ID, "name", device.Name, "area", device.Area)
			continue
		}

		binary := device.Type == DeviceSwitch
		for i, zone := range ld.LocalZones {
			slug := "main"
			if i > 0 {
				slug = fmt.Sprintf("zone-%d", i+1)
			}
			device.Channels = append(device.Channels, Channel{
				ZoneID: zone.ID(),
				Slug:   slug,
				Binary: binary,
			})
		}

		if device.Type == DeviceRemote {
			buttons, err := s.loadRemoteButtons(ctx, ld)
			if err != nil {
				return nil, fmt.Errorf("loading buttons for %s: %w", device.Name, err)
			}
			device.Buttons = buttons
		}

		devices = append(devices, device)
	}

	return devices, nil
}

// loadRemoteButtons reads all buttons in a remote's button groups.
func (s *HubSession) loadRemoteButtons(ctx context.Context, ld leap.Device) ([]Button, error) {
	var buttons []Button
	for _, group := range ld.ButtonGroups {
		defs, err := s.conn.LoadButtons(ctx, group.ID())
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			buttons = append(buttons, Button{
				ID:     def.Href.ID(),
				Number: def.ButtonNumber,
				Slug:   buttonSlug(def.ButtonNumber),
			})
		}
	}
	return buttons, nil
}

// Close tears down the connection and stops the session's goroutines.
func (s *HubSession) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// deviceName prefers the hub's fully qualified name leaf, falling back
// to the plain name.
func deviceName(ld leap.Device) string {
	if n := len(ld.FullyQualifiedName); n > 0 {
		return ld.FullyQualifiedName[n-1]
	}
	return ld.Name
}

// deviceArea resolves the device's area name, preferring the qualified
// name prefix, then the associated area, then a placeholder.
func deviceArea(ld leap.Device, areaNames map[string]string) string {
	if len(ld.FullyQualifiedName) > 1 {
		return ld.FullyQualifiedName[0]
	}
	if name, ok := areaNames[ld.AssociatedArea.ID()]; ok {
		return name
	}
	return "unassigned"
}

// mapDeviceType classifies a LEAP device type string.
func mapDeviceType(leapType string) DeviceType {
	switch {
	case strings.Contains(leapType, "Pico"):
		return DeviceRemote
	case strings.Contains(leapType, "Dimmer"):
		return DeviceDimmer
	case strings.Contains(leapType, "Switch"):
		return DeviceSwitch
	case strings.Contains(leapType, "Shade") || strings.Contains(leapType, "Blind"):
		return DeviceShade
	default:
		return DeviceUnknown
	}
}

// buttonSlug names a button by its position on the Pico face.
// The numbering is shared by two and three button Pico layouts.
func buttonSlug(number int) string {
	switch number {
	case 0:
		return "on"
	case 1:
		return "favorite"
	case 2:
		return "off"
	case 3:
		return "raise"
	case 4:
		return "lower"
	default:
		return fmt.Sprintf("button-%d", number)
	}
}
