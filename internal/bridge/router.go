package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkulla01/caseta-to-mqtt/internal/leap"
)

// hubEventBuffer absorbs notification bursts between router reads.
const hubEventBuffer = 64

// CommandSender is what the router needs from the current hub session.
type CommandSender interface {
	SendCommand(ctx context.Context, zoneID string, value Value) error
}

// StatePublisher is what the router needs from the broker session.
type StatePublisher interface {
	PublishState(device *Device, channel Channel, value Value) error
	PublishButtonEvent(device *Device, button Button, click ClickType) error
}

// ChangeRecorder journals state changes. Optional; implemented by the
// history recorder.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, area, device, channel, prior, value, source string) error
}

// TelemetrySink records numeric telemetry. Optional; implemented by
// the InfluxDB client.
type TelemetrySink interface {
	WriteChannelLevel(area, device, channel string, level float64)
	WriteButtonEvent(area, device, button, clickType string)
}

// RouterStats are the router's lifetime counters, for health reporting.
type RouterStats struct {
	EventsApplied     uint64
	CommandsForwarded uint64
	CommandsDropped   uint64
	CachedZones       int
	TrackedButtons    int
}

// Router is the single consumer of both inbound streams.
//
// All cache mutation happens here, on one goroutine, so hub events and
// broker commands interleave in a deterministic order and no lock
// ordering exists to get wrong. Events within each stream stay FIFO.
//
// Commands are forwarded to the hub and forgotten: the cache is only
// updated when the hub reports the resulting state. A command the hub
// never acknowledges is logged and dropped, not retried; the operator
// presses the button again.
type Router struct {
	registry  *Registry
	cache     *StateCache
	publisher StatePublisher
	buttons   *ButtonTracker
	history   ChangeRecorder
	telemetry TelemetrySink
	logger    Logger

	hubEvents chan HubEvent
	commands  <-chan CommandRequest
	resync    chan struct{}

	// sender is the current hub session, swapped by the supervisor on
	// reconnect, nil while the hub is down.
	sender   CommandSender
	senderMu sync.RWMutex

	eventsApplied     atomic.Uint64
	commandsForwarded atomic.Uint64
	commandsDropped   atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// RouterConfig wires the router's collaborators. History and Telemetry
// are optional.
type RouterConfig struct {
	Registry  *Registry
	Cache     *StateCache
	Publisher StatePublisher
	Commands  <-chan CommandRequest
	History   ChangeRecorder
	Telemetry TelemetrySink
	Logger    Logger
}

// NewRouter creates the router and its button tracker.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Router{
		registry:  cfg.Registry,
		cache:     cfg.Cache,
		publisher: cfg.Publisher,
		history:   cfg.History,
		telemetry: cfg.Telemetry,
		logger:    logger,
		hubEvents: make(chan HubEvent, hubEventBuffer),
		commands:  cfg.Commands,
		resync:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	r.buttons = NewButtonTracker(r.emitButtonEvent, logger)

	return r
}

// HubEvents returns the stable inbound channel the supervisor pumps
// per-session event streams into.
func (r *Router) HubEvents() chan<- HubEvent {
	return r.hubEvents
}

// SetCommandSender installs the hub session commands are forwarded to.
// Pass nil while the hub is disconnected.
func (r *Router) SetCommandSender(sender CommandSender) {
	r.senderMu.Lock()
	r.sender = sender
	r.senderMu.Unlock()
}

// RequestResync asks the router to republish every cached value.
// Wired to the broker reconnect callback: hub events keep updating the
// cache while the broker is away, so the retained topics have to catch
// up once the connection returns. Non-blocking; a resync already
// queued absorbs the request.
func (r *Router) RequestResync() {
	select {
	case r.resync <- struct{}{}:
	default:
	}
}

// republishCached pushes the current cached value of every zone back
// out on its retained state topic. Runs on the router goroutine like
// all other cache access.
func (r *Router) republishCached() {
	if r.cache.ForceRefreshAll() == 0 {
		return
	}

	republished := 0
	for _, zoneID := range r.cache.DueZones() {
		value, ok := r.cache.Get(zoneID)
		if !ok {
			continue
		}
		device, channel, err := r.registry.LookupZone(zoneID)
		if err != nil {
			// Cached before the device left the registry.
			continue
		}

		// Re-applying the unchanged value consumes the due mark.
		r.cache.Apply(zoneID, value)

		if err := r.publisher.PublishState(device, channel, value); err != nil {
			r.logger.Warn("state republish failed",
				"device", device.Name, "channel", channel.Slug, "error", err)
			continue
		}
		republished++
	}

	r.logger.Info("republished cached state", "zones", republished)
}

// Start runs the routing loop and the button watcher.
func (r *Router) Start(ctx context.Context) {
	r.buttons.Start(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case event := <-r.hubEvents:
				r.handleHubEvent(ctx, event)
			case command := <-r.commands:
				r.handleCommand(ctx, command)
			case <-r.resync:
				r.republishCached()
			}
		}
	}()
}

// Stop shuts the router down. Safe to call multiple times.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.buttons.Stop()
	})
}

// Stats returns the router's counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsApplied:     r.eventsApplied.Load(),
		CommandsForwarded: r.commandsForwarded.Load(),
		CommandsDropped:   r.commandsDropped.Load(),
		CachedZones:       r.cache.Len(),
		TrackedButtons:    r.buttons.Active(),
	}
}

func (r *Router) handleHubEvent(ctx context.Context, event HubEvent) {
	switch event.Kind {
	case HubEventZone:
		r.handleZoneEvent(ctx, event)
	case HubEventButton:
		r.handleButtonEvent(event)
	}
}

func (r *Router) handleZoneEvent(ctx context.Context, event HubEvent) {
	device, channel, err := r.registry.LookupZone(event.ZoneID)
	if err != nil {
		// A device added on the hub after the last registry load.
		r.logger.Debug("state report for unknown zone",
			"zone_id", event.ZoneID, "source", event.Source.String())
		return
	}

	value := valueForChannel(event.Value, channel)
	result := r.cache.Apply(event.ZoneID, value)
	r.eventsApplied.Add(1)

	if result.Republish {
		if err := r.publisher.PublishState(device, channel, value); err != nil {
			r.logger.Warn("state publish failed",
				"device", device.Name, "channel", channel.Slug, "error", err)
		}
	}

	if !result.Changed {
		return
	}

	r.logger.Info("channel state changed",
		"area", device.Area,
		"device", device.Name,
		"channel", channel.Slug,
		"value", value.String(),
		"source", event.Source.String(),
	)

	if r.history != nil {
		prior := ""
		if result.PriorKnown {
			prior = result.Prior.String()
		}
		if err := r.history.RecordChange(ctx, device.AreaSlug, device.NameSlug, channel.Slug, prior, value.String(), event.Source.String()); err != nil {
			r.logger.Warn("journal write failed", "error", err)
		}
	}
	if r.telemetry != nil {
		r.telemetry.WriteChannelLevel(device.AreaSlug, device.NameSlug, channel.Slug, float64(value.HubLevel()))
	}
}

func (r *Router) handleButtonEvent(event HubEvent) {
	device, button, err := r.registry.LookupButton(event.ButtonID)
	if err != nil {
		r.logger.Debug("event for unknown button", "button_id", event.ButtonID)
		return
	}
	r.buttons.Record(device, button, event.Action)
}

func (r *Router) handleCommand(ctx context.Context, command CommandRequest) {
	device, channel, err := r.registry.LookupCommand(command.Area, command.Device, command.Channel)
	if err != nil {
		r.commandsDropped.Add(1)
		r.logger.Warn("dropping command for unknown device",
			"topic", command.Topic, "error", err)
		return
	}

	r.senderMu.RLock()
	sender := r.sender
	r.senderMu.RUnlock()

	if sender == nil {
		r.commandsDropped.Add(1)
		r.logger.Warn("dropping command, hub unavailable", "topic", command.Topic)
		return
	}

	value := valueForChannel(command.Value, channel)
	if err := sender.SendCommand(ctx, channel.ZoneID, value); err != nil {
		r.commandsDropped.Add(1)
		if errors.Is(err, leap.ErrCommandTimeout) {
			// No retry: a late application would surprise more than a
			// missed one. The hub's eventual state report corrects us.
			r.logger.Warn("hub did not acknowledge command",
				"topic", command.Topic, "device", device.Name, "error", err)
			return
		}
		r.logger.Warn("command forward failed",
			"topic", command.Topic, "device", device.Name, "error", err)
		return
	}

	r.commandsForwarded.Add(1)
	r.logger.Info("command forwarded",
		"area", device.Area,
		"device", device.Name,
		"channel", channel.Slug,
		"value", value.String(),
	)
}

// emitButtonEvent is the button tracker's sink.
func (r *Router) emitButtonEvent(device *Device, button Button, click ClickType) {
	if err := r.publisher.PublishButtonEvent(device, button, click); err != nil {
		r.logger.Warn("button event publish failed",
			"device", device.Name, "button", button.Slug, "error", err)
	}
	if r.telemetry != nil {
		r.telemetry.WriteButtonEvent(device.AreaSlug, device.NameSlug, button.Slug, string(click))
	}
}
