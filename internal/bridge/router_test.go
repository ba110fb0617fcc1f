package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkulla01/caseta-to-mqtt/internal/leap"
)

// mockPublisher implements StatePublisher for testing. Setting err
// simulates a broker outage: publishes fail and nothing is recorded.
type mockPublisher struct {
	mu     sync.Mutex
	states []string
	events []string
	err    error
}

func (m *mockPublisher) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockPublisher) PublishState(device *Device, channel Channel, value Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.states = append(m.states, fmt.Sprintf("%s/%s/%s=%s",
		device.AreaSlug, device.NameSlug, channel.Slug, value.String()))
	return nil
}

func (m *mockPublisher) PublishButtonEvent(device *Device, button Button, click ClickType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fmt.Sprintf("%s/%s/%s=%s",
		device.AreaSlug, device.NameSlug, button.Slug, click))
	return nil
}

func (m *mockPublisher) allStates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.states))
	copy(result, m.states)
	return result
}

// mockSender implements CommandSender for testing.
type mockSender struct {
	mu    sync.Mutex
	err   error
	calls []setZoneCall
}

func (m *mockSender) SendCommand(_ context.Context, zoneID string, value Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, setZoneCall{zoneID: zoneID, level: value.HubLevel()})
	return m.err
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockRecorder implements ChangeRecorder for testing.
type mockRecorder struct {
	mu      sync.Mutex
	changes []string
}

func (m *mockRecorder) RecordChange(_ context.Context, area, device, channel, prior, value, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, fmt.Sprintf("%s/%s/%s %s->%s (%s)", area, device, channel, prior, value, source))
	return nil
}

// mockTelemetry implements TelemetrySink for testing.
type mockTelemetry struct {
	mu     sync.Mutex
	levels []float64
	clicks []string
}

func (m *mockTelemetry) WriteChannelLevel(_, _, _ string, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = append(m.levels, level)
}

func (m *mockTelemetry) WriteButtonEvent(_, _, _, clickType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, clickType)
}

func newTestRouter(t *testing.T) (*Router, *mockPublisher, *mockRecorder, *mockTelemetry) {
	t.Helper()

	registry := NewRegistry(&mockLoader{devices: testDevices()})
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	publisher := &mockPublisher{}
	recorder := &mockRecorder{}
	telemetry := &mockTelemetry{}

	router := NewRouter(RouterConfig{
		Registry:  registry,
		Cache:     NewStateCache(),
		Publisher: publisher,
		History:   recorder,
		Telemetry: telemetry,
	})
	return router, publisher, recorder, telemetry
}

// ============================================================
// Zone events
// ============================================================

func TestRouterPublishesChangedState(t *testing.T) {
	router, publisher, recorder, telemetry := newTestRouter(t)
	ctx := context.Background()

	router.handleZoneEvent(ctx, HubEvent{
		Kind:   HubEventZone,
		ZoneID: "z1",
		Value:  LevelValue(70),
		Source: SourceHubPush,
	})

	states := publisher.allStates()
	if len(states) != 1 || states[0] != "kitchen/ceiling/main=70" {
		t.Errorf("published states = %v, want [kitchen/ceiling/main=70]", states)
	}
	if len(recorder.changes) != 1 || recorder.changes[0] != "kitchen/ceiling/main ->70 (hub-push)" {
		t.Errorf("journal = %v, want one entry", recorder.changes)
	}
	if len(telemetry.levels) != 1 || telemetry.levels[0] != 70 {
		t.Errorf("telemetry levels = %v, want [70]", telemetry.levels)
	}
	if stats := router.Stats(); stats.EventsApplied != 1 {
		t.Errorf("EventsApplied = %d, want 1", stats.EventsApplied)
	}
}

func TestRouterSkipsUnchangedState(t *testing.T) {
	router, publisher, recorder, _ := newTestRouter(t)
	ctx := context.Background()

	event := HubEvent{Kind: HubEventZone, ZoneID: "z1", Value: LevelValue(70), Source: SourceHubPush}
	router.handleZoneEvent(ctx, event)
	router.handleZoneEvent(ctx, event)

	if states := publisher.allStates(); len(states) != 1 {
		t.Errorf("published states = %v, want single publish", states)
	}
	if len(recorder.changes) != 1 {
		t.Errorf("journal = %v, want single entry", recorder.changes)
	}
}

func TestRouterRepublishesAfterForceRefresh(t *testing.T) {
	router, publisher, recorder, _ := newTestRouter(t)
	ctx := context.Background()

	event := HubEvent{Kind: HubEventZone, ZoneID: "z1", Value: LevelValue(70), Source: SourceHubPush}
	router.handleZoneEvent(ctx, event)
	router.cache.ForceRefreshAll()

	event.Source = SourceRefresh
	router.handleZoneEvent(ctx, event)

	// Republished even though unchanged, but not journalled twice.
	if states := publisher.allStates(); len(states) != 2 {
		t.Errorf("published states = %v, want two publishes", states)
	}
	if len(recorder.changes) != 1 {
		t.Errorf("journal = %v, want single entry", recorder.changes)
	}
}

// ============================================================
// Broker resync
// ============================================================

func TestRouterResyncRepublishesAfterBrokerOutage(t *testing.T) {
	router, publisher, _, _ := newTestRouter(t)
	ctx := context.Background()

	// Hub events keep updating the cache while the broker is down.
	publisher.setErr(errors.New("broker down"))
	router.handleZoneEvent(ctx, HubEvent{
		Kind:   HubEventZone,
		ZoneID: "z1",
		Value:  LevelValue(75),
		Source: SourceHubPush,
	})

	if states := publisher.allStates(); len(states) != 0 {
		t.Fatalf("published states during outage = %v, want none", states)
	}

	// Broker back: the resync pushes the cached value out.
	publisher.setErr(nil)
	router.republishCached()

	states := publisher.allStates()
	if len(states) != 1 || states[0] != "kitchen/ceiling/main=75" {
		t.Errorf("published states after resync = %v, want [kitchen/ceiling/main=75]", states)
	}
}

func TestRouterResyncEmptyCache(t *testing.T) {
	router, publisher, _, _ := newTestRouter(t)

	router.republishCached()

	if states := publisher.allStates(); len(states) != 0 {
		t.Errorf("published states = %v, want none for empty cache", states)
	}
}

func TestRouterRequestResyncReachesLoop(t *testing.T) {
	router, publisher, _, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := HubEvent{Kind: HubEventZone, ZoneID: "z1", Value: LevelValue(40), Source: SourceHubPush}
	router.handleZoneEvent(ctx, event)

	router.Start(ctx)
	defer router.Stop()

	// Duplicate requests coalesce; neither call may block.
	router.RequestResync()
	router.RequestResync()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(publisher.allStates()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	states := publisher.allStates()
	if len(states) < 2 || states[len(states)-1] != "kitchen/ceiling/main=40" {
		t.Errorf("published states = %v, want resync republish of kitchen/ceiling/main=40", states)
	}
}

func TestRouterDropsUnknownZone(t *testing.T) {
	router, publisher, _, _ := newTestRouter(t)

	router.handleZoneEvent(context.Background(), HubEvent{
		Kind:   HubEventZone,
		ZoneID: "z99",
		Value:  LevelValue(10),
	})

	if states := publisher.allStates(); len(states) != 0 {
		t.Errorf("published states = %v, want none", states)
	}
	if stats := router.Stats(); stats.EventsApplied != 0 {
		t.Errorf("EventsApplied = %d, want 0", stats.EventsApplied)
	}
}

func TestRouterNormalisesValueForChannel(t *testing.T) {
	router, publisher, _, _ := newTestRouter(t)

	// z1 belongs to a dimmer: ON arriving as binary becomes level 100.
	router.handleZoneEvent(context.Background(), HubEvent{
		Kind:   HubEventZone,
		ZoneID: "z1",
		Value:  BinaryValue(true),
	})

	states := publisher.allStates()
	if len(states) != 1 || states[0] != "kitchen/ceiling/main=100" {
		t.Errorf("published states = %v, want [kitchen/ceiling/main=100]", states)
	}
}

// ============================================================
// Commands
// ============================================================

func TestRouterForwardsCommand(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	sender := &mockSender{}
	router.SetCommandSender(sender)

	router.handleCommand(context.Background(), CommandRequest{
		Area: "kitchen", Device: "ceiling", Channel: "main",
		Value: BinaryValue(true),
	})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.calls) != 1 {
		t.Fatalf("SendCommand called %d times, want 1", len(sender.calls))
	}
	if sender.calls[0].zoneID != "z1" || sender.calls[0].level != 100 {
		t.Errorf("SendCommand(%s, %d), want z1, 100", sender.calls[0].zoneID, sender.calls[0].level)
	}
	if stats := router.Stats(); stats.CommandsForwarded != 1 {
		t.Errorf("CommandsForwarded = %d, want 1", stats.CommandsForwarded)
	}
}

func TestRouterCommandDoesNotTouchCache(t *testing.T) {
	router, publisher, _, _ := newTestRouter(t)
	router.SetCommandSender(&mockSender{})

	router.handleCommand(context.Background(), CommandRequest{
		Area: "kitchen", Device: "ceiling", Channel: "main",
		Value: LevelValue(80),
	})

	// The hub is ground truth: nothing is cached or published until the
	// hub reports the resulting state.
	if _, ok := router.cache.Get("z1"); ok {
		t.Error("command populated the cache, want untouched")
	}
	if states := publisher.allStates(); len(states) != 0 {
		t.Errorf("published states = %v, want none", states)
	}
}

func TestRouterDropsCommandForUnknownDevice(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	sender := &mockSender{}
	router.SetCommandSender(sender)

	router.handleCommand(context.Background(), CommandRequest{
		Area: "attic", Device: "ghost", Channel: "main",
		Value: BinaryValue(true),
	})

	if sender.callCount() != 0 {
		t.Error("SendCommand called for unknown device")
	}
	if stats := router.Stats(); stats.CommandsDropped != 1 {
		t.Errorf("CommandsDropped = %d, want 1", stats.CommandsDropped)
	}
}

func TestRouterDropsCommandWhileHubDown(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	// No sender installed: hub disconnected.

	router.handleCommand(context.Background(), CommandRequest{
		Area: "kitchen", Device: "ceiling", Channel: "main",
		Value: BinaryValue(true),
	})

	if stats := router.Stats(); stats.CommandsDropped != 1 {
		t.Errorf("CommandsDropped = %d, want 1", stats.CommandsDropped)
	}
}

func TestRouterDoesNotRetryTimedOutCommand(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	sender := &mockSender{err: leap.ErrCommandTimeout}
	router.SetCommandSender(sender)

	router.handleCommand(context.Background(), CommandRequest{
		Area: "kitchen", Device: "ceiling", Channel: "main",
		Value: BinaryValue(false),
	})

	if sender.callCount() != 1 {
		t.Errorf("SendCommand called %d times, want exactly 1", sender.callCount())
	}
	stats := router.Stats()
	if stats.CommandsDropped != 1 || stats.CommandsForwarded != 0 {
		t.Errorf("stats = %+v, want one dropped, none forwarded", stats)
	}
}

// ============================================================
// Button events
// ============================================================

func TestRouterFeedsButtonTracker(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	router.handleButtonEvent(HubEvent{Kind: HubEventButton, ButtonID: "b1", Action: ButtonPress})
	if router.buttons.Active() != 1 {
		t.Errorf("Active() = %d, want 1", router.buttons.Active())
	}

	router.handleButtonEvent(HubEvent{Kind: HubEventButton, ButtonID: "b99", Action: ButtonPress})
	if router.buttons.Active() != 1 {
		t.Errorf("Active() after unknown button = %d, want 1", router.buttons.Active())
	}

	if stats := router.Stats(); stats.TrackedButtons != 1 {
		t.Errorf("TrackedButtons = %d, want 1", stats.TrackedButtons)
	}
}

func TestRouterEmitsButtonEvents(t *testing.T) {
	router, publisher, _, telemetry := newTestRouter(t)
	device, button, err := router.registry.LookupButton("b1")
	if err != nil {
		t.Fatalf("LookupButton() error = %v", err)
	}

	router.emitButtonEvent(device, button, ClickDouble)

	publisher.mu.Lock()
	events := publisher.events
	publisher.mu.Unlock()
	if len(events) != 1 || events[0] != "kitchen/pico/on=double" {
		t.Errorf("button events = %v, want [kitchen/pico/on=double]", events)
	}
	if len(telemetry.clicks) != 1 || telemetry.clicks[0] != "double" {
		t.Errorf("telemetry clicks = %v, want [double]", telemetry.clicks)
	}
}
