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

func newSupervisorFixture(dial HubDialFunc) (*HubSupervisor, *Router) {
	registry := NewRegistry(nil)
	cache := NewStateCache()
	router := NewRouter(RouterConfig{
		Registry:  registry,
		Cache:     cache,
		Publisher: &mockPublisher{},
	})

	supervisor := NewHubSupervisor(HubSupervisorConfig{
		Dial:           dial,
		Router:         router,
		Registry:       registry,
		Cache:          cache,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	return supervisor, router
}

// stateRecorder collects supervisor state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []SessionState
	ready  chan struct{}
	once   sync.Once
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ready: make(chan struct{})}
}

func (r *stateRecorder) record(state SessionState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	if state == StateReady {
		r.once.Do(func() { close(r.ready) })
	}
}

// ============================================================
// Fatal auth errors
// ============================================================

func TestSupervisorAuthFailureIsFatal(t *testing.T) {
	dials := 0
	dial := func(_ context.Context) (*HubSession, error) {
		dials++
		return nil, fmt.Errorf("dialing hub: %w", leap.ErrAuth)
	}

	supervisor, _ := newSupervisorFixture(dial)
	supervisor.Start(context.Background())
	defer supervisor.Stop()

	select {
	case err := <-supervisor.Fatal():
		if !errors.Is(err, leap.ErrAuth) {
			t.Errorf("Fatal() error = %v, want ErrAuth", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Fatal() never delivered")
	}

	if dials != 1 {
		t.Errorf("dial attempts = %d, want 1 (no retry on auth failure)", dials)
	}
	if supervisor.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", supervisor.State())
	}
}

// ============================================================
// Reconnection
// ============================================================

func TestSupervisorRetriesTransportFailures(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(_ context.Context) (*HubSession, error) {
		mu.Lock()
		dials++
		attempt := dials
		mu.Unlock()

		if attempt < 3 {
			return nil, fmt.Errorf("dialing hub: %w", leap.ErrTransport)
		}
		return NewHubSession(hubInventory(), HubSessionConfig{}, nil), nil
	}

	supervisor, _ := newSupervisorFixture(dial)
	recorder := newStateRecorder()
	supervisor.SetOnStateChange(recorder.record)

	supervisor.Start(context.Background())
	defer supervisor.Stop()

	select {
	case <-recorder.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reached ready")
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 3 {
		t.Errorf("dial attempts = %d, want 3", dials)
	}
}

func TestSupervisorReadyLoadsRegistryAndRefreshes(t *testing.T) {
	conn := hubInventory()
	dial := func(_ context.Context) (*HubSession, error) {
		return NewHubSession(conn, HubSessionConfig{}, nil), nil
	}

	supervisor, router := newSupervisorFixture(dial)
	recorder := newStateRecorder()
	supervisor.SetOnStateChange(recorder.record)

	supervisor.Start(context.Background())
	defer supervisor.Stop()

	select {
	case <-recorder.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reached ready")
	}

	if supervisor.registry.Len() != 3 {
		t.Errorf("registry devices = %d, want 3", supervisor.registry.Len())
	}

	// Every zone was read back and queued for the router as a refresh.
	drained := 0
	for {
		select {
		case event := <-router.hubEvents:
			if event.Source != SourceRefresh {
				t.Errorf("event source = %v, want refresh", event.Source)
			}
			drained++
			continue
		default:
		}
		break
	}
	if drained != 2 {
		t.Errorf("refresh events = %d, want 2", drained)
	}
}

// ============================================================
// Backoff
// ============================================================

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	supervisor := NewHubSupervisor(HubSupervisorConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Minute,
	})

	tests := []struct {
		failures int
		min, max time.Duration
	}{
		{1, 800 * time.Millisecond, 1200 * time.Millisecond},
		{2, 1600 * time.Millisecond, 2400 * time.Millisecond},
		{5, 12800 * time.Millisecond, 19200 * time.Millisecond},
		{60, 96 * time.Second, 2 * time.Minute},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			delay := supervisor.backoffDelay(tt.failures)
			if delay < tt.min || delay > tt.max {
				t.Errorf("backoffDelay(%d) = %v, want within [%v, %v]",
					tt.failures, delay, tt.min, tt.max)
			}
		}
	}
}

// ============================================================
// Broker monitor
// ============================================================

func TestBrokerMonitor(t *testing.T) {
	monitor := NewBrokerMonitor(nil)
	if monitor.State() != StateDisconnected {
		t.Errorf("initial State() = %v, want disconnected", monitor.State())
	}

	var transitions []SessionState
	monitor.SetOnStateChange(func(state SessionState) {
		transitions = append(transitions, state)
	})

	monitor.HandleConnect()
	monitor.HandleConnect() // same state, no callback
	monitor.HandleDisconnect(errors.New("broker gone"))

	if monitor.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", monitor.State())
	}
	want := []SessionState{StateReady, StateDisconnected}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}
