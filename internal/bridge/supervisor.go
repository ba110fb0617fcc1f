package bridge

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/dkulla01/caseta-to-mqtt/internal/leap"
)

// Backoff tuning for hub reconnection.
const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 2 * time.Minute

	// backoffJitter is the fraction of random spread applied to each
	// delay, so restarting fleets don't reconnect in lockstep.
	backoffJitter = 0.2
)

// HubDialFunc establishes a new hub session. Implemented in package
// main over leap.Dial; in tests over a fake.
type HubDialFunc func(ctx context.Context) (*HubSession, error)

// HubSupervisorConfig wires the hub supervisor.
type HubSupervisorConfig struct {
	Dial     HubDialFunc
	Router   *Router
	Registry *Registry
	Cache    *StateCache

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger Logger
}

// HubSupervisor owns the hub connection lifecycle.
//
// It runs the state machine Disconnected -> Connecting -> Ready, with
// Degraded reached from Ready when keepalives go unanswered. Every
// consecutive failure widens a jittered exponential backoff; reaching
// Ready resets it. Each time a session reaches Ready the supervisor
// replays the ground truth: reload the registry, resubscribe, mark the
// whole cache for republish, and read every zone back so retained MQTT
// state resyncs even if nothing changed while the bridge was away.
//
// An authentication failure is fatal: retrying with the same
// certificates cannot succeed, so the error is surfaced on Fatal() and
// the supervisor stops.
type HubSupervisor struct {
	dial     HubDialFunc
	router   *Router
	registry *Registry
	cache    *StateCache
	logger   Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	state    SessionState
	stateMu  sync.RWMutex
	onChange func(SessionState)

	fatal chan error

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHubSupervisor creates a supervisor in the Disconnected state.
func NewHubSupervisor(cfg HubSupervisorConfig) *HubSupervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxDelay := cfg.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}

	return &HubSupervisor{
		dial:           cfg.Dial,
		router:         cfg.Router,
		registry:       cfg.Registry,
		cache:          cfg.Cache,
		logger:         logger,
		initialBackoff: initial,
		maxBackoff:     maxDelay,
		state:          StateDisconnected,
		fatal:          make(chan error, 1),
		done:           make(chan struct{}),
	}
}

// SetOnStateChange registers a callback for session state transitions.
// Must be called before Start.
func (s *HubSupervisor) SetOnStateChange(callback func(SessionState)) {
	s.onChange = callback
}

// State returns the current session state.
func (s *HubSupervisor) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Fatal delivers the unrecoverable error, if one occurs. The process
// should exit when it fires.
func (s *HubSupervisor) Fatal() <-chan error {
	return s.fatal
}

// Start runs the supervision loop.
func (s *HubSupervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop shuts the supervisor down. Safe to call multiple times.
func (s *HubSupervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *HubSupervisor) run(ctx context.Context) {
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		s.setState(StateConnecting)

		session, err := s.dial(ctx)
		if err != nil {
			if errors.Is(err, leap.ErrAuth) {
				s.logger.Error("hub rejected credentials, giving up", "error", err)
				s.setState(StateDisconnected)
				s.fatal <- err
				return
			}

			failures++
			s.setState(StateDisconnected)
			s.logger.Warn("hub connection failed",
				"failures", failures, "error", err)
			if !s.sleepBackoff(ctx, failures) {
				return
			}
			continue
		}

		if err := s.becomeReady(ctx, session); err != nil {
			session.Close() //nolint:errcheck
			failures++
			s.setState(StateDisconnected)
			s.logger.Warn("hub ready sequence failed",
				"failures", failures, "error", err)
			if !s.sleepBackoff(ctx, failures) {
				return
			}
			continue
		}

		failures = 0
		s.setState(StateReady)
		s.logger.Info("hub session ready")

		s.superviseSession(ctx, session)

		s.router.SetCommandSender(nil)
		session.Close() //nolint:errcheck

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return
		case <-s.done:
			s.setState(StateDisconnected)
			return
		default:
			s.setState(StateDisconnected)
		}
	}
}

// becomeReady replays ground truth on a fresh session: registry load,
// subscription, cache-wide republish marking, and a status read of
// every known zone. Any failure aborts; the session is not usable.
func (s *HubSupervisor) becomeReady(ctx context.Context, session *HubSession) error {
	s.registry.SetLoader(session)
	if err := s.registry.Load(ctx); err != nil {
		return err
	}

	if err := session.Subscribe(ctx); err != nil {
		return err
	}

	marked := s.cache.ForceRefreshAll()
	s.logger.Info("registry loaded",
		"devices", s.registry.Len(), "zones_marked_for_republish", marked)

	s.router.SetCommandSender(session)
	s.refreshAllZones(ctx, session)

	return nil
}

// refreshAllZones reads every registered zone and injects the results
// as refresh events. Individual read failures are logged and skipped;
// the hub's subscription pushes will heal any gaps.
func (s *HubSupervisor) refreshAllZones(ctx context.Context, session *HubSession) {
	for _, zoneID := range s.registry.Zones() {
		value, err := session.RefreshZone(ctx, zoneID)
		if err != nil {
			s.logger.Warn("zone refresh failed", "zone_id", zoneID, "error", err)
			continue
		}

		event := HubEvent{
			Kind:   HubEventZone,
			ZoneID: zoneID,
			Value:  value,
			Source: SourceRefresh,
		}
		select {
		case s.router.HubEvents() <- event:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// superviseSession pumps the session's events into the router until
// the session ends, degrades, or shutdown begins.
func (s *HubSupervisor) superviseSession(ctx context.Context, session *HubSession) {
	degraded := make(chan struct{})
	var degradeOnce sync.Once
	session.SetOnDegraded(func() {
		degradeOnce.Do(func() {
			s.setState(StateDegraded)
			s.logger.Warn("hub session degraded, reconnecting")
			close(degraded)
		})
	})
	session.StartKeepalive(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-degraded:
			return
		case event, ok := <-session.Events():
			if !ok {
				s.logger.Warn("hub session ended")
				return
			}
			select {
			case s.router.HubEvents() <- event:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// sleepBackoff waits out the jittered exponential delay for the given
// consecutive failure count. Returns false when shutdown interrupts.
func (s *HubSupervisor) sleepBackoff(ctx context.Context, failures int) bool {
	delay := s.backoffDelay(failures)
	s.logger.Info("hub reconnect scheduled", "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// backoffDelay computes the delay for the nth consecutive failure:
// initial doubled per failure, capped, with random jitter.
func (s *HubSupervisor) backoffDelay(failures int) time.Duration {
	delay := s.initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.maxBackoff {
			delay = s.maxBackoff
			break
		}
	}

	jitter := 1 + backoffJitter*(2*rand.Float64()-1) // #nosec G404 -- jitter, not crypto
	jittered := time.Duration(float64(delay) * jitter)
	if jittered > s.maxBackoff {
		jittered = s.maxBackoff
	}
	return jittered
}

func (s *HubSupervisor) setState(state SessionState) {
	s.stateMu.Lock()
	changed := s.state != state
	s.state = state
	s.stateMu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(state)
	}
}

// BrokerMonitor tracks the broker session's state.
//
// The MQTT client reconnects itself with its own backoff, so this
// side needs observation rather than supervision: main wires the
// client's connect/disconnect callbacks here, and health reporting
// reads the state back out.
type BrokerMonitor struct {
	state    SessionState
	mu       sync.RWMutex
	onChange func(SessionState)
	logger   Logger
}

// NewBrokerMonitor starts in the Disconnected state.
func NewBrokerMonitor(logger Logger) *BrokerMonitor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &BrokerMonitor{
		state:  StateDisconnected,
		logger: logger,
	}
}

// SetOnStateChange registers a callback for state transitions.
// Must be called before the client callbacks are wired.
func (m *BrokerMonitor) SetOnStateChange(callback func(SessionState)) {
	m.onChange = callback
}

// State returns the current broker session state.
func (m *BrokerMonitor) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// HandleConnect is wired to the MQTT client's on-connect callback.
// It fires on the initial connection and on every reconnect.
func (m *BrokerMonitor) HandleConnect() {
	m.setState(StateReady)
	m.logger.Info("broker session ready")
}

// HandleDisconnect is wired to the MQTT client's connection-lost callback.
func (m *BrokerMonitor) HandleDisconnect(err error) {
	m.setState(StateDisconnected)
	m.logger.Warn("broker connection lost", "error", err)
}

func (m *BrokerMonitor) setState(state SessionState) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(state)
	}
}
