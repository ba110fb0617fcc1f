package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is used when config supplies no interval.
const defaultHealthInterval = 30 * time.Second

// HealthStatus is the overall bridge status in health payloads.
type HealthStatus string

const (
	HealthOnline   HealthStatus = "online"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the JSON payload published retained on the bridge
// status topic. The offline variant doubles as the Last Will.
type HealthMessage struct {
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	Hub            string       `json:"hub"`
	Broker         string       `json:"broker"`
	Devices        int          `json:"devices"`
	CachedZones    int          `json:"cached_zones"`
	TrackedButtons int          `json:"tracked_buttons"`
	Events         uint64       `json:"events_applied"`
	Commands       uint64       `json:"commands_forwarded"`
	Dropped        uint64       `json:"commands_dropped"`
	Timestamp      string       `json:"timestamp"`
	Reason         string       `json:"reason,omitempty"`
}

// HealthPublisher publishes health payloads. Implemented by the broker
// session.
type HealthPublisher interface {
	PublishHealth(payload []byte) error
	IsConnected() bool
}

// SessionStater exposes a supervised session's current state.
type SessionStater interface {
	State() SessionState
}

// HealthReporterConfig wires the health reporter.
type HealthReporterConfig struct {
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Hub       SessionStater
	Broker    SessionStater
	Router    *Router
	Registry  *Registry
	Logger    Logger
}

// HealthReporter publishes a retained bridge status message on a fixed
// interval and on demand after session state changes.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration

	publisher HealthPublisher
	hub       SessionStater
	broker    SessionStater
	router    *Router
	registry  *Registry
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		hub:       cfg.Hub,
		broker:    cfg.Broker,
		router:    cfg.Router,
		registry:  cfg.Registry,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		if err := h.PublishNow(); err != nil {
			h.logger.Warn("initial health publish failed", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				if err := h.PublishNow(); err != nil {
					h.logger.Warn("health publish failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		payload, err := json.Marshal(h.buildMessage(HealthStopping, "bridge shutting down"))
		if err != nil {
			return
		}
		h.publisher.PublishHealth(payload) //nolint:errcheck // Best effort during shutdown
	})
}

// PublishNow publishes the current status immediately. Called by the
// report loop and after session state transitions.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.PublishHealth(payload)
}

// OfflinePayload returns the retained offline message registered as the
// broker will, published on the bridge's behalf after an ungraceful
// disconnect.
func OfflinePayload(version string) ([]byte, error) {
	return json.Marshal(HealthMessage{
		Status:  HealthOffline,
		Version: version,
		Reason:  "connection lost",
	})
}

// determineStatus folds the session states into one bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if !h.publisher.IsConnected() {
		return HealthDegraded, "broker disconnected"
	}
	if h.hub != nil && h.hub.State() != StateReady {
		return HealthDegraded, "hub " + h.hub.State().String()
	}
	return HealthOnline, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Reason:        reason,
	}
	if h.hub != nil {
		msg.Hub = h.hub.State().String()
	}
	if h.broker != nil {
		msg.Broker = h.broker.State().String()
	}
	if h.registry != nil {
		msg.Devices = h.registry.Len()
	}
	if h.router != nil {
		stats := h.router.Stats()
		msg.CachedZones = stats.CachedZones
		msg.TrackedButtons = stats.TrackedButtons
		msg.Events = stats.EventsApplied
		msg.Commands = stats.CommandsForwarded
		msg.Dropped = stats.CommandsDropped
	}
	return msg
}
