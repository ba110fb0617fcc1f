// caseta-to-mqtt - Lutron Caseta to MQTT bridge
//
// This is the main entry point for the bridge. It connects to a Lutron
// Caseta Smart Bridge over the LEAP protocol, mirrors zone state onto a
// retained MQTT topic tree, accepts commands from MQTT, and publishes
// Pico remote click events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkulla01/caseta-to-mqtt/internal/bridge"
	"github.com/dkulla01/caseta-to-mqtt/internal/history"
	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/config"
	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/database"
	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/influxdb"
	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/logging"
	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/mqtt"
	"github.com/dkulla01/caseta-to-mqtt/internal/leap"
)

// Build metadata, injected via -ldflags "-X main.version=..." at
// release time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main so exit
// codes are handled in one place.
func run(ctx context.Context) error {
	// Bootstrap logger; replaced once the config file has been read.
	log := logging.Default()
	log.Info("starting caseta-to-mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Swap in the configured logger.
	log = logging.New(cfg.Logging, version)

	// State change journal, optional.
	var recorder *history.Recorder
	if cfg.History.Enabled {
		db, dbErr := database.Open(cfg.History.Path)
		if dbErr != nil {
			return fmt.Errorf("opening history database: %w", dbErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		recorder, err = history.NewRecorder(db.DB, cfg.History.GetRetention(), log)
		if err != nil {
			return fmt.Errorf("initialising history journal: %w", err)
		}
		recorder.StartPruneLoop(ctx)
		defer recorder.Stop()
		log.Info("history journal enabled",
			"path", cfg.History.Path,
			"retention_days", cfg.History.RetentionDays,
		)
	} else {
		log.Info("history journal disabled")
	}

	// Telemetry sink, optional.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	topics := bridge.Topics{Prefix: cfg.Bridge.TopicPrefix}
	registry := bridge.NewRegistry(nil)
	cache := bridge.NewStateCache()

	// Connect to the MQTT broker with the offline status registered as
	// the broker will, so subscribers see the bridge drop ungracefully.
	will, err := bridge.OfflinePayload(version)
	if err != nil {
		return fmt.Errorf("building will payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
		Topic:    topics.Health(),
		Payload:  will,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	broker := bridge.NewBrokerSession(
		&mqttSessionAdapter{client: mqttClient},
		topics,
		byte(cfg.MQTT.QoS),
		log,
	)
	if err := broker.Subscribe(); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	// The router owns all cache mutation; everything else feeds it
	// through channels.
	routerCfg := bridge.RouterConfig{
		Registry:  registry,
		Cache:     cache,
		Publisher: broker,
		Commands:  broker.Commands(),
		Logger:    log,
	}
	if recorder != nil {
		routerCfg.History = recorder
	}
	if influxClient != nil {
		routerCfg.Telemetry = influxClient
	}
	router := bridge.NewRouter(routerCfg)
	router.Start(ctx)
	defer router.Stop()

	supervisor := bridge.NewHubSupervisor(bridge.HubSupervisorConfig{
		Dial:           dialHub(cfg, log),
		Router:         router,
		Registry:       registry,
		Cache:          cache,
		InitialBackoff: cfg.Hub.Reconnect.GetInitialDelay(),
		MaxBackoff:     cfg.Hub.Reconnect.GetMaxDelay(),
		Logger:         log,
	})

	brokerMonitor := bridge.NewBrokerMonitor(log)
	brokerMonitor.HandleConnect() // Connect() above succeeded

	reporter := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Version:   version,
		Interval:  cfg.GetHealthInterval(),
		Publisher: broker,
		Hub:       supervisor,
		Broker:    brokerMonitor,
		Router:    router,
		Registry:  registry,
		Logger:    log,
	})

	// Session state transitions push a fresh health message and, when
	// telemetry is enabled, a transition point.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		brokerMonitor.HandleConnect()
		// Retained topics missed every change made during the outage;
		// push the whole cache back out.
		router.RequestResync()
		if influxClient != nil {
			influxClient.WriteSessionTransition("broker", bridge.StateReady.String())
		}
		if err := reporter.PublishNow(); err != nil {
			log.Warn("health publish after reconnect failed", "error", err)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		brokerMonitor.HandleDisconnect(err)
		if influxClient != nil {
			influxClient.WriteSessionTransition("broker", bridge.StateDisconnected.String())
		}
	})
	supervisor.SetOnStateChange(func(state bridge.SessionState) {
		if influxClient != nil {
			influxClient.WriteSessionTransition("hub", state.String())
		}
		if err := reporter.PublishNow(); err != nil {
			log.Warn("health publish after hub transition failed", "error", err)
		}
	})

	supervisor.Start(ctx)
	defer supervisor.Stop()

	reporter.Start(ctx)
	defer reporter.Stop()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-supervisor.Fatal():
		log.Error("unrecoverable hub failure", "error", err)
		return fmt.Errorf("hub session: %w", err)
	}

	// Deferred Stop/Close calls run in reverse order: the reporter
	// publishes its final stopping status while the broker connection
	// is still up.

	log.Info("caseta-to-mqtt stopped")
	return nil
}

// dialHub returns the dial function the supervisor uses to establish
// each hub session.
func dialHub(cfg *config.Config, log *logging.Logger) bridge.HubDialFunc {
	leapCfg := leap.Config{
		Host:           cfg.Hub.Host,
		Port:           cfg.Hub.Port,
		CertFile:       cfg.Hub.CertFile,
		KeyFile:        cfg.Hub.KeyFile,
		CAFile:         cfg.Hub.CAFile,
		RequestTimeout: cfg.Hub.GetCommandTimeout(),
	}
	sessionCfg := bridge.HubSessionConfig{
		CommandTimeout:    cfg.Hub.GetCommandTimeout(),
		KeepaliveInterval: cfg.Hub.GetKeepaliveInterval(),
		MaxMissedPings:    cfg.Hub.Keepalive.MaxMissed,
	}

	return func(ctx context.Context) (*bridge.HubSession, error) {
		client, err := leap.Dial(ctx, leapCfg)
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		return bridge.NewHubSession(client, sessionCfg, log), nil
	}
}

// getConfigPath returns the configuration file path.
// Uses CASETA_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CASETA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttSessionAdapter adapts the infrastructure MQTT client to the
// broker session's interface. The infrastructure Subscribe takes the
// named mqtt.MessageHandler type, so the unnamed handler signature is
// bridged here.
type mqttSessionAdapter struct {
	client *mqtt.Client
}

func (a *mqttSessionAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttSessionAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, mqtt.MessageHandler(handler))
}

func (a *mqttSessionAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
