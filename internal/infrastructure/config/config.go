package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Caseta bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Hub      HubConfig      `yaml:"hub"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	History  HistoryConfig  `yaml:"history"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains bridge-level settings shared by both sessions.
type BridgeConfig struct {
	// TopicPrefix is the root of the published topic tree
	// (e.g. "caseta" -> "caseta/living-room/lamp/1/state").
	TopicPrefix string `yaml:"topic_prefix"`

	// HealthInterval is how often the bridge health message is published (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// HubConfig contains Caseta Smart Bridge connection settings.
type HubConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Mutual-TLS credential files. Provisioning these (pairing with the hub)
	// is an external responsibility.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	Keepalive KeepaliveConfig `yaml:"keepalive"`

	// CommandTimeout is the bounded wait for a command acknowledgement (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// KeepaliveConfig controls LEAP session liveness probing.
type KeepaliveConfig struct {
	// Interval between ping requests (seconds).
	Interval int `yaml:"interval"`

	// MaxMissed is the number of consecutive unanswered pings before the
	// session is marked degraded and torn down.
	MaxMissed int `yaml:"max_missed"`
}

// ReconnectConfig contains session reconnection backoff settings.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	TLS       MQTTTLSConfig    `yaml:"tls"`
	QoS       int              `yaml:"qos"`
	Reconnect ReconnectConfig  `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig contains client certificate files for mutual-TLS brokers.
// Leave empty for server-auth-only TLS.
type MQTTTLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// HistoryConfig contains the channel-state change journal settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// RetentionDays is how long journal entries are kept. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains the optional time-series sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CASETA_SECTION_KEY
// For example: CASETA_HUB_HOST, CASETA_MQTT_PASSWORD
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			TopicPrefix:    "caseta",
			HealthInterval: 30,
		},
		Hub: HubConfig{
			Port: 8081,
			Keepalive: KeepaliveConfig{
				Interval:  60,
				MaxMissed: 2,
			},
			CommandTimeout: 5,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     120,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "caseta-to-mqtt",
			},
			QoS: 1,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		History: HistoryConfig{
			Path:          "./data/caseta-history.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CASETA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("CASETA_HUB_HOST"); v != "" {
		cfg.Hub.Host = v
	}
	if v := os.Getenv("CASETA_HUB_CERT_FILE"); v != "" {
		cfg.Hub.CertFile = v
	}
	if v := os.Getenv("CASETA_HUB_KEY_FILE"); v != "" {
		cfg.Hub.KeyFile = v
	}
	if v := os.Getenv("CASETA_HUB_CA_FILE"); v != "" {
		cfg.Hub.CAFile = v
	}

	// MQTT
	if v := os.Getenv("CASETA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CASETA_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CASETA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CASETA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("CASETA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.TopicPrefix == "" {
		errs = append(errs, "bridge.topic_prefix is required")
	} else if strings.ContainsAny(c.Bridge.TopicPrefix, "+#/") {
		errs = append(errs, "bridge.topic_prefix must be a single topic level without wildcards")
	}

	if c.Hub.Host == "" {
		errs = append(errs, "hub.host is required")
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		errs = append(errs, "hub.port must be between 1 and 65535")
	}
	if c.Hub.CertFile == "" || c.Hub.KeyFile == "" || c.Hub.CAFile == "" {
		errs = append(errs, "hub.cert_file, hub.key_file and hub.ca_file are required")
	}
	if c.Hub.Keepalive.Interval < 1 {
		errs = append(errs, "hub.keepalive.interval must be at least 1 second")
	}
	if c.Hub.Keepalive.MaxMissed < 1 {
		errs = append(errs, "hub.keepalive.max_missed must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if (c.MQTT.TLS.CertFile != "") != (c.MQTT.TLS.KeyFile != "") {
		errs = append(errs, "mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set CASETA_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetKeepaliveInterval returns the hub keepalive interval as a Duration.
func (c *HubConfig) GetKeepaliveInterval() time.Duration {
	return time.Duration(c.Keepalive.Interval) * time.Second
}

// GetCommandTimeout returns the hub command timeout as a Duration.
func (c *HubConfig) GetCommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// GetInitialDelay returns the initial reconnect delay as a Duration.
func (c *ReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(c.InitialDelay) * time.Second
}

// GetMaxDelay returns the maximum reconnect delay as a Duration.
func (c *ReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(c.MaxDelay) * time.Second
}

// GetRetention returns the journal retention period as a Duration.
func (c *HistoryConfig) GetRetention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
