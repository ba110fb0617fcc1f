package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const validConfig = `
bridge:
  topic_prefix: "testhome"
hub:
  host: "192.168.1.50"
  cert_file: "/etc/caseta/caseta.crt"
  key_file: "/etc/caseta/caseta.key"
  ca_file: "/etc/caseta/caseta-bridge.crt"
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
    client_id: "test-bridge"
  qos: 1
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.TopicPrefix != "testhome" {
		t.Errorf("Bridge.TopicPrefix = %q, want %q", cfg.Bridge.TopicPrefix, "testhome")
	}
	if cfg.Hub.Host != "192.168.1.50" {
		t.Errorf("Hub.Host = %q, want %q", cfg.Hub.Host, "192.168.1.50")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.Port != 8081 {
		t.Errorf("Hub.Port default = %d, want 8081", cfg.Hub.Port)
	}
	if cfg.Hub.Keepalive.Interval != 60 {
		t.Errorf("Hub.Keepalive.Interval default = %d, want 60", cfg.Hub.Keepalive.Interval)
	}
	if cfg.Hub.Keepalive.MaxMissed != 2 {
		t.Errorf("Hub.Keepalive.MaxMissed default = %d, want 2", cfg.Hub.Keepalive.MaxMissed)
	}
	if got := cfg.Hub.GetCommandTimeout(); got != 5*time.Second {
		t.Errorf("GetCommandTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetHealthInterval(); got != 30*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 30s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CASETA_HUB_HOST", "10.0.0.99")
	t.Setenv("CASETA_MQTT_PASSWORD", "secret-from-env")
	t.Setenv("CASETA_MQTT_PORT", "1884")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.Host != "10.0.0.99" {
		t.Errorf("Hub.Host = %q, want env override %q", cfg.Hub.Host, "10.0.0.99")
	}
	if cfg.MQTT.Auth.Password != "secret-from-env" {
		t.Errorf("MQTT.Auth.Password not overridden from environment")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want env override 1884", cfg.MQTT.Broker.Port)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing hub host",
			mutate:  func(c *Config) { c.Hub.Host = "" },
			wantErr: "hub.host",
		},
		{
			name:    "missing cert files",
			mutate:  func(c *Config) { c.Hub.CertFile = "" },
			wantErr: "hub.cert_file",
		},
		{
			name:    "wildcard in prefix",
			mutate:  func(c *Config) { c.Bridge.TopicPrefix = "home/#" },
			wantErr: "topic_prefix",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero keepalive interval",
			mutate:  func(c *Config) { c.Hub.Keepalive.Interval = 0 },
			wantErr: "keepalive.interval",
		},
		{
			name:    "partial mqtt tls pair",
			mutate:  func(c *Config) { c.MQTT.TLS.CertFile = "/x.crt" },
			wantErr: "mqtt.tls",
		},
		{
			name: "influx enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Token = "t"
			},
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Hub.Host = "hub.local"
			cfg.Hub.CertFile = "/c"
			cfg.Hub.KeyFile = "/k"
			cfg.Hub.CAFile = "/ca"

			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "bridge: [not: valid"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}
