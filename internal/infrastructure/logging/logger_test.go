package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/config"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{name: "json to stdout", cfg: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{name: "text to stderr", cfg: config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{name: "empty config falls back to defaults", cfg: config.LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if logger := New(tt.cfg, "1.0.0"); logger == nil {
				t.Fatal("New() = nil, want logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "verbose", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWithReturnsChild(t *testing.T) {
	logger := Default()

	child := logger.With("component", "leap")
	if child == nil {
		t.Fatal("With() = nil, want logger")
	}
	if child == logger {
		t.Error("With() returned the parent logger, want a child")
	}
}

func TestRecordsCarryDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	attrs := handler.WithAttrs([]slog.Attr{
		slog.String("service", "caseta-to-mqtt"),
		slog.String("version", "test"),
	})

	logger := &Logger{Logger: slog.New(attrs)}
	logger.Info("hub connected", "host", "192.168.1.30")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}

	if record["service"] != "caseta-to-mqtt" {
		t.Errorf("service = %v, want caseta-to-mqtt", record["service"])
	}
	if record["version"] != "test" {
		t.Errorf("version = %v, want test", record["version"])
	}
	if record["msg"] != "hub connected" {
		t.Errorf("msg = %v, want hub connected", record["msg"])
	}
	if record["host"] != "192.168.1.30" {
		t.Errorf("host = %v, want 192.168.1.30", record["host"])
	}
}
