// ABOUTME: Tests for telemetry configuration validation, environment variable loading, and default values
// ABOUTME: Ensures configuration behaves correctly with valid and invalid inputs using real config operations

package telemetry

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "flashkv" {
		t.Errorf("Expected default service name 'flashkv', got '%s'", cfg.ServiceName)
	}

	if cfg.Enabled {
		t.Error("Expected telemetry to be disabled by default")
	}

	if len(cfg.Exporters) != 1 || cfg.Exporters[0] != "stdout" {
		t.Errorf("Expected default exporters ['stdout'], got %v", cfg.Exporters)
	}

	if cfg.PrometheusPort != 9464 {
		t.Errorf("Expected default prometheus port 9464, got %d", cfg.PrometheusPort)
	}

	if cfg.OTLPEndpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint 'localhost:4317', got '%s'", cfg.OTLPEndpoint)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"all exporters", func(c *Config) { c.Exporters = []string{"prometheus", "otlp", "stdout"} }, false},
		{"empty service name", func(c *Config) { c.ServiceName = "" }, true},
		{"empty service version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }, true},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.5 }, true},
		{"port zero", func(c *Config) { c.PrometheusPort = 0 }, true},
		{"port too large", func(c *Config) { c.PrometheusPort = 70000 }, true},
		{"zero export timeout", func(c *Config) { c.ExportTimeout = 0 }, true},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }, true},
		{"zero metric interval", func(c *Config) { c.MetricInterval = 0 }, true},
		{"zero queue", func(c *Config) { c.MaxQueueSize = 0 }, true},
		{"zero batch", func(c *Config) { c.MaxExportBatchSize = 0 }, true},
		{"batch above queue", func(c *Config) { c.MaxExportBatchSize = c.MaxQueueSize + 1 }, true},
		{"unknown exporter", func(c *Config) { c.Exporters = []string{"jaeger"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigLoadFromEnv(t *testing.T) {
	t.Setenv("FLASHKV_TELEMETRY_SERVICE_NAME", "test-service")
	t.Setenv("FLASHKV_TELEMETRY_SERVICE_VERSION", "2.0.0")
	t.Setenv("FLASHKV_TELEMETRY_ENABLED", "true")
	t.Setenv("FLASHKV_TELEMETRY_EXPORTERS", "prometheus, otlp")
	t.Setenv("FLASHKV_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("FLASHKV_TELEMETRY_PROMETHEUS_PORT", "8080")
	t.Setenv("FLASHKV_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("FLASHKV_TELEMETRY_EXPORT_TIMEOUT", "60s")
	t.Setenv("FLASHKV_TELEMETRY_METRIC_INTERVAL", "2s")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "2.0.0" {
		t.Errorf("Expected service version '2.0.0', got '%s'", cfg.ServiceVersion)
	}
	if !cfg.Enabled {
		t.Error("Expected telemetry to be enabled")
	}
	if len(cfg.Exporters) != 2 || cfg.Exporters[0] != "prometheus" || cfg.Exporters[1] != "otlp" {
		t.Errorf("Expected exporters [prometheus otlp], got %v", cfg.Exporters)
	}
	if cfg.SampleRate != 0.5 {
		t.Errorf("Expected sample rate 0.5, got %f", cfg.SampleRate)
	}
	if cfg.PrometheusPort != 8080 {
		t.Errorf("Expected prometheus port 8080, got %d", cfg.PrometheusPort)
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Errorf("Expected OTLP endpoint 'collector:4317', got '%s'", cfg.OTLPEndpoint)
	}
	if cfg.ExportTimeout != 60*time.Second {
		t.Errorf("Expected export timeout 60s, got %s", cfg.ExportTimeout)
	}
	if cfg.MetricInterval != 2*time.Second {
		t.Errorf("Expected metric interval 2s, got %s", cfg.MetricInterval)
	}
}

func TestConfigLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("FLASHKV_TELEMETRY_ENABLED", "invalid")
	t.Setenv("FLASHKV_TELEMETRY_SAMPLE_RATE", "invalid")
	t.Setenv("FLASHKV_TELEMETRY_PROMETHEUS_PORT", "invalid")
	t.Setenv("FLASHKV_TELEMETRY_BATCH_TIMEOUT", "soon")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	defaults := DefaultConfig()
	if cfg.Enabled != defaults.Enabled {
		t.Error("Invalid boolean should not change the value")
	}
	if cfg.SampleRate != defaults.SampleRate {
		t.Error("Invalid sample rate should not change the value")
	}
	if cfg.PrometheusPort != defaults.PrometheusPort {
		t.Error("Invalid port should not change the value")
	}
	if cfg.BatchTimeout != defaults.BatchTimeout {
		t.Error("Invalid duration should not change the value")
	}
}

func TestConfigHasExporter(t *testing.T) {
	cfg := Config{
		Exporters: []string{"prometheus", "stdout"},
	}

	if !cfg.HasExporter("prometheus") {
		t.Error("Expected HasExporter('prometheus') to return true")
	}
	if !cfg.HasExporter("stdout") {
		t.Error("Expected HasExporter('stdout') to return true")
	}
	if cfg.HasExporter("otlp") {
		t.Error("Expected HasExporter('otlp') to return false")
	}
}
