package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/flashkv/pkg/flash"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/flashkv.img")

	if cfg.Version != CurrentManifestVersion {
		t.Errorf("expected version %d, got %d", CurrentManifestVersion, cfg.Version)
	}

	if cfg.ImagePath != "/tmp/flashkv.img" {
		t.Errorf("expected image path /tmp/flashkv.img, got %s", cfg.ImagePath)
	}

	if cfg.Region.Size != DefaultDeviceSize || cfg.Region.PageSize != DefaultPageSize {
		t.Errorf("unexpected default region %s", cfg.Region)
	}

	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "invalid version",
			mutate: func(c *Config) { c.Version = 0 },
		},
		{
			name:   "no image and no remote",
			mutate: func(c *Config) { c.ImagePath = "" },
		},
		{
			name:   "invalid region",
			mutate: func(c *Config) { c.Region.PageSize = 0 },
		},
		{
			name:   "region larger than device",
			mutate: func(c *Config) { c.Region.Base = DefaultSectorSize },
		},
		{
			name:   "device not sector multiple",
			mutate: func(c *Config) { c.DeviceSize = DefaultDeviceSize + 100 },
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
		},
		{
			name: "broken telemetry when enabled",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.ServiceName = ""
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/flashkv.img")
			tc.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRemoteConfigSkipsDeviceSize(t *testing.T) {
	cfg := NewDefaultConfig("")
	cfg.RemoteAddr = "localhost:50061"
	cfg.DeviceSize = 0
	cfg.Region = flash.Region{Base: 1 << 20, Size: 8192, PageSize: 256, SectorSize: 4096}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected remote config to be valid, got %v", err)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "flashkv.json")

	cfg := NewDefaultConfig(filepath.Join(dir, "flashkv.img"))
	cfg.Update(func(c *Config) {
		c.LogLevel = "debug"
		c.Region.Base = DefaultSectorSize
		c.Region.Size = DefaultDeviceSize - DefaultSectorSize
	})

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.LogLevel)
	}
	if loaded.Region != cfg.Region {
		t.Errorf("expected region %s, got %s", cfg.Region, loaded.Region)
	}
	if loaded.Telemetry.ServiceName != "flashkv" {
		t.Errorf("expected telemetry service name to round trip, got %q", loaded.Telemetry.ServiceName)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigClone(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/flashkv.img")
	clone := cfg.Clone()

	clone.Region.Size = 4096
	clone.Telemetry.Exporters[0] = "otlp"

	if cfg.Region.Size == 4096 {
		t.Error("clone shares region with original")
	}
	if cfg.Telemetry.Exporters[0] == "otlp" {
		t.Error("clone shares exporter slice with original")
	}
}
