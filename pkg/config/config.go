package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/telemetry"
)

const (
	ManifestSuffix         = ".manifest"
	CurrentManifestVersion = 1

	DefaultDeviceSize = 64 * 1024
	DefaultPageSize   = 256
	DefaultSectorSize = 4096
	DefaultListenAddr = "localhost:50061"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

type Config struct {
	Version int `json:"version"`

	// Device configuration
	ImagePath  string `json:"image_path"`
	DeviceSize uint32 `json:"device_size"`
	SyncWrites bool   `json:"sync_writes"`

	// Store region inside the device
	Region flash.Region `json:"region"`

	// Remote device configuration
	ListenAddr string `json:"listen_addr"`
	RemoteAddr string `json:"remote_addr,omitempty"`

	LogLevel  string           `json:"log_level"`
	Telemetry telemetry.Config `json:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config for a file-backed device at imagePath
// whose single store region covers the whole device
func NewDefaultConfig(imagePath string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		ImagePath:  imagePath,
		DeviceSize: DefaultDeviceSize,
		SyncWrites: true,

		Region: flash.Region{
			Base:       0,
			Size:       DefaultDeviceSize,
			PageSize:   DefaultPageSize,
			SectorSize: DefaultSectorSize,
		},

		ListenAddr: DefaultListenAddr,
		LogLevel:   "info",
		Telemetry:  telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.ImagePath == "" && c.RemoteAddr == "" {
		return fmt.Errorf("%w: either an image path or a remote address is required", ErrInvalidConfig)
	}

	if err := c.Region.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.RemoteAddr == "" && c.Region.End() > uint64(c.DeviceSize) {
		return fmt.Errorf("%w: region %s does not fit in a %d byte device", ErrInvalidConfig, c.Region, c.DeviceSize)
	}

	if c.DeviceSize%c.Region.SectorSize != 0 {
		return fmt.Errorf("%w: device size %d is not a multiple of sector size %d",
			ErrInvalidConfig, c.DeviceSize, c.Region.SectorSize)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Telemetry.Enabled {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// ManifestPath returns the sidecar manifest path for an image
func ManifestPath(imagePath string) string {
	return imagePath + ManifestSuffix
}

// LoadConfigFromManifest loads just the configuration portion of the latest
// manifest entry stored next to the image
func LoadConfigFromManifest(imagePath string) (*Config, error) {
	m, err := LoadManifest(imagePath)
	if err != nil {
		return nil, err
	}
	return m.GetConfig(), nil
}

// SaveConfig writes the configuration alone to path as indented JSON
func (c *Config) SaveConfig(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return writeFileAtomic(path, data)
}

// LoadConfig reads a configuration written by SaveConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:    c.Version,
		ImagePath:  c.ImagePath,
		DeviceSize: c.DeviceSize,
		SyncWrites: c.SyncWrites,
		Region:     c.Region,
		ListenAddr: c.ListenAddr,
		RemoteAddr: c.RemoteAddr,
		LogLevel:   c.LogLevel,
		Telemetry:  c.Telemetry,
	}
	clone.Telemetry.Exporters = append([]string(nil), c.Telemetry.Exporters...)
	return clone
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tempPath, err)
	}

	return nil
}
