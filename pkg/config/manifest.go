package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// MaxManifestEntries bounds the history; older entries are dropped on append
const MaxManifestEntries = 16

// ManifestEntry records the configuration in force and the image digest
// after one save
type ManifestEntry struct {
	Timestamp int64   `json:"timestamp"`
	Version   int     `json:"version"`
	Config    *Config `json:"config"`
	Digest    uint64  `json:"digest,omitempty"`
	Entries   int     `json:"entries"`
	StoreSize int     `json:"store_size"`
}

// Manifest is the save history kept next to an image file
type Manifest struct {
	ImagePath  string
	Entries    []ManifestEntry
	Current    *ManifestEntry
	LastUpdate time.Time
	mu         sync.RWMutex
}

// NewManifest creates a new manifest for the given image path
func NewManifest(imagePath string, config *Config) (*Manifest, error) {
	if config == nil {
		config = NewDefaultConfig(imagePath)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    config,
	}

	m := &Manifest{
		ImagePath:  imagePath,
		Entries:    []ManifestEntry{entry},
		LastUpdate: time.Now(),
	}
	m.Current = &m.Entries[0]

	return m, nil
}

// LoadManifest loads an existing manifest from beside the image
func LoadManifest(imagePath string) (*Manifest, error) {
	file, err := os.Open(ManifestPath(imagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in manifest", ErrInvalidManifest)
	}

	current := &entries[len(entries)-1]
	if current.Config == nil {
		return nil, fmt.Errorf("%w: latest entry has no config", ErrInvalidManifest)
	}
	if err := current.Config.Validate(); err != nil {
		return nil, err
	}

	m := &Manifest{
		ImagePath:  imagePath,
		Entries:    entries,
		Current:    current,
		LastUpdate: time.Now(),
	}

	return m, nil
}

// Save persists the manifest to disk
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Current.Config.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.Entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := writeFileAtomic(ManifestPath(m.ImagePath), data); err != nil {
		return err
	}

	m.LastUpdate = time.Now()
	return nil
}

// RecordSave appends an entry describing a completed save
func (m *Manifest) RecordSave(digest uint64, entries, storeSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    m.Current.Config,
		Digest:    digest,
		Entries:   entries,
		StoreSize: storeSize,
	}

	m.appendEntry(entry)
}

// appendEntry adds entry as the current one and drops the oldest entries
// beyond MaxManifestEntries. Every entry carries a full config, so the newest
// one is always self-contained.
func (m *Manifest) appendEntry(entry ManifestEntry) {
	m.Entries = append(m.Entries, entry)
	if n := len(m.Entries); n > MaxManifestEntries {
		m.Entries = append([]ManifestEntry(nil), m.Entries[n-MaxManifestEntries:]...)
	}
	m.Current = &m.Entries[len(m.Entries)-1]
}

// UpdateConfig creates a new configuration entry
func (m *Manifest) UpdateConfig(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newConfig := m.Current.Config.Clone()
	fn(newConfig)

	if err := newConfig.Validate(); err != nil {
		return err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    newConfig,
		Digest:    m.Current.Digest,
		Entries:   m.Current.Entries,
		StoreSize: m.Current.StoreSize,
	}

	m.appendEntry(entry)

	return nil
}

// GetConfig returns the current configuration
func (m *Manifest) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Config
}

// LastDigest returns the digest of the most recent recorded save, if any
func (m *Manifest) LastDigest() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].Digest != 0 {
			return m.Entries[i].Digest, true
		}
	}
	return 0, false
}
