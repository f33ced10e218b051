package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewManifest(t *testing.T) {
	imagePath := "/tmp/flashkv.img"
	cfg := NewDefaultConfig(imagePath)

	manifest, err := NewManifest(imagePath, cfg)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	if manifest.ImagePath != imagePath {
		t.Errorf("expected image path %s, got %s", imagePath, manifest.ImagePath)
	}

	if len(manifest.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(manifest.Entries))
	}

	if manifest.Current == nil {
		t.Error("current entry is nil")
	} else if manifest.Current.Config != cfg {
		t.Error("current config does not match the provided config")
	}

	if _, ok := manifest.LastDigest(); ok {
		t.Error("new manifest should have no recorded digest")
	}
}

func TestManifestUpdateConfig(t *testing.T) {
	imagePath := "/tmp/flashkv.img"
	manifest, err := NewManifest(imagePath, nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	err = manifest.UpdateConfig(func(c *Config) {
		c.LogLevel = "warn"
		c.SyncWrites = false
	})
	if err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	if len(manifest.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(manifest.Entries))
	}

	current := manifest.GetConfig()
	if current.LogLevel != "warn" || current.SyncWrites {
		t.Errorf("update not applied: level %s sync %v", current.LogLevel, current.SyncWrites)
	}

	// The previous entry keeps its own config
	if manifest.Entries[0].Config.LogLevel != "info" {
		t.Errorf("expected first entry to keep log level info, got %s", manifest.Entries[0].Config.LogLevel)
	}

	// Invalid updates are rejected
	err = manifest.UpdateConfig(func(c *Config) {
		c.Region.PageSize = 0
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if len(manifest.Entries) != 2 {
		t.Errorf("rejected update should not add an entry, got %d", len(manifest.Entries))
	}
}

func TestManifestRecordSave(t *testing.T) {
	manifest, err := NewManifest("/tmp/flashkv.img", nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	manifest.RecordSave(0xdeadbeef, 3, 42)
	manifest.RecordSave(0xfeedface, 4, 50)

	digest, ok := manifest.LastDigest()
	if !ok || digest != 0xfeedface {
		t.Errorf("expected last digest 0xfeedface, got %x (%v)", digest, ok)
	}
	if manifest.Current.Entries != 4 || manifest.Current.StoreSize != 50 {
		t.Errorf("unexpected current entry %+v", manifest.Current)
	}
}

func TestManifestHistoryIsBounded(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "flashkv.img")

	manifest, err := NewManifest(imagePath, nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	saves := MaxManifestEntries * 3
	for i := 1; i <= saves; i++ {
		manifest.RecordSave(uint64(i), i, i*10)
	}

	if len(manifest.Entries) != MaxManifestEntries {
		t.Fatalf("expected %d entries, got %d", MaxManifestEntries, len(manifest.Entries))
	}
	if manifest.Current != &manifest.Entries[len(manifest.Entries)-1] {
		t.Error("current entry should be the newest one")
	}
	if first := manifest.Entries[0].Digest; first != uint64(saves-MaxManifestEntries+1) {
		t.Errorf("expected oldest kept digest %d, got %d", saves-MaxManifestEntries+1, first)
	}

	if err := manifest.Save(); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}
	loaded, err := LoadManifest(imagePath)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}
	if len(loaded.Entries) != MaxManifestEntries {
		t.Errorf("expected %d entries on disk, got %d", MaxManifestEntries, len(loaded.Entries))
	}
	if digest, ok := loaded.LastDigest(); !ok || digest != uint64(saves) {
		t.Errorf("expected last digest %d, got %d", saves, digest)
	}
	if loaded.GetConfig() == nil {
		t.Error("newest entry must still carry a config")
	}
}

func TestManifestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "flashkv.img")

	manifest, err := NewManifest(imagePath, nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}
	manifest.RecordSave(12345, 1, 12)

	if err := manifest.Save(); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	if _, err := os.Stat(ManifestPath(imagePath)); err != nil {
		t.Fatalf("manifest file not created: %v", err)
	}

	loaded, err := LoadManifest(imagePath)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if len(loaded.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(loaded.Entries))
	}
	if digest, ok := loaded.LastDigest(); !ok || digest != 12345 {
		t.Errorf("expected digest 12345, got %d", digest)
	}

	cfg, err := LoadConfigFromManifest(imagePath)
	if err != nil {
		t.Fatalf("failed to load config from manifest: %v", err)
	}
	if cfg.ImagePath != imagePath {
		t.Errorf("expected image path %s, got %s", imagePath, cfg.ImagePath)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "flashkv.img")

	if _, err := LoadManifest(imagePath); !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}

	for name, content := range map[string]string{
		"garbage":   "not json",
		"empty":     "[]",
		"no config": `[{"timestamp": 1, "version": 1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(ManifestPath(imagePath), []byte(content), 0644); err != nil {
				t.Fatalf("failed to write manifest: %v", err)
			}
			if _, err := LoadManifest(imagePath); !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("expected ErrInvalidManifest, got %v", err)
			}
		})
	}
}
