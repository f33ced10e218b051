package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/config"
	"github.com/KevoDB/flashkv/pkg/engine"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/flash/remote"
	"github.com/KevoDB/flashkv/pkg/telemetry"
	"github.com/spf13/viper"
)

// telemetryOut receives the stdout exporter's dumps so they never mix with
// command output.
var telemetryOut io.Writer = os.Stderr

func startTelemetry(c telemetry.Config) (telemetry.Telemetry, error) {
	tel, err := telemetry.New(c, telemetry.WithStdoutWriter(telemetryOut))
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	return tel, nil
}

// session ties a device, an engine and the image manifest together for one
// command or one shell.
type session struct {
	cfg      *config.Config
	dev      flash.Device
	closeDev func() error
	eng      *engine.Engine
	manifest *config.Manifest // nil for remote devices
	tel      telemetry.Telemetry
	logger   log.Logger
	dirty    bool
}

// openSession opens the configured device and creates an unloaded engine.
func openSession(c *config.Config) (*session, error) {
	logger := log.WithField("component", "cli")

	tel, err := startTelemetry(c.Telemetry)
	if err != nil {
		return nil, err
	}

	dev, closeDev, err := openDevice(c, tel)
	if err != nil {
		tel.Shutdown(context.Background())
		return nil, err
	}

	eng, err := engine.NewEngine(dev, c.Region,
		engine.WithLogger(log.WithField("component", "engine")),
		engine.WithTelemetry(tel),
	)
	if err != nil {
		closeDev()
		tel.Shutdown(context.Background())
		return nil, err
	}

	s := &session{
		cfg:      c,
		dev:      dev,
		closeDev: closeDev,
		eng:      eng,
		tel:      tel,
		logger:   logger,
	}

	if c.RemoteAddr == "" {
		m, err := config.LoadManifest(c.ImagePath)
		if errors.Is(err, config.ErrManifestNotFound) {
			m, err = config.NewManifest(c.ImagePath, c)
		}
		if err != nil {
			s.close()
			return nil, err
		}
		s.manifest = m
	}

	return s, nil
}

// openDevice returns the flash device for c and a function that releases it.
func openDevice(c *config.Config, tel telemetry.Telemetry) (flash.Device, func() error, error) {
	if c.RemoteAddr != "" {
		opts := []remote.ClientOption{
			remote.WithClientTelemetry(tel),
			remote.WithClientLogger(log.WithField("component", "remote-client")),
		}
		if tlsConfig, err := clientTLSConfig(); err != nil {
			return nil, nil, err
		} else if tlsConfig != nil {
			opts = append(opts, remote.WithClientTLS(tlsConfig))
		}

		client, err := remote.Dial(c.RemoteAddr, opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := client.CheckRegion(c.Region); err != nil {
			client.Close()
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	fd, err := flash.OpenFile(c.ImagePath, c.DeviceSize, c.Region.PageSize, c.Region.SectorSize,
		flash.WithSyncWrites(c.SyncWrites))
	if err != nil {
		return nil, nil, err
	}
	return fd, fd.Close, nil
}

func clientTLSConfig() (*tls.Config, error) {
	if !viper.GetBool("tls") {
		return nil, nil
	}
	return remote.LoadClientTLSConfig(
		viper.GetString("tls-cert"),
		viper.GetString("tls-key"),
		viper.GetString("tls-ca"),
		viper.GetBool("tls-skip-verify"),
	)
}

// load loads the store and warns when the image no longer matches the last
// save recorded in the manifest.
func (s *session) load() (engine.LoadResult, error) {
	result, err := s.eng.Load()
	if err != nil {
		return result, err
	}
	s.dirty = false

	if s.manifest != nil && result == engine.LoadFound {
		if want, ok := s.manifest.LastDigest(); ok {
			got, err := flash.Digest(s.dev, s.cfg.Region)
			if err == nil && got != want {
				s.logger.Warn("Image digest %016x differs from last recorded save %016x", got, want)
			}
		}
	}
	return result, nil
}

// mustLoad loads the store and treats LoadError as fatal for the command.
func (s *session) mustLoad() error {
	if _, err := s.load(); err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	return nil
}

func (s *session) put(key string, value []byte) error {
	if err := s.eng.Put(key, value); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

func (s *session) delete(key string) error {
	if err := s.eng.Delete(key); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// save persists the store and records the save in the manifest.
func (s *session) save() error {
	if err := s.eng.Save(); err != nil {
		return err
	}
	s.dirty = false
	return s.recordSave()
}

func (s *session) recordSave() error {
	if s.manifest == nil {
		return nil
	}
	digest, err := flash.Digest(s.dev, s.cfg.Region)
	if err != nil {
		return fmt.Errorf("failed to digest image: %w", err)
	}
	s.manifest.RecordSave(digest, s.eng.Len(), s.eng.Size())
	return s.manifest.Save()
}

// close saves pending changes and releases everything the session holds.
func (s *session) close() error {
	var errs []error
	if s.dirty && s.eng.IsLoaded() {
		errs = append(errs, s.save())
	}

	if s.closeDev != nil {
		errs = append(errs, s.closeDev())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, s.tel.Shutdown(ctx))

	return errors.Join(errs...)
}
