package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/flash/remote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the image file as a flash device over gRPC",
	Long: `Serve exposes the whole image file as a flash device. Other flashkv
processes reach it with --remote and keep their store in any region of it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RemoteAddr != "" {
			return fmt.Errorf("serve works on a local image, not on --remote")
		}
		return runServer(cmd.Context())
	},
}

// runServer serves the configured image until ctx is done or a signal arrives.
func runServer(ctx context.Context) error {
	logger := log.WithField("component", "serve")

	tel, err := startTelemetry(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(shutdownCtx)
	}()

	dev, err := flash.OpenFile(cfg.ImagePath, cfg.DeviceSize, cfg.Region.PageSize, cfg.Region.SectorSize,
		flash.WithSyncWrites(cfg.SyncWrites))
	if err != nil {
		return err
	}
	defer dev.Close()

	opts := []remote.ServerOption{
		remote.WithServerLogger(log.WithField("component", "remote-server")),
		remote.WithServerTelemetry(tel),
	}
	if certFile := viper.GetString("tls-cert"); certFile != "" {
		tlsConfig, err := remote.LoadServerTLSConfig(certFile, viper.GetString("tls-key"), viper.GetString("tls-ca"))
		if err != nil {
			return err
		}
		opts = append(opts, remote.WithServerTLS(tlsConfig))
	}

	srv := remote.NewServer(dev, remote.Geometry{
		Size:       dev.Size(),
		PageSize:   cfg.Region.PageSize,
		SectorSize: cfg.Region.SectorSize,
	}, opts...)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down device server")
		srv.Stop()
	}()

	logger.Info("Serving %s (%d bytes)", cfg.ImagePath, dev.Size())
	return srv.Serve(listener)
}
