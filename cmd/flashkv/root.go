package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.1.0"

	// wrap is the number of characters to wrap flag help text at
	wrap = 50
)

var (
	// cfg is resolved once per invocation by setupConfig
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "flashkv",
		Short: "persistent key-value store on raw flash",
		Long: fmt.Sprintf(`FlashKV (v%s)

A small key-value store kept in memory and persisted as a single image
in a flash region. The region can be a local image file or a device
served by another flashkv process.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setupConfig,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of FlashKV",
		// Skip config resolution for version
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flashkv v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", wrapString("Path to a JSON config file. Without it the manifest next to the image is used, then the defaults"))
	flags.String("image", "flashkv.img", wrapString("Image file that backs the flash device"))
	flags.Uint32("device-size", config.DefaultDeviceSize, wrapString("Size of the image file in bytes"))
	flags.Uint32("region-base", 0, wrapString("Start of the store region, sector aligned"))
	flags.Uint32("region-size", 0, wrapString("Size of the store region; 0 means the rest of the device"))
	flags.Uint32("page-size", config.DefaultPageSize, wrapString("Flash write granularity in bytes"))
	flags.Uint32("sector-size", config.DefaultSectorSize, wrapString("Flash erase granularity in bytes"))
	flags.Bool("sync", true, wrapString("Fsync the image file after every write and erase"))
	flags.String("remote", "", wrapString("Address of a flashkv device server to use instead of the image file"))
	flags.String("listen", config.DefaultListenAddr, wrapString("Address the serve command listens on"))
	flags.String("log-level", "info", wrapString("One of debug, info, warn, error"))

	flags.String("tls-cert", "", wrapString("TLS certificate for serve, or client certificate with --remote"))
	flags.String("tls-key", "", wrapString("TLS key matching --tls-cert"))
	flags.String("tls-ca", "", wrapString("CA used to verify the peer"))
	flags.Bool("tls", false, wrapString("Use TLS when connecting to --remote"))
	flags.Bool("tls-skip-verify", false, wrapString("Do not verify the server certificate"))

	flags.Bool("telemetry", false, wrapString("Enable OpenTelemetry metrics and traces"))
	flags.StringSlice("telemetry-exporters", []string{"stdout"}, wrapString("Telemetry exporters: prometheus, otlp, stdout"))
	flags.Int("telemetry-prometheus-port", 9464, wrapString("Port of the Prometheus scrape endpoint"))
	flags.String("telemetry-otlp-endpoint", "localhost:4317", wrapString("OTLP collector host:port"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(putCmd, getCmd, deleteCmd, listCmd, infoCmd)
	rootCmd.AddCommand(exportCmd, importCmd)
	rootCmd.AddCommand(shellCmd, serveCmd)
}

// initEnv loads .env files and makes FLASHKV_* variables visible to viper
func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("flashkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setupConfig binds flags to viper and resolves the configuration
func setupConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	c, err := resolveConfig(viper.GetViper())
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	cfg = c
	return nil
}

// resolveConfig builds the configuration from, in increasing priority: the
// defaults, the config file or image manifest, FLASHKV_* variables and flags
func resolveConfig(v *viper.Viper) (*config.Config, error) {
	image := v.GetString("image")

	var c *config.Config
	var err error
	if path := v.GetString("config"); path != "" {
		c, err = config.LoadConfig(path)
	} else {
		c, err = config.LoadConfigFromManifest(image)
		if errors.Is(err, config.ErrManifestNotFound) {
			c, err = config.NewDefaultConfig(image), nil
		}
	}
	if err != nil {
		return nil, err
	}

	c.Telemetry.LoadFromEnv()

	c.Update(func(c *config.Config) {
		if v.IsSet("image") || c.ImagePath == "" {
			c.ImagePath = image
		}
		if v.IsSet("device-size") {
			c.DeviceSize = v.GetUint32("device-size")
		}
		if v.IsSet("region-base") {
			c.Region.Base = v.GetUint32("region-base")
		}
		if v.IsSet("page-size") {
			c.Region.PageSize = v.GetUint32("page-size")
		}
		if v.IsSet("sector-size") {
			c.Region.SectorSize = v.GetUint32("sector-size")
		}
		if v.IsSet("region-size") && v.GetUint32("region-size") != 0 {
			c.Region.Size = v.GetUint32("region-size")
		} else if v.IsSet("device-size") || v.IsSet("region-base") {
			c.Region.Size = c.DeviceSize - c.Region.Base
		}
		if v.IsSet("sync") {
			c.SyncWrites = v.GetBool("sync")
		}
		if v.IsSet("remote") {
			c.RemoteAddr = v.GetString("remote")
		}
		if v.IsSet("listen") {
			c.ListenAddr = v.GetString("listen")
		}
		if v.IsSet("log-level") {
			c.LogLevel = v.GetString("log-level")
		}
		if v.IsSet("telemetry") {
			c.Telemetry.Enabled = v.GetBool("telemetry")
		}
		if v.IsSet("telemetry-exporters") {
			c.Telemetry.Exporters = v.GetStringSlice("telemetry-exporters")
		}
		if v.IsSet("telemetry-prometheus-port") {
			c.Telemetry.PrometheusPort = v.GetInt("telemetry-prometheus-port")
		}
		if v.IsSet("telemetry-otlp-endpoint") {
			c.Telemetry.OTLPEndpoint = v.GetString("telemetry-otlp-endpoint")
		}
		c.Telemetry.ServiceVersion = Version
	})

	if c.DeviceSize < c.Region.Base {
		return nil, fmt.Errorf("%w: region base %d is past the %d byte device",
			config.ErrInvalidConfig, c.Region.Base, c.DeviceSize)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// wrapString wraps help text at wrap characters
func wrapString(text string) string {
	var lines []string
	var current strings.Builder

	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+1+len(word) > wrap {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}

	return strings.Join(lines, "\n")
}
