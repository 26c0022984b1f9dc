// Swap-station core.
//
// This is the kiosk-side entry point for attendant-operated battery swap
// stations. It speaks the back office's correlated MQTT protocol and binds
// battery packs over Bluetooth LE to read their remaining energy.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/config"
	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable consulted when --config is not given.
const configEnv = "SWAPSTATION_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "swapstation",
		Short: "Battery swap-station kiosk core",
		Long: `swapstation drives an attendant kiosk at a battery swap station.

It identifies customers and validates payments through correlated MQTT
calls to the back office, and binds battery packs over Bluetooth LE to
read their remaining energy.

The configuration file is taken from --config, then $SWAPSTATION_CONFIG,
then configs/config.yaml.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newBindCmd(opts),
		newIdentifyCmd(opts),
		newValidatePaymentCmd(opts),
		newSwapCmd(opts),
		newValidateConfigCmd(opts),
	)
	return root
}

// resolveConfigPath applies flag, then environment, then default.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// load reads the configuration and builds the logger from it. One-shot
// commands pass logOut so log lines stay off the command's result output;
// a nil logOut uses logging.output.
func (o *rootOptions) load(logOut io.Writer) (*config.Config, *logging.Logger, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	var log *logging.Logger
	if logOut != nil {
		log = logging.NewWithWriter(logOut, cfg.Logging, version, cfg.Station.ID)
	} else {
		log = logging.New(cfg.Logging, version, cfg.Station.ID)
	}
	log.Info("configuration loaded", "path", path)
	return cfg, log, nil
}
