// Package cli is the command-line surface of the gateway. The serve command
// wires the full service graph (store, redis, delivery engine, event
// pipeline, source adapters and the background workers) and runs it until a
// shutdown signal; replay and secret are small operational helpers.
package cli

import (
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"switchyard.dev/common"
	"switchyard.dev/config"
)

// cfgFile is the --config flag value; empty means the loader searches the
// standard locations (./config.yaml, ./configs, ~/.switchyard, /etc/switchyard).
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "multi-tenant event-to-integration gateway",
	Long: `Switchyard routes tenant events from polling, streaming and push
sources through per-tenant integration configs: transform, authenticate,
sign, rate-limit and deliver, with durable retries, circuit breaking,
scheduled deliveries and a dead-letter queue.

Configuration comes from a YAML file, a .env file and SWITCHYARD_* environment
variables, in ascending precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default searches the standard locations)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree; main exits non-zero on error.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the --config path, loads and validates the gateway
// configuration and applies the logging settings.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err == nil {
			path = expanded
		}
	}
	cfg, err := config.LoadConfig("SWITCHYARD", path)
	if err != nil {
		return nil, err
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
