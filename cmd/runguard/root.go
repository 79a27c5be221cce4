package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/runguard/config"
	"github.com/yairfalse/runguard/telemetry"
)

var (
	version    = "0.1.0"
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "runguard",
		Short: "Runtime guard decision layer",
		Long: `Runguard - runtime guard decision layer

Runguard sits behind the upstream admission chain and decides, per request,
whether the configuration it is about to act on is fresh, mapped, and the
same one it booted with. Tenants run it off, in shadow, or enforcing.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Runguard {{.Version}} - runtime guard decision layer
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to runguard.yaml (environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides log.level")
}

// loadConfig loads the config file and applies the log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	telemetry.SetLevel(level)
	return cfg, nil
}
