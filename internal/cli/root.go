// Package cli wires the lordfarm commands.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/config"
	"github.com/DoyleJ11/lordfarm/internal/logging"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lordfarm",
		Short:         "Lord farming session server",
		Long:          "lordfarm runs farming sessions: role queues, team assignment, character conflicts and voice discipline, driven by events over HTTP and websockets.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newPresetsCmd(),
	)
	return rootCmd
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
