package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "swarmbot",
		Short:         "Multi-agent task swarm",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $SWARMBOT_CONFIG or config/swarmbot.yaml)")

	loadConfig := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadFile(configPath)
		}
		return config.Load()
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "swarmbot %s\n", version)
			},
		},
		&cobra.Command{
			Use:   "gateway",
			Short: "Start the swarm gateway service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				setupLogging(cfg.Log)
				if err := runGateway(cmd.Context(), cfg, loadConfig); err != nil {
					slog.Error("gateway failed", "error", err)
					return err
				}
				return nil
			},
		},
		newSubmitCmd(),
		newStatusCmd(),
		newExportCmd(loadConfig),
		newInspectCmd(),
	)
	return root
}

// setupLogging installs the default slog handler described by cfg.
func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
