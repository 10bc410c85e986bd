package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/collector"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/config"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/monitor"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/source"
	"github.com/spf13/cobra"
)

const defaultModelQueueSize = 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:          "perfmond",
		Short:        "Application performance monitoring daemon",
		Long:         "perfmond collects system and application metrics on a fixed interval, persists them to local SQLite time-series storage and aggregates them into minute, five-minute and hourly rollups.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				os.Setenv(config.EnvConfigPath, configPath)
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			switch {
			case debug:
				cfg.LogLevel = "debug"
			case verbose:
				cfg.LogLevel = "info"
			}
			return run(cfg)
		},
	}

	def := config.Default()
	cmd.Flags().StringVar(&configPath, "config", "", "path to the TOML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log at info level regardless of configuration")
	cmd.Flags().Int("interval", def.CollectionInterval, "seconds between collection cycles")
	cmd.Flags().Int("retention-days", def.RetentionDays, "days to keep stored metrics")
	cmd.Flags().String("storage-path", def.StoragePath, "directory for the metrics database")
	cmd.Flags().String("log-level", def.LogLevel, "log level (debug, info, warning, error)")

	return cmd
}

func run(cfg config.Config) error {
	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		return err
	}
	logger.Debug().Msg("Config loaded")

	col := collector.New(cfg.MaxMetricsHistory, time.Duration(cfg.CollectionInterval)*time.Second)
	col.Register(source.NewSystemSource(cfg.SourceErrorThreshold))
	col.Register(source.NewApplicationSource(cfg.SourceErrorThreshold))
	col.Register(source.NewModelTimingSource(cfg.SourceErrorThreshold, defaultModelQueueSize))

	mon := monitor.New(cfg, col)
	if !mon.Start() {
		return fmt.Errorf("monitor failed to start: %s", mon.LastError())
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")

	mon.Stop()
	logger.Info().Msg("Exiting...")
	return nil
}
