package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agent-7132/hybridsched/internal/api"
	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/config"
	"github.com/agent-7132/hybridsched/internal/engine"
	"github.com/agent-7132/hybridsched/internal/mitigation"
	"github.com/agent-7132/hybridsched/internal/shard"
	"github.com/agent-7132/hybridsched/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler HTTP server",
		Long:  `Probe the host once, then serve the scheduler API until SIGINT or SIGTERM. Configuration is read from HYBRIDSCHED_* environment variables.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := config.NewLogger(os.Stdout, cfg.Level())

			prober := &capability.HostProber{Overrides: cfg.Overrides()}
			caps, err := prober.Probe(cmd.Context())
			if err != nil {
				return fmt.Errorf("probe capabilities: %w", err)
			}

			return serve(cfg, caps, &backend.LocalSubmitter{}, logger)
		},
	}
}

// serve wires the scheduler around sub and blocks until the server stops.
func serve(cfg config.Config, caps capability.Snapshot, sub backend.Submitter, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"listen_addr":  cfg.ListenAddr,
		"db_path":      cfg.DBPath,
		"vector_tiers": caps.VectorTiers,
		"cores":        caps.CoreCount,
	}).Info("hybridsched: starting")

	var cal mitigation.Calibration
	if path := cfg.Scheduler.CalibrationPath; path != "" {
		var err error
		if cal, err = mitigation.LoadCalibrationFile(path); err != nil {
			return fmt.Errorf("load calibration: %w", err)
		}
		logger.WithFields(logrus.Fields{"path": path, "entries": len(cal)}).Info("calibration loaded")
	}

	monitor := mitigation.NewMonitor(cfg.Scheduler.WindowCapacity)
	hw := backend.HardwareConfig{
		Mitigator: mitigation.NewEngine(cfg.Mitigation(), monitor, cal),
		Recorder:  monitor,
		Shots:     cfg.Scheduler.HardwareShots,
	}
	reg, err := backend.NewRegistry(backend.GuardedPaths(caps, sub, hw, cfg.Breaker(), logger))
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	dispatcher := backend.NewDispatcher(reg, caps, cfg.RetryPolicy(), logger)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	pool := cfg.Scheduler.WorkerPoolSize
	if pool == 0 {
		pool = caps.CoreCount
	}
	eng := engine.NewEngine(dispatcher, db, monitor, engine.Config{
		Shard: shard.Config{
			WorkerPoolSize: pool,
			MaxRestarts:    cfg.Scheduler.MaxRestarts,
			Retry:          cfg.RetryPolicy(),
		},
		AggregationTimeout: cfg.Scheduler.AggregationTimeout,
	}, logger)
	defer eng.Close()

	srv := api.NewServer(cfg.ListenAddr, db, eng, caps, reg, logger)
	return srv.Run()
}
