// testserver starts a hybridsched API server with simulated backends for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/agent-7132/hybridsched/internal/api"
	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/config"
	"github.com/agent-7132/hybridsched/internal/engine"
	"github.com/agent-7132/hybridsched/internal/mitigation"
	"github.com/agent-7132/hybridsched/internal/shard"
	"github.com/agent-7132/hybridsched/internal/store"
)

// PoisonValue in any input row makes the simulated backend fail the request
// with a compute error.
const PoisonValue = -999

// simulatedCaps is a host with every backend except the matrix unit.
var simulatedCaps = capability.Snapshot{
	VectorTiers:              []string{capability.TierAVX2, capability.TierAVX512, capability.TierWideVector},
	CoProcessorMemoryMB:      2048,
	CoreCount:                4,
	HardwareBackendAvailable: true,
	HardwareQubitCapacity:    6,
	HardwareMaxDepth:         20,
}

// simulatedBackend doubles every input value after a fixed delay. Circuit
// requests report error rates from rates in turn.
type simulatedBackend struct {
	delay time.Duration
	rates []float64
	calls atomic.Int64
	local backend.LocalSubmitter
}

func (s *simulatedBackend) Submit(ctx context.Context, req backend.SubmitRequest) (backend.SubmitResponse, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return backend.SubmitResponse{}, ctx.Err()
	}

	n := s.calls.Add(1)
	if req.Circuit != nil {
		sim := backend.LocalSubmitter{ErrorRate: s.rates[int(n-1)%len(s.rates)]}
		return sim.Submit(ctx, req)
	}
	return s.local.Submit(ctx, req)
}

func double(rows [][]float32) ([][]float32, error) {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		out[i] = make([]float32, len(row))
		for j, v := range row {
			if v == PoisonValue {
				return nil, fmt.Errorf("poisoned input at [%d][%d]", i, j)
			}
			if math.IsNaN(float64(v)) {
				return nil, errors.New("nan input")
			}
			out[i][j] = 2 * v
		}
	}
	return out, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	sim := &simulatedBackend{
		delay: 20 * time.Millisecond,
		rates: []float64{0.02, 0.02, 0.5},
		local: backend.LocalSubmitter{Kernel: double},
	}

	cal := mitigation.Calibration{}
	cal.Set("h", []int{0}, 0.08)
	cal.Set("cx", []int{0, 1}, 0.05)

	monitor := mitigation.NewMonitor(cfg.Scheduler.WindowCapacity)
	hw := backend.HardwareConfig{
		Mitigator: mitigation.NewEngine(cfg.Mitigation(), monitor, cal),
		Recorder:  monitor,
		Shots:     cfg.Scheduler.HardwareShots,
	}
	reg, err := backend.NewRegistry(backend.GuardedPaths(simulatedCaps, sim, hw, cfg.Breaker(), logger))
	if err != nil {
		log.Fatalf("build registry: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	eng := engine.NewEngine(backend.NewDispatcher(reg, simulatedCaps, cfg.RetryPolicy(), logger), db, monitor, engine.Config{
		Shard: shard.Config{
			WorkerPoolSize: simulatedCaps.CoreCount,
			MaxRestarts:    cfg.Scheduler.MaxRestarts,
			Retry:          cfg.RetryPolicy(),
		},
		AggregationTimeout: cfg.Scheduler.AggregationTimeout,
	}, logger)
	defer eng.Close()

	srv := api.NewServer(cfg.ListenAddr, db, eng, simulatedCaps, reg, logger)

	logger.WithField("addr", cfg.ListenAddr).Info("testserver: starting")
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
