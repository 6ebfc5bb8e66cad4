package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/mitigation"
	"github.com/agent-7132/hybridsched/internal/retry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HYBRIDSCHED_"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	DBPath     string `env:"DB_PATH"     envDefault:"hybridsched.db"`
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info"`

	Scheduler  Scheduler
	Capability Capability
}

// Scheduler holds the scheduling knobs.
type Scheduler struct {
	ErrorThreshold         float64       `env:"ERROR_THRESHOLD"           envDefault:"0.15"`
	FineErrorThreshold     float64       `env:"FINE_ERROR_THRESHOLD"      envDefault:"0.01"`
	SingleOpErrorThreshold float64       `env:"SINGLE_OP_ERROR_THRESHOLD" envDefault:"0.05"`
	RetryMaxAttempts       int           `env:"RETRY_MAX_ATTEMPTS"        envDefault:"5"`
	RetryBaseDelay         time.Duration `env:"RETRY_BASE_DELAY"          envDefault:"100ms"`
	AggregationTimeout     time.Duration `env:"AGGREGATION_TIMEOUT"       envDefault:"30s"`
	WindowCapacity         int           `env:"WINDOW_CAPACITY"           envDefault:"10"`
	// WorkerPoolSize of zero means one worker per probed core.
	WorkerPoolSize     int           `env:"WORKER_POOL_SIZE"     envDefault:"0"`
	MaxRestarts        int           `env:"MAX_RESTARTS"         envDefault:"3"`
	HardwareShots      int           `env:"HARDWARE_SHOTS"       envDefault:"1024"`
	BreakerFailures    uint32        `env:"BREAKER_FAILURES"     envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
	// CalibrationPath names a JSON file of per-operation error rates. Without
	// it mitigation never rewrites circuits.
	CalibrationPath string `env:"CALIBRATION_PATH"`
}

// Capability holds the capability facts the host probe cannot detect.
type Capability struct {
	CoProcessorMemoryMB int `env:"COPROCESSOR_MEMORY_MB" envDefault:"0"`
	// MatrixAccelerator overrides the probe when set to a boolean.
	MatrixAccelerator string `env:"MATRIX_ACCELERATOR"`
	HardwareAvailable bool   `env:"HARDWARE_AVAILABLE" envDefault:"false"`
	HardwareQubits    int    `env:"HARDWARE_QUBITS"    envDefault:"0"`
	HardwareMaxDepth  int    `env:"HARDWARE_MAX_DEPTH" envDefault:"0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	s := c.Scheduler
	var errs []error
	for name, v := range map[string]float64{
		"ERROR_THRESHOLD":           s.ErrorThreshold,
		"FINE_ERROR_THRESHOLD":      s.FineErrorThreshold,
		"SINGLE_OP_ERROR_THRESHOLD": s.SingleOpErrorThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, v))
		}
	}
	if s.WindowCapacity <= 0 {
		errs = append(errs, fmt.Errorf("WINDOW_CAPACITY must be > 0, got %d", s.WindowCapacity))
	}
	if s.RetryMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 0, got %d", s.RetryMaxAttempts))
	}
	if s.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("RETRY_BASE_DELAY must be >= 0, got %v", s.RetryBaseDelay))
	}
	if s.AggregationTimeout < 0 {
		errs = append(errs, fmt.Errorf("AGGREGATION_TIMEOUT must be >= 0, got %v", s.AggregationTimeout))
	}
	if s.WorkerPoolSize < 0 || s.MaxRestarts < 0 || s.HardwareShots < 0 {
		errs = append(errs, errors.New("WORKER_POOL_SIZE, MAX_RESTARTS and HARDWARE_SHOTS must be >= 0"))
	}
	if _, err := c.Capability.matrixOverride(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Level returns the configured log level; unknown names fall back to info.
func (c Config) Level() logrus.Level {
	return parseLogLevel(c.LogLevel)
}

// RetryPolicy returns the retry schedule shared by the dispatcher and the
// mailbox.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Scheduler.RetryMaxAttempts, BaseDelay: c.Scheduler.RetryBaseDelay}
}

// Mitigation returns the mitigation thresholds.
func (c Config) Mitigation() mitigation.Config {
	return mitigation.Config{
		Threshold:         c.Scheduler.ErrorThreshold,
		FineThreshold:     c.Scheduler.FineErrorThreshold,
		SingleOpThreshold: c.Scheduler.SingleOpErrorThreshold,
	}
}

// Breaker returns the per-backend circuit breaker settings.
func (c Config) Breaker() backend.BreakerSettings {
	return backend.BreakerSettings{
		ConsecutiveFailures: c.Scheduler.BreakerFailures,
		OpenTimeout:         c.Scheduler.BreakerOpenTimeout,
	}
}

// Overrides returns the capability facts for the host prober.
func (c Config) Overrides() capability.Overrides {
	matrix, _ := c.Capability.matrixOverride()
	return capability.Overrides{
		MatrixAccelerator:   matrix,
		CoProcessorMemoryMB: c.Capability.CoProcessorMemoryMB,
		HardwareAvailable:   c.Capability.HardwareAvailable,
		HardwareQubits:      c.Capability.HardwareQubits,
		HardwareMaxDepth:    c.Capability.HardwareMaxDepth,
	}
}

func (c Capability) matrixOverride() (*bool, error) {
	if c.MatrixAccelerator == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(c.MatrixAccelerator)
	if err != nil {
		return nil, fmt.Errorf("MATRIX_ACCELERATOR must be a boolean, got %q", c.MatrixAccelerator)
	}
	return &v, nil
}

func parseLogLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger creates a structured JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(level)
	return l
}
