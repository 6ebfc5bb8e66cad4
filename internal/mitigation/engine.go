package mitigation

import (
	"sync"

	"github.com/agent-7132/hybridsched/internal/model"
)

// Default thresholds.
const (
	DefaultThreshold         = 0.15
	DefaultFineThreshold     = 0.01
	DefaultSingleOpThreshold = 0.05
)

// Config holds the mitigation thresholds.
type Config struct {
	// Threshold gates mitigation on the monitor's current error rate.
	Threshold float64
	// FineThreshold selects two-qubit operations that receive an XY4 echo.
	FineThreshold float64
	// SingleOpThreshold selects one-qubit operations that receive an X-X pair.
	SingleOpThreshold float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		FineThreshold:     DefaultFineThreshold,
		SingleOpThreshold: DefaultSingleOpThreshold,
	}
}

// RateSource reports the current error-rate estimate.
type RateSource interface {
	Current() float64
}

// Engine rewrites circuits bound for physical hardware. It never modifies
// its input and never fails.
type Engine struct {
	cfg    Config
	source RateSource

	mu  sync.RWMutex
	cal Calibration
}

// NewEngine creates a mitigation engine. A nil or empty calibration makes
// Mitigate a pass-through until SetCalibration supplies one.
func NewEngine(cfg Config, source RateSource, cal Calibration) *Engine {
	return &Engine{cfg: cfg, source: source, cal: cal}
}

// SetCalibration replaces the calibration table.
func (e *Engine) SetCalibration(cal Calibration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cal = cal
}

// Calibrated reports whether calibration data is available.
func (e *Engine) Calibrated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cal) > 0
}

// Mitigate returns c unchanged when the current error rate is at or below the
// threshold or no calibration is loaded. Otherwise it returns a rewritten
// copy marked Mitigated, with decoupling sequences inserted after each
// operation whose calibrated error is too high.
func (e *Engine) Mitigate(c model.Circuit) model.Circuit {
	if e.source == nil || e.source.Current() <= e.cfg.Threshold {
		return c
	}
	e.mu.RLock()
	cal := e.cal
	e.mu.RUnlock()
	if len(cal) == 0 {
		return c
	}

	out := model.Circuit{
		Qubits:    c.Qubits,
		Ops:       make([]model.Op, 0, len(c.Ops)),
		Mitigated: true,
	}
	inserted := 0
	for _, op := range c.Ops {
		out.Ops = append(out.Ops, model.Op{Name: op.Name, Qubits: append([]int(nil), op.Qubits...)})

		rate, ok := cal.OpError(op)
		if !ok {
			continue
		}
		var seq []model.Op
		switch {
		case op.Arity() == 2 && rate > e.cfg.FineThreshold:
			for _, q := range op.Qubits {
				seq = append(seq, xy4(q)...)
			}
		case op.Arity() == 1 && rate > e.cfg.SingleOpThreshold:
			seq = xx(op.Qubits[0])
		}
		out.Ops = append(out.Ops, seq...)
		inserted += len(seq)
	}

	mitigationsTotal.Inc()
	insertedOpsTotal.Add(float64(inserted))
	return out
}

// xy4 is the X-Y-X-Y dynamical decoupling echo on one qubit.
func xy4(q int) []model.Op {
	return []model.Op{
		{Name: "x", Qubits: []int{q}},
		{Name: "y", Qubits: []int{q}},
		{Name: "x", Qubits: []int{q}},
		{Name: "y", Qubits: []int{q}},
	}
}

func xx(q int) []model.Op {
	return []model.Op{
		{Name: "x", Qubits: []int{q}},
		{Name: "x", Qubits: []int{q}},
	}
}
