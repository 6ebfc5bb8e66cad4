package backend

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/x448/float16"

	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/model"
)

const (
	// VectorLanes is the float32 lane count of a 512-bit vector register.
	VectorLanes = 16
	// DefaultShots is the hardware shot count when neither the task nor the
	// path configuration sets one.
	DefaultShots = 1024
)

var (
	errNoCircuit = errors.New("hardware path requires a circuit payload")
	errNoRows    = errors.New("numeric path cannot run a circuit payload")
)

// Mitigator rewrites a circuit before it is sent to physical hardware.
type Mitigator interface {
	Mitigate(c model.Circuit) model.Circuit
}

// ErrorRecorder receives the error rate observed by each hardware run.
type ErrorRecorder interface {
	Record(rate float64)
}

func unavailable(id BackendID, reason string) error {
	return model.NewFailure(model.KindBackendUnavailable, string(id), errors.New(reason))
}

func submitterOrUnavailable(id BackendID, sub Submitter) error {
	if sub == nil {
		return unavailable(id, "no submitter configured")
	}
	return nil
}

// numericPayload rejects circuit payloads on the tensor paths so the
// dispatcher re-selects a path that can run them.
func numericPayload(id BackendID, p model.Payload) error {
	if p.Rows == nil && p.Circuit != nil {
		return model.NewFailure(model.KindBackendUnavailable, string(id), errNoRows)
	}
	return nil
}

// matrixPath rounds inputs to bfloat16 before handing them to the matrix unit.
type matrixPath struct {
	caps capability.Snapshot
	sub  Submitter
}

// NewMatrixPath returns the MatrixAccelerator path.
func NewMatrixPath(caps capability.Snapshot, sub Submitter) ExecutionPath {
	return &matrixPath{caps: caps, sub: sub}
}

func (p *matrixPath) Capabilities() PathCapabilities {
	return PathCapabilities{Backend: MatrixAccelerator, Compensation: "inputs rounded to bfloat16"}
}

func (p *matrixPath) Execute(ctx context.Context, task Task) (model.Result, error) {
	if err := submitterOrUnavailable(MatrixAccelerator, p.sub); err != nil {
		return model.Result{}, err
	}
	if err := numericPayload(MatrixAccelerator, task.Payload); err != nil {
		return model.Result{}, err
	}
	if !p.caps.MatrixAccelerator {
		return model.Result{}, unavailable(MatrixAccelerator, "matrix accelerator not present")
	}
	resp, err := p.sub.Submit(ctx, SubmitRequest{
		Backend: MatrixAccelerator,
		Rows:    mapRows(task.Payload.Rows, RoundBF16),
	})
	if err != nil {
		return model.Result{}, classify(MatrixAccelerator, err)
	}
	return numericResult(MatrixAccelerator, resp), nil
}

// coProcessorPath runs in half precision and rejects non-finite outputs.
type coProcessorPath struct {
	caps capability.Snapshot
	sub  Submitter
}

// NewCoProcessorPath returns the CoProcessor path.
func NewCoProcessorPath(caps capability.Snapshot, sub Submitter) ExecutionPath {
	return &coProcessorPath{caps: caps, sub: sub}
}

func (p *coProcessorPath) Capabilities() PathCapabilities {
	return PathCapabilities{Backend: CoProcessor, Compensation: "inputs rounded to fp16, non-finite outputs rejected"}
}

func (p *coProcessorPath) Execute(ctx context.Context, task Task) (model.Result, error) {
	if err := submitterOrUnavailable(CoProcessor, p.sub); err != nil {
		return model.Result{}, err
	}
	if err := numericPayload(CoProcessor, task.Payload); err != nil {
		return model.Result{}, err
	}
	if p.caps.CoProcessorMemoryMB <= 0 {
		return model.Result{}, unavailable(CoProcessor, "co-processor not present")
	}
	if task.Problem.MemoryRequiredMB >= p.caps.CoProcessorMemoryMB {
		return model.Result{}, model.NewFailure(model.KindResourceExhausted, string(CoProcessor),
			fmt.Errorf("%w: needs %d MB, device has %d MB", ErrCapacity, task.Problem.MemoryRequiredMB, p.caps.CoProcessorMemoryMB))
	}
	resp, err := p.sub.Submit(ctx, SubmitRequest{
		Backend: CoProcessor,
		Rows:    mapRows(task.Payload.Rows, RoundFP16),
	})
	if err != nil {
		return model.Result{}, classify(CoProcessor, err)
	}
	for i, row := range resp.Rows {
		for j, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return model.Result{}, model.NewFailure(model.KindComputeError, string(CoProcessor),
					fmt.Errorf("non-finite output at [%d][%d]", i, j))
			}
		}
	}
	return numericResult(CoProcessor, resp), nil
}

// wideVectorPath pads rows to whole vector registers and strips the padding
// from the output.
type wideVectorPath struct {
	caps capability.Snapshot
	sub  Submitter
}

// NewWideVectorPath returns the WideVector path.
func NewWideVectorPath(caps capability.Snapshot, sub Submitter) ExecutionPath {
	return &wideVectorPath{caps: caps, sub: sub}
}

func (p *wideVectorPath) Capabilities() PathCapabilities {
	return PathCapabilities{Backend: WideVector, Compensation: fmt.Sprintf("rows padded to %d lanes", VectorLanes)}
}

func (p *wideVectorPath) Execute(ctx context.Context, task Task) (model.Result, error) {
	if err := submitterOrUnavailable(WideVector, p.sub); err != nil {
		return model.Result{}, err
	}
	if err := numericPayload(WideVector, task.Payload); err != nil {
		return model.Result{}, err
	}
	if !p.caps.Has(capability.TierWideVector) {
		return model.Result{}, unavailable(WideVector, "wide vector unit not present")
	}
	in := task.Payload.Rows
	resp, err := p.sub.Submit(ctx, SubmitRequest{Backend: WideVector, Rows: padRows(in, VectorLanes)})
	if err != nil {
		return model.Result{}, classify(WideVector, err)
	}
	if len(resp.Rows) != len(in) {
		return model.Result{}, model.NewFailure(model.KindComputeError, string(WideVector),
			fmt.Errorf("backend returned %d rows, want %d", len(resp.Rows), len(in)))
	}
	// The response rows belong to the submitter; strip padding into fresh rows.
	out := make([][]float32, len(resp.Rows))
	for i, row := range resp.Rows {
		if len(row) < len(in[i]) {
			return model.Result{}, model.NewFailure(model.KindComputeError, string(WideVector),
				fmt.Errorf("row %d has %d lanes, want at least %d", i, len(row), len(in[i])))
		}
		out[i] = make([]float32, len(in[i]))
		copy(out[i], row)
	}
	res := numericResult(WideVector, resp)
	res.Rows = out
	return res, nil
}

// HardwareConfig configures the PhysicalHardware path.
type HardwareConfig struct {
	Mitigator Mitigator
	Recorder  ErrorRecorder
	// Shots is used when the task does not set one; DefaultShots when zero.
	Shots int
}

// hardwarePath is the only path that mitigates its input and feeds the
// error monitor.
type hardwarePath struct {
	caps capability.Snapshot
	sub  Submitter
	cfg  HardwareConfig
}

// NewHardwarePath returns the PhysicalHardware path.
func NewHardwarePath(caps capability.Snapshot, sub Submitter, cfg HardwareConfig) ExecutionPath {
	if cfg.Shots <= 0 {
		cfg.Shots = DefaultShots
	}
	return &hardwarePath{caps: caps, sub: sub, cfg: cfg}
}

func (p *hardwarePath) Capabilities() PathCapabilities {
	return PathCapabilities{Backend: PhysicalHardware, Compensation: "error mitigation above threshold", Mitigated: true}
}

func (p *hardwarePath) Execute(ctx context.Context, task Task) (model.Result, error) {
	if err := submitterOrUnavailable(PhysicalHardware, p.sub); err != nil {
		return model.Result{}, err
	}
	if !p.caps.HardwareBackendAvailable {
		return model.Result{}, unavailable(PhysicalHardware, "hardware backend not available")
	}
	if task.Payload.Circuit == nil {
		return model.Result{}, model.NewFailure(model.KindBackendUnavailable, string(PhysicalHardware), errNoCircuit)
	}
	if task.Payload.Circuit.Qubits > p.caps.HardwareQubitCapacity {
		return model.Result{}, model.NewFailure(model.KindResourceExhausted, string(PhysicalHardware),
			fmt.Errorf("%w: circuit needs %d qubits, device has %d", ErrCapacity, task.Payload.Circuit.Qubits, p.caps.HardwareQubitCapacity))
	}

	circuit := task.Payload.Circuit.Clone()
	if p.cfg.Mitigator != nil {
		circuit = p.cfg.Mitigator.Mitigate(circuit)
	}
	shots := task.Payload.Shots
	if shots <= 0 {
		shots = p.cfg.Shots
	}

	resp, err := p.sub.Submit(ctx, SubmitRequest{Backend: PhysicalHardware, Circuit: &circuit, Shots: shots})
	if err != nil {
		return model.Result{}, classify(PhysicalHardware, err)
	}
	if rate, ok := resp.Metadata[MetaErrorRate]; ok && p.cfg.Recorder != nil {
		p.cfg.Recorder.Record(rate)
	}

	meta := maps.Clone(resp.Metadata)
	if meta == nil {
		meta = make(map[string]float64)
	}
	meta["shots"] = float64(shots)
	if circuit.Mitigated {
		meta["mitigated"] = 1
	}
	return model.Result{Backend: string(PhysicalHardware), Counts: resp.Counts, Metadata: meta}, nil
}

// fallbackPath passes work straight through to the plain backend.
type fallbackPath struct {
	sub Submitter
}

// NewFallbackPath returns the ClassicalFallback path.
func NewFallbackPath(sub Submitter) ExecutionPath {
	return &fallbackPath{sub: sub}
}

func (p *fallbackPath) Capabilities() PathCapabilities {
	return PathCapabilities{Backend: ClassicalFallback, Compensation: "none"}
}

func (p *fallbackPath) Execute(ctx context.Context, task Task) (model.Result, error) {
	if err := submitterOrUnavailable(ClassicalFallback, p.sub); err != nil {
		return model.Result{}, err
	}
	payload := task.Payload.Clone()
	resp, err := p.sub.Submit(ctx, SubmitRequest{
		Backend: ClassicalFallback,
		Rows:    payload.Rows,
		Circuit: payload.Circuit,
		Shots:   payload.Shots,
	})
	if err != nil {
		return model.Result{}, classify(ClassicalFallback, err)
	}
	res := numericResult(ClassicalFallback, resp)
	res.Counts = resp.Counts
	return res, nil
}

func numericResult(id BackendID, resp SubmitResponse) model.Result {
	return model.Result{Backend: string(id), Rows: resp.Rows, Metadata: resp.Metadata}
}

// RoundBF16 rounds f to the nearest bfloat16 value, ties to even.
func RoundBF16(f float32) float32 {
	if math.IsNaN(float64(f)) {
		return f
	}
	b := math.Float32bits(f)
	b += 0x7FFF + (b>>16)&1
	return math.Float32frombits(b &^ 0xFFFF)
}

// RoundFP16 rounds f to the nearest IEEE half-precision value.
func RoundFP16(f float32) float32 {
	return float16.Fromfloat32(f).Float32()
}

// mapRows returns a transformed copy of rows.
func mapRows(rows [][]float32, fn func(float32) float32) [][]float32 {
	if rows == nil {
		return nil
	}
	out := make([][]float32, len(rows))
	for i, row := range rows {
		out[i] = make([]float32, len(row))
		for j, v := range row {
			out[i][j] = fn(v)
		}
	}
	return out
}

// padRows returns a copy of rows with each row zero-padded to a multiple of lanes.
func padRows(rows [][]float32, lanes int) [][]float32 {
	if rows == nil {
		return nil
	}
	out := make([][]float32, len(rows))
	for i, row := range rows {
		n := (len(row) + lanes - 1) / lanes * lanes
		out[i] = make([]float32, n)
		copy(out[i], row)
	}
	return out
}
