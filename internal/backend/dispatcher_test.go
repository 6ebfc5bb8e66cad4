package backend_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/retry"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// scriptedPath fails with the queued errors before succeeding.
type scriptedPath struct {
	id    backend.BackendID
	errs  []error
	calls int
}

func (p *scriptedPath) Execute(_ context.Context, task backend.Task) (model.Result, error) {
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return model.Result{}, err
	}
	// Scribble on the task to prove the caller's copy is isolated.
	for _, row := range task.Payload.Rows {
		for i := range row {
			row[i] = -1
		}
	}
	return model.Result{Backend: string(p.id)}, nil
}

func (p *scriptedPath) Capabilities() backend.PathCapabilities {
	return backend.PathCapabilities{Backend: p.id}
}

type scriptedPaths map[backend.BackendID]*scriptedPath

func newScriptedPaths() scriptedPaths {
	s := make(scriptedPaths)
	for _, id := range backend.Priority {
		s[id] = &scriptedPath{id: id}
	}
	return s
}

func (s scriptedPaths) registry(t *testing.T) *backend.Registry {
	t.Helper()
	reg, err := backend.NewRegistry(backend.Paths{
		Matrix:      s[backend.MatrixAccelerator],
		CoProcessor: s[backend.CoProcessor],
		WideVector:  s[backend.WideVector],
		Hardware:    s[backend.PhysicalHardware],
		Fallback:    s[backend.ClassicalFallback],
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func failure(kind model.FailureKind) error {
	return model.NewFailure(kind, "", errors.New(string(kind)))
}

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

// fp32Task is eligible for co-processor, wide vector, hardware and fallback under allCaps.
func fp32Task() backend.Task {
	return backend.Task{
		Problem: model.ProblemDescriptor{Size: 2048, Precision: model.PrecisionFP32, MemoryRequiredMB: 1},
		Payload: model.Payload{Rows: [][]float32{{1, 2}}},
	}
}

func TestDispatchSucceedsOnSelectedBackend(t *testing.T) {
	paths := newScriptedPaths()
	d := backend.NewDispatcher(paths.registry(t), allCaps(), fastRetry, discardLogger())

	task := fp32Task()
	out, err := d.Dispatch(context.Background(), task)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Backend != backend.CoProcessor || out.Attempts != 1 {
		t.Errorf("out = %+v, want co_processor after 1 attempt", out)
	}
	if task.Payload.Rows[0][0] != 1 {
		t.Error("path mutated the caller's payload")
	}
}

func TestDispatchReselectsOnUnavailable(t *testing.T) {
	paths := newScriptedPaths()
	paths[backend.CoProcessor].errs = []error{failure(model.KindBackendUnavailable)}
	paths[backend.WideVector].errs = []error{failure(model.KindBackendUnavailable)}
	d := backend.NewDispatcher(paths.registry(t), allCaps(), fastRetry, discardLogger())

	out, err := d.Dispatch(context.Background(), fp32Task())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Backend != backend.PhysicalHardware {
		t.Errorf("Backend = %s, want physical_hardware", out.Backend)
	}
	if len(out.Excluded) != 2 || out.Excluded[0] != backend.CoProcessor || out.Excluded[1] != backend.WideVector {
		t.Errorf("Excluded = %v", out.Excluded)
	}
	if paths[backend.CoProcessor].calls != 1 {
		t.Errorf("unavailable backend retried: %d calls", paths[backend.CoProcessor].calls)
	}
}

func TestDispatchRetriesResourceExhausted(t *testing.T) {
	paths := newScriptedPaths()
	paths[backend.CoProcessor].errs = []error{
		failure(model.KindResourceExhausted),
		failure(model.KindResourceExhausted),
	}
	d := backend.NewDispatcher(paths.registry(t), allCaps(), fastRetry, discardLogger())

	out, err := d.Dispatch(context.Background(), fp32Task())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Backend != backend.CoProcessor || out.Attempts != 3 {
		t.Errorf("out = %+v, want co_processor after 3 attempts", out)
	}
}

func TestDispatchGivesUpAfterMaxRetries(t *testing.T) {
	paths := newScriptedPaths()
	for range 10 {
		paths[backend.CoProcessor].errs = append(paths[backend.CoProcessor].errs, failure(model.KindResourceExhausted))
	}
	d := backend.NewDispatcher(paths.registry(t), allCaps(), fastRetry, discardLogger())

	out, err := d.Dispatch(context.Background(), fp32Task())
	if got := model.KindOf(err); got != model.KindResourceExhausted {
		t.Fatalf("KindOf = %q, want %q", got, model.KindResourceExhausted)
	}
	if want := 1 + fastRetry.MaxAttempts; out.Attempts != want {
		t.Errorf("Attempts = %d, want %d", out.Attempts, want)
	}
	if paths[backend.WideVector].calls != 0 {
		t.Error("exhausted backend triggered re-selection")
	}
}

func TestDispatchComputeErrorNotRetried(t *testing.T) {
	paths := newScriptedPaths()
	paths[backend.CoProcessor].errs = []error{errors.New("bad kernel")}
	d := backend.NewDispatcher(paths.registry(t), allCaps(), fastRetry, discardLogger())

	out, err := d.Dispatch(context.Background(), fp32Task())
	if got := model.KindOf(err); got != model.KindComputeError {
		t.Fatalf("KindOf = %q, want %q", got, model.KindComputeError)
	}
	var f *model.Failure
	if !errors.As(err, &f) || f.Backend != string(backend.CoProcessor) {
		t.Errorf("failure = %v, want attributed to co_processor", err)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestDispatchCancelledDuringBackoff(t *testing.T) {
	paths := newScriptedPaths()
	for range 10 {
		paths[backend.CoProcessor].errs = append(paths[backend.CoProcessor].errs, failure(model.KindResourceExhausted))
	}
	slow := retry.Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	d := backend.NewDispatcher(paths.registry(t), allCaps(), slow, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.Dispatch(ctx, fp32Task())
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not abort the backoff wait")
	}
	if got := model.KindOf(err); got != model.KindResourceExhausted {
		t.Errorf("KindOf = %q, want %q", got, model.KindResourceExhausted)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap context.DeadlineExceeded", err)
	}
}

func TestDispatchRejectsInvalidProblem(t *testing.T) {
	d := backend.NewDispatcher(newScriptedPaths().registry(t), allCaps(), fastRetry, discardLogger())
	_, err := d.Dispatch(context.Background(), backend.Task{Problem: model.ProblemDescriptor{Size: 0, Precision: model.PrecisionFP32}})
	if !errors.Is(err, model.ErrInvalidProblem) {
		t.Errorf("error = %v, want ErrInvalidProblem", err)
	}
}

func TestDispatchFallbackUnavailableSurfaces(t *testing.T) {
	paths := newScriptedPaths()
	paths[backend.ClassicalFallback].errs = []error{failure(model.KindBackendUnavailable)}
	d := backend.NewDispatcher(paths.registry(t), capability.Snapshot{}, fastRetry, discardLogger())

	_, err := d.Dispatch(context.Background(), fp32Task())
	if got := model.KindOf(err); got != model.KindBackendUnavailable {
		t.Errorf("KindOf = %q, want %q", got, model.KindBackendUnavailable)
	}
}

// offlineSubmitter reports the listed backends unreachable and runs the rest locally.
func offlineSubmitter(down ...backend.BackendID) backend.Submitter {
	local := &backend.LocalSubmitter{}
	return backend.SubmitterFunc(func(ctx context.Context, req backend.SubmitRequest) (backend.SubmitResponse, error) {
		if slices.Contains(down, req.Backend) {
			return backend.SubmitResponse{}, backend.ErrUnavailable
		}
		return local.Submit(ctx, req)
	})
}

func TestDispatchRowTaskSkipsHardware(t *testing.T) {
	caps := allCaps()
	sub := offlineSubmitter(backend.CoProcessor, backend.WideVector)
	reg, err := backend.NewRegistry(backend.StandardPaths(caps, sub, backend.HardwareConfig{}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	d := backend.NewDispatcher(reg, caps, fastRetry, discardLogger())

	out, err := d.Dispatch(context.Background(), fp32Task())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Backend != backend.ClassicalFallback {
		t.Errorf("Backend = %s, want classical_fallback", out.Backend)
	}
	want := []backend.BackendID{backend.CoProcessor, backend.WideVector, backend.PhysicalHardware}
	if !slices.Equal(out.Excluded, want) {
		t.Errorf("Excluded = %v, want %v", out.Excluded, want)
	}
	if len(out.Result.Rows) != 1 || out.Result.Rows[0][1] != 2 {
		t.Errorf("Rows = %v, want [[1 2]]", out.Result.Rows)
	}
}

func TestDispatchCircuitTaskSkipsNumericPaths(t *testing.T) {
	task := backend.Task{
		Problem: model.ProblemDescriptor{Size: 2048, Precision: model.PrecisionFP32, MemoryRequiredMB: 1},
		Payload: model.Payload{
			Circuit: &model.Circuit{Qubits: 2, Ops: []model.Op{{Name: "h", Qubits: []int{0}}}},
			Shots:   100,
		},
	}
	tests := []struct {
		name     string
		caps     capability.Snapshot
		want     backend.BackendID
		excluded []backend.BackendID
	}{
		{
			name:     "hardware present",
			caps:     allCaps(),
			want:     backend.PhysicalHardware,
			excluded: []backend.BackendID{backend.CoProcessor, backend.WideVector},
		},
		{
			name:     "no hardware",
			caps:     capability.Snapshot{CoProcessorMemoryMB: 8192},
			want:     backend.ClassicalFallback,
			excluded: []backend.BackendID{backend.CoProcessor},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := backend.NewRegistry(backend.StandardPaths(tt.caps, &backend.LocalSubmitter{}, backend.HardwareConfig{}))
			if err != nil {
				t.Fatalf("NewRegistry: %v", err)
			}
			d := backend.NewDispatcher(reg, tt.caps, fastRetry, discardLogger())

			out, err := d.Dispatch(context.Background(), task)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if out.Backend != tt.want {
				t.Errorf("Backend = %s, want %s", out.Backend, tt.want)
			}
			if !slices.Equal(out.Excluded, tt.excluded) {
				t.Errorf("Excluded = %v, want %v", out.Excluded, tt.excluded)
			}
			if out.Result.Counts["00"] != 100 {
				t.Errorf("Counts = %v, want 00=100", out.Result.Counts)
			}
		})
	}
}
