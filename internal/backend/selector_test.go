package backend_test

import (
	"slices"
	"testing"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/model"
)

// allCaps enables every backend.
func allCaps() capability.Snapshot {
	return capability.Snapshot{
		VectorTiers:              []string{capability.TierAVX2, capability.TierAVX512, capability.TierWideVector},
		MatrixAccelerator:        true,
		CoProcessorMemoryMB:      16384,
		CoreCount:                8,
		HardwareBackendAvailable: true,
		HardwareQubitCapacity:    32,
		HardwareMaxDepth:         1000,
	}
}

func TestSelectEndToEndScenarios(t *testing.T) {
	problem := model.ProblemDescriptor{Size: 2048, Precision: model.PrecisionBF16, Depth: 8, MemoryRequiredMB: 4096}

	withMatrix := capability.Snapshot{MatrixAccelerator: true, CoProcessorMemoryMB: 8192}
	if got := backend.Select(problem, withMatrix); got != backend.MatrixAccelerator {
		t.Errorf("with matrix accelerator: Select = %s, want %s", got, backend.MatrixAccelerator)
	}

	noMatrix := capability.Snapshot{MatrixAccelerator: false, CoProcessorMemoryMB: 8192}
	if got := backend.Select(problem, noMatrix); got != backend.CoProcessor {
		t.Errorf("without matrix accelerator: Select = %s, want %s", got, backend.CoProcessor)
	}
}

func TestSelectRules(t *testing.T) {
	tests := []struct {
		name    string
		problem model.ProblemDescriptor
		caps    capability.Snapshot
		want    backend.BackendID
	}{
		{
			name:    "bf16 too large for matrix unit goes to co-processor",
			problem: model.ProblemDescriptor{Size: 4096, Precision: model.PrecisionBF16, MemoryRequiredMB: 10},
			caps:    capability.Snapshot{MatrixAccelerator: true, CoProcessorMemoryMB: 100},
			want:    backend.CoProcessor,
		},
		{
			name:    "co-processor needs strictly more memory than required",
			problem: model.ProblemDescriptor{Size: 4096, Precision: model.PrecisionFP16, MemoryRequiredMB: 100},
			caps:    capability.Snapshot{CoProcessorMemoryMB: 100},
			want:    backend.ClassicalFallback,
		},
		{
			name:    "co-processor needs size above 1024",
			problem: model.ProblemDescriptor{Size: 1024, Precision: model.PrecisionFP16},
			caps:    capability.Snapshot{CoProcessorMemoryMB: 100},
			want:    backend.ClassicalFallback,
		},
		{
			name:    "fp32 with wide vectors",
			problem: model.ProblemDescriptor{Size: 512, Precision: model.PrecisionFP32},
			caps:    capability.Snapshot{VectorTiers: []string{capability.TierWideVector}},
			want:    backend.WideVector,
		},
		{
			name:    "fp16 never uses wide vectors",
			problem: model.ProblemDescriptor{Size: 512, Precision: model.PrecisionFP16},
			caps:    capability.Snapshot{VectorTiers: []string{capability.TierWideVector}},
			want:    backend.ClassicalFallback,
		},
		{
			name:    "hardware within depth and qubit limits",
			problem: model.ProblemDescriptor{Size: 1000, Precision: model.PrecisionFP16, Depth: 50},
			caps:    capability.Snapshot{HardwareBackendAvailable: true, HardwareQubitCapacity: 10, HardwareMaxDepth: 100},
			want:    backend.PhysicalHardware,
		},
		{
			name:    "hardware qubit demand exceeds capacity",
			problem: model.ProblemDescriptor{Size: 1025, Precision: model.PrecisionFP16},
			caps:    capability.Snapshot{HardwareBackendAvailable: true, HardwareQubitCapacity: 10, HardwareMaxDepth: 100},
			want:    backend.ClassicalFallback,
		},
		{
			name:    "hardware too deep",
			problem: model.ProblemDescriptor{Size: 8, Precision: model.PrecisionFP16, Depth: 101},
			caps:    capability.Snapshot{HardwareBackendAvailable: true, HardwareQubitCapacity: 10, HardwareMaxDepth: 100},
			want:    backend.ClassicalFallback,
		},
		{
			name:    "nothing available",
			problem: model.ProblemDescriptor{Size: 8, Precision: model.PrecisionFP32},
			caps:    capability.Snapshot{},
			want:    backend.ClassicalFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backend.Select(tt.problem, tt.caps); got != tt.want {
				t.Errorf("Select = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectPicksEarliestEligible(t *testing.T) {
	caps := allCaps()
	for _, size := range []int{1, 2, 100, 512, 1024, 1025, 2048, 4096, 1 << 20} {
		for _, prec := range model.Precisions {
			for _, depth := range []int{0, 10, 5000} {
				p := model.ProblemDescriptor{Size: size, Precision: prec, Depth: depth, MemoryRequiredMB: size / 2}
				eligible := backend.Eligible(p, caps)
				if got := backend.Select(p, caps); got != eligible[0] {
					t.Errorf("Select(%+v) = %s, want first eligible %s (of %v)", p, got, eligible[0], eligible)
				}
				for i := 1; i < len(eligible); i++ {
					if slices.Index(backend.Priority, eligible[i-1]) >= slices.Index(backend.Priority, eligible[i]) {
						t.Errorf("Eligible(%+v) = %v, not in priority order", p, eligible)
					}
				}
			}
		}
	}
}

func TestSelectExcluding(t *testing.T) {
	p := model.ProblemDescriptor{Size: 2048, Precision: model.PrecisionFP32, MemoryRequiredMB: 1}
	caps := allCaps()

	if got := backend.SelectExcluding(p, caps); got != backend.CoProcessor {
		t.Fatalf("no exclusions: got %s, want %s", got, backend.CoProcessor)
	}
	if got := backend.SelectExcluding(p, caps, backend.CoProcessor); got != backend.WideVector {
		t.Errorf("excluding co-processor: got %s, want %s", got, backend.WideVector)
	}
	if got := backend.SelectExcluding(p, caps, backend.CoProcessor, backend.WideVector); got != backend.PhysicalHardware {
		t.Errorf("excluding co-processor and wide vector: got %s, want %s", got, backend.PhysicalHardware)
	}
	got := backend.SelectExcluding(p, caps, backend.CoProcessor, backend.WideVector, backend.PhysicalHardware, backend.ClassicalFallback)
	if got != backend.ClassicalFallback {
		t.Errorf("fallback cannot be excluded: got %s", got)
	}
}

func TestEligibleAlwaysEndsWithFallback(t *testing.T) {
	got := backend.Eligible(model.ProblemDescriptor{Size: 1, Precision: model.PrecisionFP16}, capability.Snapshot{})
	if !slices.Equal(got, []backend.BackendID{backend.ClassicalFallback}) {
		t.Errorf("Eligible = %v, want [classical_fallback]", got)
	}
}

func TestQubitDemand(t *testing.T) {
	tests := []struct{ size, want int }{
		{1, 0}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {1024, 10}, {1025, 11},
	}
	for _, tt := range tests {
		if got := backend.QubitDemand(model.ProblemDescriptor{Size: tt.size}); got != tt.want {
			t.Errorf("QubitDemand(size=%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestParseBackendID(t *testing.T) {
	for _, id := range backend.Priority {
		got, ok := backend.ParseBackendID(string(id))
		if !ok || got != id {
			t.Errorf("ParseBackendID(%q) = %q, %v", id, got, ok)
		}
	}
	if _, ok := backend.ParseBackendID("gpu"); ok {
		t.Error("ParseBackendID(gpu) ok = true, want false")
	}
}
