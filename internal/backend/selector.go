package backend

import (
	"math/bits"
	"slices"

	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/model"
)

// Size limits used by the selection rules.
const (
	MatrixMaxSize      = 2048
	CoProcessorMinSize = 1024
	WideVectorMaxSize  = 2048
)

type rule struct {
	backend  BackendID
	eligible func(p model.ProblemDescriptor, caps capability.Snapshot) bool
}

// rules is evaluated top to bottom; the first match wins.
var rules = []rule{
	{MatrixAccelerator, func(p model.ProblemDescriptor, caps capability.Snapshot) bool {
		return p.Precision == model.PrecisionBF16 && caps.MatrixAccelerator && p.Size <= MatrixMaxSize
	}},
	{CoProcessor, func(p model.ProblemDescriptor, caps capability.Snapshot) bool {
		return p.Size > CoProcessorMinSize && caps.CoProcessorMemoryMB > p.MemoryRequiredMB && p.Precision.Valid()
	}},
	{WideVector, func(p model.ProblemDescriptor, caps capability.Snapshot) bool {
		return p.Precision == model.PrecisionFP32 && caps.Has(capability.TierWideVector) && p.Size <= WideVectorMaxSize
	}},
	{PhysicalHardware, func(p model.ProblemDescriptor, caps capability.Snapshot) bool {
		return caps.HardwareBackendAvailable &&
			p.Depth <= caps.HardwareMaxDepth &&
			QubitDemand(p) <= caps.HardwareQubitCapacity
	}},
}

// QubitDemand returns ceil(log2(size)), the register width needed to index
// the problem.
func QubitDemand(p model.ProblemDescriptor) int {
	if p.Size <= 1 {
		return 0
	}
	return bits.Len(uint(p.Size - 1))
}

// Select returns the backend for the problem. It never fails: when no rule
// matches the result is ClassicalFallback.
func Select(p model.ProblemDescriptor, caps capability.Snapshot) BackendID {
	return SelectExcluding(p, caps)
}

// SelectExcluding is Select with some backends ruled out. ClassicalFallback
// cannot be excluded.
func SelectExcluding(p model.ProblemDescriptor, caps capability.Snapshot, excluded ...BackendID) BackendID {
	for _, r := range rules {
		if slices.Contains(excluded, r.backend) {
			continue
		}
		if r.eligible(p, caps) {
			return r.backend
		}
	}
	return ClassicalFallback
}

// Eligible lists every backend whose rule matches, in priority order.
// ClassicalFallback is always last.
func Eligible(p model.ProblemDescriptor, caps capability.Snapshot) []BackendID {
	var out []BackendID
	for _, r := range rules {
		if r.eligible(p, caps) {
			out = append(out, r.backend)
		}
	}
	return append(out, ClassicalFallback)
}
