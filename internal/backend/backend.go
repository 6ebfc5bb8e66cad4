package backend

import (
	"context"

	"github.com/agent-7132/hybridsched/internal/model"
)

// BackendID identifies an execution backend. The set is closed.
type BackendID string

// Backend identifiers, in selection priority order.
const (
	MatrixAccelerator BackendID = "matrix_accelerator"
	CoProcessor       BackendID = "co_processor"
	WideVector        BackendID = "wide_vector"
	PhysicalHardware  BackendID = "physical_hardware"
	ClassicalFallback BackendID = "classical_fallback"
)

// Priority lists every backend from most to least preferred. Ties between
// eligible backends are always broken in this order.
var Priority = []BackendID{
	MatrixAccelerator,
	CoProcessor,
	WideVector,
	PhysicalHardware,
	ClassicalFallback,
}

// ParseBackendID returns the identifier named by s.
func ParseBackendID(s string) (BackendID, bool) {
	for _, id := range Priority {
		if string(id) == s {
			return id, true
		}
	}
	return "", false
}

// Task is one unit of work handed to an ExecutionPath.
type Task struct {
	Problem model.ProblemDescriptor
	Payload model.Payload
}

// ExecutionPath runs tasks on one backend. Implementations must not modify
// the task they are given and must report failures as *model.Failure.
type ExecutionPath interface {
	// Execute runs the task and returns its result.
	// The context carries deadlines and cancellation.
	Execute(ctx context.Context, task Task) (model.Result, error)

	// Capabilities describes the path.
	Capabilities() PathCapabilities
}

// PathCapabilities describes an execution path.
type PathCapabilities struct {
	Backend      BackendID `json:"backend"`
	Compensation string    `json:"compensation"`
	Mitigated    bool      `json:"mitigated"`
}
