package backend

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/capability"
)

// Paths holds one ExecutionPath per backend identifier. Every field is required.
type Paths struct {
	Matrix      ExecutionPath
	CoProcessor ExecutionPath
	WideVector  ExecutionPath
	Hardware    ExecutionPath
	Fallback    ExecutionPath
}

// StandardPaths builds every path against a single submitter.
func StandardPaths(caps capability.Snapshot, sub Submitter, hw HardwareConfig) Paths {
	return Paths{
		Matrix:      NewMatrixPath(caps, sub),
		CoProcessor: NewCoProcessorPath(caps, sub),
		WideVector:  NewWideVectorPath(caps, sub),
		Hardware:    NewHardwarePath(caps, sub, hw),
		Fallback:    NewFallbackPath(sub),
	}
}

// GuardedPaths is StandardPaths with every backend behind its own circuit
// breaker, so a failing backend trips without affecting the others.
func GuardedPaths(caps capability.Snapshot, sub Submitter, hw HardwareConfig, s BreakerSettings, logger logrus.FieldLogger) Paths {
	guard := func(id BackendID) Submitter {
		return NewBreakerSubmitter(id, sub, s, logger)
	}
	return Paths{
		Matrix:      NewMatrixPath(caps, guard(MatrixAccelerator)),
		CoProcessor: NewCoProcessorPath(caps, guard(CoProcessor)),
		WideVector:  NewWideVectorPath(caps, guard(WideVector)),
		Hardware:    NewHardwarePath(caps, guard(PhysicalHardware), hw),
		Fallback:    NewFallbackPath(guard(ClassicalFallback)),
	}
}

// PathInfo pairs a backend identifier with its path capabilities.
type PathInfo struct {
	Backend      BackendID        `json:"backend"`
	Capabilities PathCapabilities `json:"capabilities"`
}

// Registry maps each backend identifier to its execution path. It is
// immutable after construction.
type Registry struct {
	paths Paths
}

// NewRegistry validates that every backend has a path whose capabilities
// name that backend.
func NewRegistry(p Paths) (*Registry, error) {
	r := &Registry{paths: p}
	for _, id := range Priority {
		path := r.lookup(id)
		if path == nil {
			return nil, fmt.Errorf("no execution path registered for %q", id)
		}
		if got := path.Capabilities().Backend; got != id {
			return nil, fmt.Errorf("path registered for %q reports backend %q", id, got)
		}
	}
	return r, nil
}

// Path returns the execution path for id.
func (r *Registry) Path(id BackendID) (ExecutionPath, error) {
	p := r.lookup(id)
	if p == nil {
		return nil, fmt.Errorf("unknown backend %q", id)
	}
	return p, nil
}

func (r *Registry) lookup(id BackendID) ExecutionPath {
	switch id {
	case MatrixAccelerator:
		return r.paths.Matrix
	case CoProcessor:
		return r.paths.CoProcessor
	case WideVector:
		return r.paths.WideVector
	case PhysicalHardware:
		return r.paths.Hardware
	case ClassicalFallback:
		return r.paths.Fallback
	}
	return nil
}

// List returns every registered path in priority order.
func (r *Registry) List() []PathInfo {
	infos := make([]PathInfo, 0, len(Priority))
	for _, id := range Priority {
		infos = append(infos, PathInfo{Backend: id, Capabilities: r.lookup(id).Capabilities()})
	}
	return infos
}
