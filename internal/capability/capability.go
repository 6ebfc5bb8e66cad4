// Package capability describes what acceleration the host offers and how it
// is discovered. A Snapshot is captured once at process start and passed by
// value to every consumer; re-probing requires a restart.
package capability

import (
	"context"
	"slices"
)

// Vector tier names reported in Snapshot.VectorTiers.
const (
	TierSSE42      = "sse4.2"
	TierAVX2       = "avx2"
	TierAVX512     = "avx512"
	TierNEON       = "neon"
	TierSVE        = "sve"
	TierWideVector = "wide-vector"
)

// Snapshot is an immutable view of host capabilities.
type Snapshot struct {
	VectorTiers              []string `json:"vector_tiers"`
	MatrixAccelerator        bool     `json:"matrix_accelerator"`
	CoProcessorMemoryMB      int      `json:"co_processor_memory_mb"`
	CoreCount                int      `json:"core_count"`
	HardwareBackendAvailable bool     `json:"hardware_backend_available"`
	HardwareQubitCapacity    int      `json:"hardware_qubit_capacity"`
	HardwareMaxDepth         int      `json:"hardware_max_depth"`
}

// Has reports whether the snapshot lists the given vector tier.
func (s Snapshot) Has(tier string) bool {
	return slices.Contains(s.VectorTiers, tier)
}

// Clone returns a copy that shares no storage with s.
func (s Snapshot) Clone() Snapshot {
	s.VectorTiers = slices.Clone(s.VectorTiers)
	return s
}

// Prober discovers host capabilities. It is called once at startup.
type Prober interface {
	Probe(ctx context.Context) (Snapshot, error)
}

// Static is a Prober that returns a fixed snapshot.
type Static Snapshot

// Probe returns a copy of the fixed snapshot.
func (s Static) Probe(_ context.Context) (Snapshot, error) {
	return Snapshot(s).Clone(), nil
}
