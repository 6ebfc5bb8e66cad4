package capability

import (
	"context"
	"runtime"

	"golang.org/x/sys/cpu"
)

// Overrides supply the capabilities the CPU flags cannot reveal. Co-processor
// memory and the physical hardware backend sit behind external drivers, so
// they are configured rather than detected.
type Overrides struct {
	// MatrixAccelerator forces matrix-unit presence when non-nil.
	MatrixAccelerator   *bool
	CoProcessorMemoryMB int
	HardwareAvailable   bool
	HardwareQubits      int
	HardwareMaxDepth    int
	// CoreCount replaces runtime.NumCPU when positive.
	CoreCount int
}

// HostProber builds a Snapshot from CPU feature flags and Overrides.
type HostProber struct {
	Overrides Overrides
}

// Compile-time interface satisfaction check.
var _ Prober = (*HostProber)(nil)

// Probe reads the CPU feature flags of the running process.
func (p *HostProber) Probe(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		VectorTiers:              hostVectorTiers(),
		MatrixAccelerator:        cpu.X86.HasAMXTile && cpu.X86.HasAMXBF16,
		CoProcessorMemoryMB:      p.Overrides.CoProcessorMemoryMB,
		CoreCount:                runtime.NumCPU(),
		HardwareBackendAvailable: p.Overrides.HardwareAvailable,
		HardwareQubitCapacity:    p.Overrides.HardwareQubits,
		HardwareMaxDepth:         p.Overrides.HardwareMaxDepth,
	}
	if p.Overrides.MatrixAccelerator != nil {
		snap.MatrixAccelerator = *p.Overrides.MatrixAccelerator
	}
	if p.Overrides.CoreCount > 0 {
		snap.CoreCount = p.Overrides.CoreCount
	}
	return snap, nil
}

func hostVectorTiers() []string {
	var tiers []string
	if cpu.X86.HasSSE42 {
		tiers = append(tiers, TierSSE42)
	}
	if cpu.X86.HasAVX2 {
		tiers = append(tiers, TierAVX2)
	}
	if cpu.X86.HasAVX512F {
		tiers = append(tiers, TierAVX512)
	}
	if cpu.ARM64.HasASIMD {
		tiers = append(tiers, TierNEON)
	}
	if cpu.ARM64.HasSVE {
		tiers = append(tiers, TierSVE)
	}
	// 512-bit lanes on either architecture count as wide vectors.
	if cpu.X86.HasAVX512F || cpu.ARM64.HasSVE {
		tiers = append(tiers, TierWideVector)
	}
	return tiers
}
