package model

import (
	"errors"
	"fmt"
	"strings"
)

// Precision is the numeric precision a problem is declared with.
type Precision string

// Precision constants.
const (
	PrecisionFP16 Precision = "fp16"
	PrecisionFP32 Precision = "fp32"
	PrecisionBF16 Precision = "bfloat16"
)

// Precisions lists every supported precision.
var Precisions = []Precision{PrecisionFP16, PrecisionFP32, PrecisionBF16}

// ErrInvalidProblem is returned when a problem descriptor fails validation.
var ErrInvalidProblem = errors.New("invalid problem descriptor")

// Valid reports whether p is one of the supported precisions.
func (p Precision) Valid() bool {
	switch p {
	case PrecisionFP16, PrecisionFP32, PrecisionBF16:
		return true
	}
	return false
}

// ParsePrecision parses a precision name. Matching is case-insensitive and
// accepts "bf16" as an alias for bfloat16.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fp16":
		return PrecisionFP16, nil
	case "fp32":
		return PrecisionFP32, nil
	case "bfloat16", "bf16":
		return PrecisionBF16, nil
	}
	return "", fmt.Errorf("%w: unknown precision %q", ErrInvalidProblem, s)
}

// ProblemDescriptor describes one unit of work. It is a value type: every
// consumer receives its own copy, so no backend can change what the caller
// submitted.
type ProblemDescriptor struct {
	Size             int       `json:"size"`
	Precision        Precision `json:"precision"`
	Depth            int       `json:"depth"`
	MemoryRequiredMB int       `json:"memory_required_mb"`

	// ShardID is meaningful only when Sharded is set. It is assigned by the
	// coordinator at split time.
	ShardID int  `json:"shard_id,omitempty"`
	Sharded bool `json:"sharded,omitempty"`
}

// NewProblem builds a validated, unsharded descriptor.
func NewProblem(size int, precision Precision, depth, memoryRequiredMB int) (ProblemDescriptor, error) {
	p := ProblemDescriptor{
		Size:             size,
		Precision:        precision,
		Depth:            depth,
		MemoryRequiredMB: memoryRequiredMB,
	}
	if err := p.Validate(); err != nil {
		return ProblemDescriptor{}, err
	}
	return p, nil
}

// Validate checks the descriptor's field ranges.
func (p ProblemDescriptor) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("%w: size must be > 0, got %d", ErrInvalidProblem, p.Size)
	}
	if !p.Precision.Valid() {
		return fmt.Errorf("%w: unknown precision %q", ErrInvalidProblem, p.Precision)
	}
	if p.Depth < 0 {
		return fmt.Errorf("%w: depth must be >= 0, got %d", ErrInvalidProblem, p.Depth)
	}
	if p.MemoryRequiredMB < 0 {
		return fmt.Errorf("%w: memory_required_mb must be >= 0, got %d", ErrInvalidProblem, p.MemoryRequiredMB)
	}
	if p.Sharded && p.ShardID < 0 {
		return fmt.Errorf("%w: shard_id must be >= 0, got %d", ErrInvalidProblem, p.ShardID)
	}
	return nil
}

// ForShard derives the descriptor of one contiguous partition holding rows
// of a problem whose payload has totalRows rows. Size and memory scale with
// the partition's share of the primary axis (rounded up, never below 1 for
// size); precision and depth carry over.
func (p ProblemDescriptor) ForShard(shardID, rows, totalRows int) ProblemDescriptor {
	shard := p
	shard.ShardID = shardID
	shard.Sharded = true
	if totalRows > 0 {
		shard.Size = max(ceilDiv(p.Size*rows, totalRows), 1)
		shard.MemoryRequiredMB = ceilDiv(p.MemoryRequiredMB*rows, totalRows)
	}
	return shard
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
