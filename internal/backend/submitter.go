package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agent-7132/hybridsched/internal/model"
)

var (
	// ErrCapacity is returned by a Submitter that rejects a request for capacity reasons.
	ErrCapacity = errors.New("backend at capacity")
	// ErrUnavailable is returned by a Submitter whose backend cannot be reached.
	ErrUnavailable = errors.New("backend unavailable")
)

// MetaErrorRate is the diagnostic metadata key carrying the observed
// per-run error rate of the physical hardware backend.
const MetaErrorRate = "error_rate"

// SubmitRequest is the payload sent to an external backend service.
type SubmitRequest struct {
	Backend BackendID
	Rows    [][]float32
	Circuit *model.Circuit
	Shots   int
}

// SubmitResponse carries the backend's tensor or measurement counts plus
// diagnostic metadata.
type SubmitResponse struct {
	Rows     [][]float32
	Counts   map[string]int
	Metadata map[string]float64
}

// Submitter is the boundary to an external backend service. The scheduler
// does not know how the backend computes its answer.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, req SubmitRequest) (SubmitResponse, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	return f(ctx, req)
}

// classify maps a submitter error onto the failure taxonomy.
func classify(id BackendID, err error) *model.Failure {
	var f *model.Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, ErrCapacity):
		return model.NewFailure(model.KindResourceExhausted, string(id), err)
	case errors.Is(err, ErrUnavailable):
		return model.NewFailure(model.KindBackendUnavailable, string(id), err)
	default:
		return model.NewFailure(model.KindComputeError, string(id), err)
	}
}

// LocalSubmitter is an in-process backend. Numeric requests run Kernel
// (identity when nil); circuit requests return every shot in the all-zero
// state and report ErrorRate.
type LocalSubmitter struct {
	// MaxRows rejects larger requests with ErrCapacity when positive.
	MaxRows int
	// Kernel computes the output rows.
	Kernel func(rows [][]float32) ([][]float32, error)
	// ErrorRate is reported as MetaErrorRate for circuit requests.
	ErrorRate float64
}

// Compile-time interface satisfaction check.
var _ Submitter = (*LocalSubmitter)(nil)

// Submit runs the request in process.
func (s *LocalSubmitter) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResponse{}, err
	}
	if s.MaxRows > 0 && len(req.Rows) > s.MaxRows {
		return SubmitResponse{}, fmt.Errorf("%w: %d rows exceeds limit %d", ErrCapacity, len(req.Rows), s.MaxRows)
	}

	if req.Circuit != nil {
		return SubmitResponse{
			Counts: map[string]int{strings.Repeat("0", req.Circuit.Qubits): req.Shots},
			Metadata: map[string]float64{
				MetaErrorRate: s.ErrorRate,
				"ops":         float64(len(req.Circuit.Ops)),
			},
		}, nil
	}

	if s.Kernel == nil {
		return SubmitResponse{Rows: model.Payload{Rows: req.Rows}.Clone().Rows}, nil
	}
	rows, err := s.Kernel(req.Rows)
	if err != nil {
		return SubmitResponse{}, err
	}
	return SubmitResponse{Rows: rows}, nil
}
