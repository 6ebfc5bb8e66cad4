package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a task or session did not produce a result.
type FailureKind string

// Failure kinds.
const (
	KindBackendUnavailable FailureKind = "backend_unavailable"
	KindResourceExhausted  FailureKind = "resource_exhausted"
	KindComputeError       FailureKind = "compute_error"
	KindIntegrityFailure   FailureKind = "integrity_failure"
	KindSessionTimeout     FailureKind = "session_timeout"
	KindAborted            FailureKind = "aborted"
	// KindInvalidRequest rejects a problem or shard count before any work starts.
	KindInvalidRequest FailureKind = "invalid_request"
)

// Failure is the typed error surfaced by the scheduler. Backend and ShardID
// are informational; ShardID is -1 when the failure is not tied to a shard.
type Failure struct {
	Kind    FailureKind
	Backend string
	ShardID int
	Err     error
}

// NewFailure builds a failure that is not tied to a shard.
func NewFailure(kind FailureKind, backend string, err error) *Failure {
	return &Failure{Kind: kind, Backend: backend, ShardID: -1, Err: err}
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Backend != "" {
		msg += " on " + f.Backend
	}
	if f.ShardID >= 0 {
		msg += fmt.Sprintf(" (shard %d)", f.ShardID)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// WithShard returns a copy of f attributed to the given shard.
func (f *Failure) WithShard(shardID int) *Failure {
	cp := *f
	cp.ShardID = shardID
	return &cp
}

// KindOf returns the kind of the first *Failure in err's chain. Errors
// that carry no Failure are reported as compute errors, since they come from
// a backend that returned but signaled a problem.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindComputeError
}

// AsFailure converts err into a *Failure, wrapping it as a compute error if it
// carries none.
func AsFailure(err error, backend string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewFailure(KindComputeError, backend, err)
}
