package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/capability"
	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/retry"
)

// DispatchResult is the outcome of a successful or failed dispatch.
type DispatchResult struct {
	Result  model.Result
	Backend BackendID
	// Attempts counts path executions across every backend tried.
	Attempts int
	// Excluded lists backends abandoned after reporting BackendUnavailable.
	Excluded []BackendID
}

// Dispatcher selects a backend for each task and applies the failure policy:
// BackendUnavailable re-selects without the failed backend, ResourceExhausted
// is retried on the same backend with exponential backoff, and every other
// failure is returned immediately.
type Dispatcher struct {
	registry *Registry
	caps     capability.Snapshot
	policy   retry.Policy
	logger   logrus.FieldLogger
}

// NewDispatcher creates a dispatcher over the given registry and snapshot.
func NewDispatcher(reg *Registry, caps capability.Snapshot, policy retry.Policy, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		caps:     caps,
		policy:   policy,
		logger:   logger,
	}
}

// Capabilities returns the snapshot the dispatcher selects against.
func (d *Dispatcher) Capabilities() capability.Snapshot {
	return d.caps.Clone()
}

// Registry returns the dispatcher's path registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs the task to completion or to a typed failure. Invalid
// problems are rejected with an error wrapping model.ErrInvalidProblem;
// every other error is a *model.Failure.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (DispatchResult, error) {
	if err := task.Problem.Validate(); err != nil {
		return DispatchResult{}, err
	}

	var out DispatchResult
	for {
		id := SelectExcluding(task.Problem, d.caps, out.Excluded...)
		selectionsTotal.WithLabelValues(string(id)).Inc()
		out.Backend = id

		path, err := d.registry.Path(id)
		if err != nil {
			return out, model.NewFailure(model.KindBackendUnavailable, string(id), err)
		}

		res, attempts, err := d.run(ctx, id, path, task)
		out.Attempts += attempts
		if err == nil {
			out.Result = res
			return out, nil
		}

		f := model.AsFailure(err, string(id))
		if f.Kind == model.KindBackendUnavailable && id != ClassicalFallback {
			d.logger.WithFields(logrus.Fields{
				"backend": id,
				"error":   f.Err,
			}).Warn("backend unavailable, re-selecting")
			out.Excluded = append(out.Excluded, id)
			continue
		}
		return out, f
	}
}

// run executes task on one path, retrying only ResourceExhausted failures.
func (d *Dispatcher) run(ctx context.Context, id BackendID, path ExecutionPath, task Task) (model.Result, int, error) {
	var (
		attempts int
		last     *model.Failure
	)

	op := func() (model.Result, error) {
		attempts++
		start := time.Now()
		// Each attempt gets its own copy so a misbehaving path cannot leak
		// changes into the next attempt or back to the caller.
		res, err := path.Execute(ctx, Task{Problem: task.Problem, Payload: task.Payload.Clone()})
		pathDuration.WithLabelValues(string(id)).Observe(time.Since(start).Seconds())
		if err != nil {
			last = model.AsFailure(err, string(id))
			pathExecutionsTotal.WithLabelValues(string(id), string(last.Kind)).Inc()
			if last.Kind != model.KindResourceExhausted {
				return res, backoff.Permanent(last)
			}
			return res, last
		}
		pathExecutionsTotal.WithLabelValues(string(id), outcomeOK).Inc()
		return res, nil
	}

	notify := func(err error, next time.Duration) {
		dispatchRetriesTotal.WithLabelValues(string(id)).Inc()
		d.logger.WithFields(logrus.Fields{
			"backend": id,
			"attempt": attempts,
			"delay":   next.String(),
			"error":   err,
		}).Debug("backend exhausted, backing off")
	}

	res, err := backoff.RetryNotifyWithTimerAndData[model.Result](op, d.policy.BackOff(ctx), notify, nil)
	if err == nil {
		return res, attempts, nil
	}
	// Cancellation during a backoff wait surfaces as the bare context error.
	if ctx.Err() != nil && last != nil && errors.Is(err, ctx.Err()) {
		return res, attempts, model.NewFailure(last.Kind, string(id), fmt.Errorf("%w after %d attempts: %w", ctx.Err(), attempts, last.Err))
	}
	return res, attempts, err
}
