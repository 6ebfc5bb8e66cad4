package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures a BreakerSubmitter.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerSubmitter guards a Submitter with a circuit breaker. While the
// breaker is open, requests fail fast with ErrUnavailable so the dispatcher
// moves on to the next eligible backend.
type BreakerSubmitter struct {
	next Submitter
	cb   *gobreaker.CircuitBreaker
}

// Compile-time interface satisfaction check.
var _ Submitter = (*BreakerSubmitter)(nil)

// NewBreakerSubmitter wraps next in a breaker named after the backend.
func NewBreakerSubmitter(id BackendID, next Submitter, s BreakerSettings, logger logrus.FieldLogger) *BreakerSubmitter {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return &BreakerSubmitter{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(id),
			MaxRequests: 1,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			// A full backend is healthy; only transport and compute errors count.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrCapacity)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				breakerState.WithLabelValues(name).Set(float64(to))
				logger.WithFields(logrus.Fields{
					"backend": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state changed")
			},
		}),
	}
}

// State reports the breaker state.
func (b *BreakerSubmitter) State() gobreaker.State {
	return b.cb.State()
}

// Submit forwards req through the breaker.
func (b *BreakerSubmitter) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Submit(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return SubmitResponse{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return SubmitResponse{}, err
	}
	return out.(SubmitResponse), nil
}
