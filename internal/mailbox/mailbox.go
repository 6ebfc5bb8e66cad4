package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/retry"
)

// ErrUndeliverable is wrapped by the failure Deliver returns once retries are exhausted.
var ErrUndeliverable = errors.New("message undeliverable")

// Sink is the receiving side of a mailbox. Errors from Accept are final and
// are not retried.
type Sink interface {
	Accept(ctx context.Context, msg Message) error
}

// Reporter is told about messages the mailbox gave up on.
type Reporter interface {
	Undeliverable(msg Message, err error)
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithTimer overrides the timer used for backoff waits.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(m *Mailbox) { m.newTimer = newTimer }
}

// Mailbox delivers sealed messages to a sink.
type Mailbox struct {
	transport Transport
	sink      Sink
	policy    retry.Policy
	reporter  Reporter
	logger    logrus.FieldLogger
	newTimer  func() backoff.Timer
}

// New creates a mailbox. reporter may be nil.
func New(t Transport, sink Sink, policy retry.Policy, reporter Reporter, logger logrus.FieldLogger, opts ...Option) *Mailbox {
	m := &Mailbox{
		transport: t,
		sink:      sink,
		policy:    policy,
		reporter:  reporter,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deliver seals msg and hands it to the sink. Integrity and transport
// failures are retried per the policy; a message that is still failing is
// reported and returned as an IntegrityFailure. Sink errors are returned as is.
func (m *Mailbox) Deliver(ctx context.Context, msg Message) error {
	if err := msg.Seal(); err != nil {
		return model.NewFailure(model.KindIntegrityFailure, "", err)
	}

	log := m.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"session_id": msg.SessionID,
		"shard_id":   msg.ShardID,
		"worker_id":  msg.WorkerID,
	})

	var sinkErr error
	op := func() error {
		got, err := m.transport.Carry(ctx, msg)
		if err != nil {
			return fmt.Errorf("carry: %w", err)
		}
		if err := got.Verify(); err != nil {
			return err
		}
		if err := m.sink.Accept(ctx, got); err != nil {
			sinkErr = err
			return backoff.Permanent(err)
		}
		return nil
	}

	attempt := 0
	notify := func(err error, next time.Duration) {
		attempt++
		reason := "transport"
		if errors.Is(err, ErrIntegrity) {
			reason = "integrity"
		}
		retriesTotal.WithLabelValues(reason).Inc()
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   next.String(),
			"error":   err,
		}).Warn("delivery failed, retrying")
	}

	var timer backoff.Timer
	if m.newTimer != nil {
		timer = m.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(op, m.policy.BackOff(ctx), notify, timer)
	switch {
	case err == nil:
		deliveriesTotal.WithLabelValues(outcomeDelivered).Inc()
		return nil
	case sinkErr != nil && errors.Is(err, sinkErr):
		deliveriesTotal.WithLabelValues(outcomeRejected).Inc()
		log.WithField("error", err).Debug("message rejected by sink")
		return err
	}

	deliveriesTotal.WithLabelValues(outcomeUndeliverable).Inc()
	log.WithFields(logrus.Fields{
		"attempts": attempt + 1,
		"error":    err,
	}).Error("giving up on message")
	if m.reporter != nil {
		m.reporter.Undeliverable(msg, err)
	}
	f := model.NewFailure(model.KindIntegrityFailure, "", fmt.Errorf("%w after %d attempts: %w", ErrUndeliverable, attempt+1, err))
	return f.WithShard(msg.ShardID)
}
