package shard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/mailbox"
	"github.com/agent-7132/hybridsched/internal/model"
)

var (
	// ErrSessionClosed is returned for messages that arrive after a session
	// stopped accepting results.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyAnnounced is returned when the shard count is announced twice.
	ErrAlreadyAnnounced = errors.New("shard count already announced")
	// ErrDuplicateShard is returned when a shard reports more than once.
	ErrDuplicateShard = errors.New("duplicate shard")
	// ErrShardOutOfRange is returned for shard ids outside [0, expected).
	ErrShardOutOfRange = errors.New("shard id out of range")
)

// Metadata keys workers attach to shard results.
const (
	MetaAttempts   = "attempts"
	MetaDurationMS = "duration_ms"
)

type requestKind int

const (
	reqAnnounce requestKind = iota
	reqAccept
	reqClose
	reqAbort
	reqDeliver
)

type request struct {
	kind  requestKind
	count int
	msg   mailbox.Message
	err   error
	reply chan response
}

type response struct {
	result model.Result
	err    error
}

// Progress is a point-in-time view of a session.
type Progress struct {
	Status   string `json:"status"`
	Expected int    `json:"expected"`
	Received int    `json:"received"`
	Failed   int    `json:"failed"`
}

// Coordinator is the actor owning one aggregation session. All session state
// is confined to its goroutine; other goroutines interact through messages.
type Coordinator struct {
	id       string
	ctx      context.Context
	observer Observer
	logger   logrus.FieldLogger

	inbox    chan request
	settled  chan struct{}
	finished chan struct{}
	progress atomic.Pointer[Progress]

	// Set by the actor before settled or finished is closed.
	result model.Result
	err    error

	// Actor-owned state.
	status   string
	expected int
	received map[int]model.Result
	failed   map[int]*model.Failure
	pending  []mailbox.Message
	settle   sync.Once
}

// Compile-time interface satisfaction check.
var _ mailbox.Sink = (*Coordinator)(nil)

// NewCoordinator starts a session actor. Cancelling ctx stops it; a session
// still open at that point is aborted.
func NewCoordinator(ctx context.Context, id string, obs Observer, logger logrus.FieldLogger) *Coordinator {
	if obs == nil {
		obs = NopObserver{}
	}
	c := &Coordinator{
		id:       id,
		ctx:      ctx,
		observer: obs,
		logger:   logger.WithField("session_id", id),
		inbox:    make(chan request),
		settled:  make(chan struct{}),
		finished: make(chan struct{}),
		status:   model.StatusOpen,
		expected: -1,
		received: make(map[int]model.Result),
		failed:   make(map[int]*model.Failure),
	}
	c.publish()
	activeSessions.Inc()
	go c.loop()
	return c
}

// ID returns the session id.
func (c *Coordinator) ID() string {
	return c.id
}

// Progress returns the latest published session progress.
func (c *Coordinator) Progress() Progress {
	return *c.progress.Load()
}

// Status returns the session status.
func (c *Coordinator) Status() string {
	return c.Progress().Status
}

// Settled is closed once the session leaves the open state.
func (c *Coordinator) Settled() <-chan struct{} {
	return c.settled
}

// Finished is closed once the actor has stopped.
func (c *Coordinator) Finished() <-chan struct{} {
	return c.finished
}

// Announce sets the expected shard count. It may be called once.
func (c *Coordinator) Announce(ctx context.Context, shards int) error {
	_, err := c.call(ctx, request{kind: reqAnnounce, count: shards})
	return err
}

// Accept takes a verified shard report from the mailbox. Reports that arrive
// before the announcement are buffered.
func (c *Coordinator) Accept(ctx context.Context, msg mailbox.Message) error {
	_, err := c.call(ctx, request{kind: reqAccept, msg: msg})
	return err
}

// Abort closes an open session with an unrecoverable failure.
func (c *Coordinator) Abort(ctx context.Context, cause error) error {
	_, err := c.call(ctx, request{kind: reqAbort, err: cause})
	return err
}

// Expire closes an open session as timed out. It is a no-op once the
// session has settled.
func (c *Coordinator) Expire(ctx context.Context) error {
	_, err := c.call(ctx, request{kind: reqClose})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// GetResult waits for the session to settle and hands over its outcome. If
// timeout elapses first the session is closed as timed out and any later
// reports are discarded. A non-positive timeout waits until ctx is done.
func (c *Coordinator) GetResult(ctx context.Context, timeout time.Duration) (model.Result, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-c.settled:
	case <-expired:
		// The session may settle concurrently; Expire is a no-op then.
		_ = c.Expire(context.Background())
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}

	res, err := c.call(context.Background(), request{kind: reqDeliver})
	if errors.Is(err, ErrSessionClosed) {
		// The actor has stopped; its final outcome is stable.
		<-c.finished
		return c.result, c.err
	}
	return res, err
}

// call sends a request to the actor and waits for its reply.
func (c *Coordinator) call(ctx context.Context, req request) (model.Result, error) {
	req.reply = make(chan response, 1)
	select {
	case c.inbox <- req:
	case <-c.finished:
		return model.Result{}, ErrSessionClosed
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
	resp := <-req.reply
	return resp.result, resp.err
}

func (c *Coordinator) loop() {
	defer func() {
		activeSessions.Dec()
		close(c.finished)
	}()

	for {
		select {
		case req := <-c.inbox:
			req.reply <- c.handle(req)
			if model.IsTerminal(c.status) {
				return
			}
		case <-c.ctx.Done():
			if c.status == model.StatusOpen {
				c.finish(model.StatusAborted, model.NewFailure(model.KindAborted, "", fmt.Errorf("session stopped: %w", c.ctx.Err())))
			}
			return
		}
	}
}

func (c *Coordinator) handle(req request) response {
	switch req.kind {
	case reqAnnounce:
		return response{err: c.announce(req.count)}
	case reqAccept:
		return response{err: c.accept(req.msg)}
	case reqClose:
		if c.status == model.StatusOpen {
			cause := errors.New("shard count never announced")
			if c.expected >= 0 {
				cause = fmt.Errorf("%d of %d shards reported before the deadline", len(c.received)+len(c.failed), c.expected)
			}
			c.finish(model.StatusTimedOut, model.NewFailure(model.KindSessionTimeout, "", cause))
		}
		return response{}
	case reqAbort:
		if c.status != model.StatusOpen {
			return response{err: ErrSessionClosed}
		}
		var f *model.Failure
		if !errors.As(req.err, &f) || f.Kind != model.KindAborted {
			f = model.NewFailure(model.KindAborted, "", req.err)
		}
		c.finish(model.StatusAborted, f)
		return response{}
	case reqDeliver:
		return c.deliver()
	}
	return response{err: fmt.Errorf("unknown request %d", req.kind)}
}

func (c *Coordinator) announce(n int) error {
	if c.status != model.StatusOpen {
		return ErrSessionClosed
	}
	if c.expected >= 0 {
		return ErrAlreadyAnnounced
	}
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidShardCount, n)
	}
	c.expected = n
	c.observer.Announced(c.id, n)
	c.logger.WithField("shards", n).Debug("shard count announced")

	pending := c.pending
	c.pending = nil
	for _, msg := range pending {
		// Errors for buffered reports were already acknowledged to the sender.
		_ = c.record(msg)
	}
	c.publish()
	c.checkComplete()
	return nil
}

func (c *Coordinator) accept(msg mailbox.Message) error {
	if c.status != model.StatusOpen {
		c.report(msg, model.OutcomeLate, ErrSessionClosed)
		return ErrSessionClosed
	}
	if c.expected < 0 {
		c.pending = append(c.pending, msg)
		return nil
	}
	if err := c.record(msg); err != nil {
		return err
	}
	c.publish()
	c.checkComplete()
	return nil
}

// record stores one report. The received and failed maps never hold the
// same shard twice.
func (c *Coordinator) record(msg mailbox.Message) error {
	id := msg.ShardID
	if id < 0 || id >= c.expected {
		c.report(msg, model.OutcomeDuplicate, ErrShardOutOfRange)
		return fmt.Errorf("%w: %d not in [0, %d)", ErrShardOutOfRange, id, c.expected)
	}
	_, ok := c.received[id]
	_, bad := c.failed[id]
	if ok || bad {
		c.report(msg, model.OutcomeDuplicate, ErrDuplicateShard)
		return fmt.Errorf("%w: %d", ErrDuplicateShard, id)
	}

	switch msg.Kind {
	case mailbox.KindResult:
		var res model.Result
		if msg.Result != nil {
			res = *msg.Result
		}
		c.received[id] = res
		c.report(msg, model.OutcomeAccepted, nil)
	default:
		f := msg.AsFailure()
		if f == nil {
			f = model.NewFailure(model.KindComputeError, "", errors.New("failure report without details")).WithShard(id)
		}
		c.failed[id] = f
		c.report(msg, model.OutcomeFailed, f)
	}
	return nil
}

// checkComplete settles the session once every shard has reported.
func (c *Coordinator) checkComplete() {
	if c.status != model.StatusOpen || c.expected < 0 || len(c.received)+len(c.failed) < c.expected {
		return
	}
	if len(c.failed) == 0 {
		results := make([]ShardResult, 0, len(c.received))
		for id, r := range c.received {
			results = append(results, ShardResult{ShardID: id, Result: r})
		}
		c.result = Aggregate(results)
		c.setStatus(model.StatusComplete, nil)
		c.settleOnce()
		return
	}

	ids := make([]int, 0, len(c.failed))
	for id := range c.failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, c.failed[id])
	}
	c.finish(model.StatusAborted, model.NewFailure(model.KindAborted, "",
		fmt.Errorf("%d of %d shards failed: %w", len(ids), c.expected, errors.Join(errs...))))
}

func (c *Coordinator) deliver() response {
	switch c.status {
	case model.StatusComplete:
		c.setStatus(model.StatusDelivered, nil)
		return response{result: c.result}
	case model.StatusDelivered:
		return response{result: c.result}
	case model.StatusOpen:
		return response{err: fmt.Errorf("session %s still open", c.id)}
	}
	return response{err: c.err}
}

// finish moves an open session to a failed terminal state, discarding
// partial results.
func (c *Coordinator) finish(status string, err error) {
	c.err = err
	c.received = map[int]model.Result{}
	c.pending = nil
	c.setStatus(status, err)
	c.settleOnce()
}

func (c *Coordinator) setStatus(status string, err error) {
	if checkErr := model.CheckTransition(c.status, status); checkErr != nil {
		c.logger.WithField("error", checkErr).Error("refusing session transition")
		return
	}
	c.status = status
	c.publish()
	if model.IsTerminal(status) {
		sessionsTotal.WithLabelValues(status).Inc()
	}
	fields := logrus.Fields{"status": status}
	if err != nil {
		fields["error"] = err
	}
	c.logger.WithFields(fields).Info("session status changed")
	c.observer.StatusChanged(c.id, status, err)
}

func (c *Coordinator) settleOnce() {
	c.settle.Do(func() { close(c.settled) })
}

func (c *Coordinator) publish() {
	c.progress.Store(&Progress{
		Status:   c.status,
		Expected: c.expected,
		Received: len(c.received),
		Failed:   len(c.failed),
	})
}

func (c *Coordinator) report(msg mailbox.Message, outcome string, err error) {
	r := ShardReport{
		ShardID:  msg.ShardID,
		WorkerID: msg.WorkerID,
		Outcome:  outcome,
		Err:      err,
	}
	switch {
	case msg.Result != nil:
		r.Backend = msg.Result.Backend
		r.Attempts = int(msg.Result.Metadata[MetaAttempts])
		r.DurationMS = int(msg.Result.Metadata[MetaDurationMS])
	case msg.Failure != nil:
		r.Backend = msg.Failure.Backend
	}
	shardsTotal.WithLabelValues(outcome).Inc()
	c.observer.ShardReported(c.id, r)
}
