package shard

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/mailbox"
	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/retry"
)

var (
	// ErrCorruption marks a shard result that fails the worker's own checks.
	ErrCorruption = errors.New("shard result corrupted")
	// ErrWorkerPanic marks a worker that panicked while processing a shard.
	ErrWorkerPanic = errors.New("worker panicked")
)

var tracer = otel.Tracer("github.com/agent-7132/hybridsched/internal/shard")

// Dispatcher runs a single task to a result or typed failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, task backend.Task) (backend.DispatchResult, error)
}

// Config controls how a Runner executes sessions.
type Config struct {
	// WorkerPoolSize caps concurrent workers; it is further capped at the shard count.
	WorkerPoolSize int
	// MaxRestarts is the number of restarts allowed per worker before the session aborts.
	MaxRestarts int
	// Retry governs mailbox delivery retries.
	Retry retry.Policy
	// Transport carries worker reports; DirectTransport when nil.
	Transport mailbox.Transport
}

// Runner fans shard tasks out to supervised workers.
type Runner struct {
	dispatcher Dispatcher
	cfg        Config
	logger     logrus.FieldLogger
}

// NewRunner creates a runner.
func NewRunner(d Dispatcher, cfg Config, logger logrus.FieldLogger) *Runner {
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.Transport == nil {
		cfg.Transport = mailbox.DirectTransport{}
	}
	return &Runner{dispatcher: d, cfg: cfg, logger: logger}
}

// Distribute splits the payload into shards, announces the count to the
// coordinator and starts the workers. It returns once the workers are
// running; the returned channel is closed when they have all exited.
func (r *Runner) Distribute(ctx context.Context, coord *Coordinator, p model.ProblemDescriptor, payload model.Payload, shards int) (<-chan struct{}, error) {
	tasks, err := Partition(p, payload, shards)
	if err != nil {
		return nil, err
	}
	return r.Start(ctx, coord, tasks)
}

// Start announces already partitioned tasks to the coordinator and runs them
// in the background. The returned channel closes when every worker has exited.
func (r *Runner) Start(ctx context.Context, coord *Coordinator, tasks []backend.Task) (<-chan struct{}, error) {
	if err := coord.Announce(ctx, len(tasks)); err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, coord, tasks)
	}()
	return done, nil
}

// Run processes tasks until every shard has been handled or the session
// settles. Workers stop as soon as the session leaves the open state.
func (r *Runner) Run(ctx context.Context, coord *Coordinator, tasks []backend.Task) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-coord.Settled():
			cancel()
		case <-ctx.Done():
		}
	}()

	log := r.logger.WithField("session_id", coord.ID())
	sup := NewSupervisor(r.cfg.MaxRestarts, log)
	defer sup.Stop()
	mb := mailbox.New(r.cfg.Transport, coord, r.cfg.Retry, sup, log)

	q := &taskQueue{tasks: tasks}
	pool := min(r.cfg.WorkerPoolSize, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool)
	for range pool {
		w := &worker{
			id:         model.NewID(),
			sessionID:  coord.ID(),
			dispatcher: r.dispatcher,
			mailbox:    mb,
			supervisor: sup,
		}
		w.logger = log.WithField("worker_id", w.id)
		g.Go(func() error {
			r.work(gctx, w, q, coord)
			return nil
		})
	}
	_ = g.Wait()
}

// work is one worker slot's loop. A fatal error hands control to the
// supervisor, which either restarts the worker from its snapshot with the
// failed shard retried first, or gives up and aborts the session.
func (r *Runner) work(ctx context.Context, w *worker, q *taskQueue, coord *Coordinator) {
	var retryTask *backend.Task
	for ctx.Err() == nil {
		var task backend.Task
		if retryTask != nil {
			task, retryTask = *retryTask, nil
		} else {
			var ok bool
			if task, ok = q.pop(); !ok {
				return
			}
		}

		err := w.process(ctx, task)
		var fatal *fatalError
		switch {
		case err == nil:
		case errors.As(err, &fatal):
			shardID := task.Problem.ShardID
			d := w.supervisor.Fatal(w.id, shardID, fatal.err)
			if !d.Restart {
				cause := model.NewFailure(model.KindAborted, "",
					fmt.Errorf("worker %s gave up on shard %d after %d restarts: %w", w.id, shardID, d.Restarts, fatal.err))
				_ = coord.Abort(context.Background(), cause.WithShard(shardID))
				return
			}
			w = w.restart(d.Snapshot)
			retryTask = &task
		default:
			w.logger.WithField("error", err).Debug("worker stopping")
			return
		}
	}
}

type taskQueue struct {
	mu    sync.Mutex
	tasks []backend.Task
}

func (q *taskQueue) pop() (backend.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return backend.Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

type worker struct {
	id          string
	incarnation int
	sessionID   string
	completed   []int
	last        *ShardResult

	dispatcher Dispatcher
	mailbox    *mailbox.Mailbox
	supervisor *Supervisor
	logger     logrus.FieldLogger
}

func (w *worker) snapshot() Snapshot {
	s := Snapshot{WorkerID: w.id, Incarnation: w.incarnation, Completed: w.completed, Last: w.last}
	return s.clone()
}

// restart returns a fresh incarnation of the worker holding only snap's state.
func (w *worker) restart(snap Snapshot) *worker {
	snap = snap.clone()
	return &worker{
		id:          w.id,
		incarnation: snap.Incarnation,
		sessionID:   w.sessionID,
		completed:   snap.Completed,
		last:        snap.Last,
		dispatcher:  w.dispatcher,
		mailbox:     w.mailbox,
		supervisor:  w.supervisor,
		logger:      w.logger.WithField("incarnation", snap.Incarnation),
	}
}

// process runs one shard and reports it. It returns a *fatalError for
// corruption or panics, nil once the shard is reported, and any other error
// when the worker should stop.
func (w *worker) process(ctx context.Context, task backend.Task) (err error) {
	shardID := task.Problem.ShardID
	ctx, span := tracer.Start(ctx, "shard.process", trace.WithAttributes(
		attribute.String("session.id", w.sessionID),
		attribute.String("worker.id", w.id),
		attribute.Int("shard.id", shardID),
	))
	defer func() {
		if p := recover(); p != nil {
			err = &fatalError{err: fmt.Errorf("%w: %v", ErrWorkerPanic, p)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	out, derr := w.dispatcher.Dispatch(ctx, task)
	span.SetAttributes(attribute.String("backend", string(out.Backend)))
	if derr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.WithFields(logrus.Fields{
			"shard_id": shardID,
			"backend":  out.Backend,
			"error":    derr,
		}).Warn("shard failed")
		return w.deliver(ctx, mailbox.NewFailure(w.sessionID, w.id, shardID, derr))
	}

	if err := validate(task, out.Result); err != nil {
		return &fatalError{err: err}
	}

	res := out.Result
	res.Metadata = maps.Clone(res.Metadata)
	if res.Metadata == nil {
		res.Metadata = make(map[string]float64)
	}
	res.Metadata[MetaAttempts] = float64(out.Attempts)
	res.Metadata[MetaDurationMS] = float64(time.Since(start).Milliseconds())

	if err := w.deliver(ctx, mailbox.NewResult(w.sessionID, w.id, shardID, res)); err != nil {
		return err
	}
	w.completed = append(w.completed, shardID)
	w.last = &ShardResult{ShardID: shardID, Result: res}
	w.supervisor.Commit(w.snapshot())
	return nil
}

func (w *worker) deliver(ctx context.Context, msg mailbox.Message) error {
	err := w.mailbox.Deliver(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateShard), errors.Is(err, ErrShardOutOfRange):
		// Dropped by the coordinator; the shard is already accounted for.
		return nil
	case errors.Is(err, mailbox.ErrUndeliverable) && ctx.Err() == nil:
		return &fatalError{err: err}
	}
	return err
}

// validate checks a successful result for internal corruption.
func validate(task backend.Task, res model.Result) error {
	if task.Payload.Rows != nil && len(res.Rows) != len(task.Payload.Rows) {
		return fmt.Errorf("%w: %d rows in, %d rows out", ErrCorruption, len(task.Payload.Rows), len(res.Rows))
	}
	for i, row := range res.Rows {
		for j, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: non-finite value at [%d][%d]", ErrCorruption, i, j)
			}
		}
	}
	for k, v := range res.Metadata {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite metadata %q", ErrCorruption, k)
		}
	}
	return nil
}
