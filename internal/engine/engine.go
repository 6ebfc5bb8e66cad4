package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/mitigation"
	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/shard"
	"github.com/agent-7132/hybridsched/internal/store"
)

// DefaultAggregationTimeout bounds a sharded session when none is configured.
const DefaultAggregationTimeout = 30 * time.Second

// ErrUnknownSession is returned for session ids with no live handle.
var ErrUnknownSession = errors.New("unknown session")

var tracer = otel.Tracer("github.com/agent-7132/hybridsched/internal/engine")

// Config controls sharded execution.
type Config struct {
	Shard shard.Config
	// AggregationTimeout is how long a session may stay open before it is
	// closed as timed out, whether or not anyone is waiting on it.
	AggregationTimeout time.Duration
}

// Engine runs scheduling requests.
type Engine struct {
	dispatcher shard.Dispatcher
	runner     *shard.Runner
	store      store.Store
	monitor    *mitigation.Monitor
	broker     *EventBroker
	timeout    time.Duration
	logger     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewEngine creates a new scheduling engine. monitor may be nil when no
// hardware backend reports error rates.
func NewEngine(d shard.Dispatcher, s store.Store, monitor *mitigation.Monitor, cfg Config, logger logrus.FieldLogger) *Engine {
	if cfg.AggregationTimeout <= 0 {
		cfg.AggregationTimeout = DefaultAggregationTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		dispatcher: d,
		runner:     shard.NewRunner(d, cfg.Shard, logger),
		store:      s,
		monitor:    monitor,
		broker:     NewEventBroker(),
		timeout:    cfg.AggregationTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		handles:    make(map[string]*Handle),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Monitor returns the hardware error-rate monitor, or nil.
func (e *Engine) Monitor() *mitigation.Monitor {
	return e.monitor
}

// AggregationTimeout returns the default session timeout.
func (e *Engine) AggregationTimeout() time.Duration {
	return e.timeout
}

// Schedule runs one unsharded task and returns its result or typed failure.
func (e *Engine) Schedule(ctx context.Context, p model.ProblemDescriptor, payload model.Payload) (backend.DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Schedule", trace.WithAttributes(
		attribute.Int("problem.size", p.Size),
		attribute.String("problem.precision", string(p.Precision)),
		attribute.Int("problem.depth", p.Depth),
	))
	defer span.End()

	out, err := e.dispatcher.Dispatch(ctx, backend.Task{Problem: p, Payload: payload})
	if errors.Is(err, model.ErrInvalidProblem) {
		err = model.NewFailure(model.KindInvalidRequest, "", err)
	}
	span.SetAttributes(
		attribute.String("backend", string(out.Backend)),
		attribute.Int("attempts", out.Attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WithFields(logrus.Fields{
			"backend": out.Backend,
			"kind":    model.KindOf(err),
			"error":   err,
		}).Warn("schedule failed")
		return out, err
	}
	return out, nil
}

// ScheduleSharded splits the payload into shards, records a new session and
// starts executing it. The returned handle reports progress and delivers the
// aggregated result.
func (e *Engine) ScheduleSharded(ctx context.Context, p model.ProblemDescriptor, payload model.Payload, shards int) (*Handle, error) {
	// Reject before anything is persisted.
	tasks, err := shard.Partition(p, payload, shards)
	if err != nil {
		return nil, model.NewFailure(model.KindInvalidRequest, "", err)
	}

	id := model.NewID()
	ctx, span := tracer.Start(ctx, "engine.ScheduleSharded", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Int("shards", shards),
		attribute.Int("problem.size", p.Size),
	))
	defer span.End()

	sess := &model.Session{
		ID:        id,
		Status:    model.StatusOpen,
		Size:      p.Size,
		Precision: p.Precision,
		Depth:     p.Depth,
		MemoryMB:  p.MemoryRequiredMB,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create session: %w", err)
	}

	log := e.logger.WithField("session_id", id)
	obs := &sessionObserver{store: e.store, broker: e.broker, logger: log}
	coord := shard.NewCoordinator(e.ctx, id, obs, e.logger)

	// Workers outlive the request that started them.
	done, err := e.runner.Start(e.ctx, coord, tasks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = coord.Abort(context.Background(), err)
		return nil, err
	}

	h := &Handle{id: id, coord: coord, timeout: e.timeout}
	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()

	e.wg.Go(func() {
		e.watch(h, done)
	})
	log.WithField("shards", shards).Info("session started")
	return h, nil
}

// watch expires a session that outlives the aggregation timeout and drops
// its handle once it has ended.
func (e *Engine) watch(h *Handle, workers <-chan struct{}) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case <-h.coord.Settled():
	case <-timer.C:
		if err := h.coord.Expire(context.Background()); err != nil {
			e.logger.WithFields(logrus.Fields{"session_id": h.id, "error": err}).Error("failed to expire session")
		}
	case <-e.ctx.Done():
	}

	<-workers
	<-h.coord.Finished()

	e.mu.Lock()
	delete(e.handles, h.id)
	e.mu.Unlock()
}

// Handle returns the live handle of a session that has not ended yet.
func (e *Engine) Handle(id string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[id]
	return h, ok
}

// Session returns the persisted record of a session.
func (e *Engine) Session(ctx context.Context, id string) (*model.Session, error) {
	return e.store.GetSession(ctx, id)
}

// Close stops every open session and waits for their goroutines.
func (e *Engine) Close() {
	e.cancel()
	e.Wait()
}

// Wait blocks until all session goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Handle is the caller's view of one sharded session.
type Handle struct {
	id      string
	coord   *shard.Coordinator
	timeout time.Duration
}

// ID returns the session id.
func (h *Handle) ID() string {
	return h.id
}

// Status returns the current session status.
func (h *Handle) Status() string {
	return h.coord.Status()
}

// Progress returns a snapshot of the session's shard accounting.
func (h *Handle) Progress() shard.Progress {
	return h.coord.Progress()
}

// Done is closed once the session has left the open state.
func (h *Handle) Done() <-chan struct{} {
	return h.coord.Settled()
}

// GetResult waits for the aggregated result. A non-positive timeout uses
// the engine's aggregation timeout.
func (h *Handle) GetResult(ctx context.Context, timeout time.Duration) (model.Result, error) {
	if timeout <= 0 {
		timeout = h.timeout
	}
	return h.coord.GetResult(ctx, timeout)
}
