package engine_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/engine"
	"github.com/agent-7132/hybridsched/internal/mitigation"
	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/retry"
	"github.com/agent-7132/hybridsched/internal/shard"
	"github.com/agent-7132/hybridsched/internal/store"
)

// stubDispatcher echoes rows back, optionally blocking on gate first.
type stubDispatcher struct {
	gate chan struct{}
	err  error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, task backend.Task) (backend.DispatchResult, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return backend.DispatchResult{}, ctx.Err()
		}
	}
	if d.err != nil {
		return backend.DispatchResult{Backend: backend.CoProcessor, Attempts: 1}, d.err
	}
	return backend.DispatchResult{
		Result:   model.Result{Backend: string(backend.WideVector), Rows: task.Payload.Rows},
		Backend:  backend.WideVector,
		Attempts: 1,
	}, nil
}

func newTestEngine(t *testing.T, d shard.Dispatcher, timeout time.Duration) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng := engine.NewEngine(d, s, mitigation.NewMonitor(10), engine.Config{
		Shard: shard.Config{
			WorkerPoolSize: 2,
			MaxRestarts:    1,
			Retry:          retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		},
		AggregationTimeout: timeout,
	}, logger)
	t.Cleanup(func() {
		eng.Close()
		s.Close()
	})
	return eng, s
}

func fp32Problem(size int) model.ProblemDescriptor {
	return model.ProblemDescriptor{Size: size, Precision: model.PrecisionFP32}
}

func rows(n int) model.Payload {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return model.Payload{Rows: out}
}

// waitForStatus polls the store until the session reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Session {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sess, err := s.GetSession(context.Background(), id)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if sess.Status == expected {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

// waitForEviction polls until the engine drops the session's live handle.
func waitForEviction(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := eng.Handle(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s still has a live handle", id)
}

func TestScheduleReturnsResult(t *testing.T) {
	eng, _ := newTestEngine(t, &stubDispatcher{}, time.Second)

	out, err := eng.Schedule(context.Background(), fp32Problem(2), rows(2))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if out.Backend != backend.WideVector || len(out.Result.Rows) != 2 {
		t.Errorf("result = %+v", out)
	}
}

func TestSchedulePropagatesFailure(t *testing.T) {
	fail := model.NewFailure(model.KindResourceExhausted, string(backend.CoProcessor), errors.New("full"))
	eng, _ := newTestEngine(t, &stubDispatcher{err: fail}, time.Second)

	_, err := eng.Schedule(context.Background(), fp32Problem(2), rows(2))
	if model.KindOf(err) != model.KindResourceExhausted {
		t.Errorf("error = %v, want resource_exhausted", err)
	}
}

func TestScheduleShardedLifecycle(t *testing.T) {
	eng, s := newTestEngine(t, &stubDispatcher{}, 5*time.Second)
	ctx := context.Background()

	h, err := eng.ScheduleSharded(ctx, fp32Problem(6), rows(6), 3)
	if err != nil {
		t.Fatalf("ScheduleSharded: %v", err)
	}
	res, err := h.GetResult(ctx, 0)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	for i, row := range res.Rows {
		if row[0] != float32(i) {
			t.Fatalf("rows = %v, want input order", res.Rows)
		}
	}
	if h.Status() != model.StatusDelivered {
		t.Errorf("handle status = %q, want delivered", h.Status())
	}

	sess := waitForStatus(t, s, h.ID(), model.StatusDelivered, 5*time.Second)
	if sess.ShardCount != 3 || sess.Received != 3 {
		t.Errorf("session = %+v, want 3 shards received", sess)
	}
	if sess.FinishedAt == nil || sess.DeliveredAt == nil {
		t.Error("finish timestamps not recorded")
	}

	records, err := s.ListShardRecords(ctx, h.ID())
	if err != nil {
		t.Fatalf("ListShardRecords: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d shard records, want 3", len(records))
	}
	for _, r := range records {
		if r.Outcome != model.OutcomeAccepted || r.Backend != string(backend.WideVector) {
			t.Errorf("record = %+v", r)
		}
	}

	waitForEviction(t, eng, h.ID())
}

func TestScheduleShardedEvents(t *testing.T) {
	d := &stubDispatcher{gate: make(chan struct{})}
	eng, _ := newTestEngine(t, d, 5*time.Second)
	ctx := context.Background()

	h, err := eng.ScheduleSharded(ctx, fp32Problem(4), rows(4), 2)
	if err != nil {
		t.Fatalf("ScheduleSharded: %v", err)
	}
	events, unsub := eng.Broker().Subscribe(h.ID())
	defer unsub()

	close(d.gate)
	if _, err := h.GetResult(ctx, 0); err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	var shards int
	var statuses []string
	for ev := range events {
		switch ev.Type {
		case engine.EventShard:
			shards++
			if ev.Outcome != model.OutcomeAccepted {
				t.Errorf("shard event outcome = %q", ev.Outcome)
			}
		case engine.EventStatus:
			statuses = append(statuses, ev.Status)
		}
	}
	if shards != 2 {
		t.Errorf("got %d shard events, want 2", shards)
	}
	if len(statuses) != 2 || statuses[0] != model.StatusComplete || statuses[1] != model.StatusDelivered {
		t.Errorf("statuses = %v, want [complete delivered]", statuses)
	}
}

func TestScheduleShardedExpiresWithoutCaller(t *testing.T) {
	d := &stubDispatcher{gate: make(chan struct{})}
	eng, s := newTestEngine(t, d, 50*time.Millisecond)

	h, err := eng.ScheduleSharded(context.Background(), fp32Problem(2), rows(2), 2)
	if err != nil {
		t.Fatalf("ScheduleSharded: %v", err)
	}

	sess := waitForStatus(t, s, h.ID(), model.StatusTimedOut, 5*time.Second)
	if sess.Error == "" {
		t.Error("timed out session has no error message")
	}
	waitForEviction(t, eng, h.ID())

	// The handle still reports the terminal outcome.
	if _, err := h.GetResult(context.Background(), time.Second); model.KindOf(err) != model.KindSessionTimeout {
		t.Errorf("GetResult error = %v, want session_timeout", err)
	}
}

func TestScheduleShardedFailureAborts(t *testing.T) {
	fail := model.NewFailure(model.KindComputeError, string(backend.CoProcessor), errors.New("nan"))
	eng, s := newTestEngine(t, &stubDispatcher{err: fail}, 5*time.Second)

	h, err := eng.ScheduleSharded(context.Background(), fp32Problem(2), rows(2), 2)
	if err != nil {
		t.Fatalf("ScheduleSharded: %v", err)
	}
	_, err = h.GetResult(context.Background(), 0)
	if model.KindOf(err) != model.KindAborted {
		t.Fatalf("error = %v, want aborted", err)
	}

	waitForStatus(t, s, h.ID(), model.StatusAborted, 5*time.Second)
	records, _ := s.ListShardRecords(context.Background(), h.ID())
	for _, r := range records {
		if r.Outcome != model.OutcomeFailed {
			t.Errorf("record outcome = %q, want failed", r.Outcome)
		}
	}
}

func TestScheduleShardedRejectsBadInput(t *testing.T) {
	eng, _ := newTestEngine(t, &stubDispatcher{}, time.Second)
	ctx := context.Background()

	if _, err := eng.ScheduleSharded(ctx, model.ProblemDescriptor{Size: 0, Precision: model.PrecisionFP32}, rows(2), 1); !errors.Is(err, model.ErrInvalidProblem) {
		t.Errorf("invalid problem error = %v", err)
	}
	if _, err := eng.ScheduleSharded(ctx, fp32Problem(2), rows(2), 3); !errors.Is(err, shard.ErrInvalidShardCount) {
		t.Errorf("bad shard count error = %v", err)
	}
}

func TestScheduleShardedRejectionIsNotPersisted(t *testing.T) {
	eng, st := newTestEngine(t, &stubDispatcher{}, time.Second)
	ctx := context.Background()

	for _, k := range []int{0, -1, 9} {
		_, err := eng.ScheduleSharded(ctx, fp32Problem(8), rows(4), k)
		var f *model.Failure
		if !errors.As(err, &f) || f.Kind != model.KindInvalidRequest {
			t.Errorf("shards=%d: error = %v, want invalid_request failure", k, err)
		}
		if !errors.Is(err, shard.ErrInvalidShardCount) {
			t.Errorf("shards=%d: error %v does not wrap ErrInvalidShardCount", k, err)
		}
	}

	sessions, total, err := st.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 0 || len(sessions) != 0 {
		t.Errorf("rejected requests persisted %d sessions", total)
	}
}

func TestScheduleShardedConcurrent(t *testing.T) {
	eng, _ := newTestEngine(t, &stubDispatcher{}, 5*time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Go(func() {
			h, err := eng.ScheduleSharded(ctx, fp32Problem(8), rows(8), 4)
			if err != nil {
				errs <- err
				return
			}
			res, err := h.GetResult(ctx, 0)
			if err != nil {
				errs <- err
				return
			}
			if len(res.Rows) != 8 {
				errs <- errors.New("short result")
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseAbortsOpenSessions(t *testing.T) {
	d := &stubDispatcher{gate: make(chan struct{})}
	eng, s := newTestEngine(t, d, time.Minute)

	h, err := eng.ScheduleSharded(context.Background(), fp32Problem(2), rows(2), 2)
	if err != nil {
		t.Fatalf("ScheduleSharded: %v", err)
	}
	eng.Close()

	sess, err := s.GetSession(context.Background(), h.ID())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != model.StatusAborted {
		t.Errorf("status = %q, want aborted", sess.Status)
	}
}
