package shard

import (
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/mailbox"
)

// Snapshot is a worker's last known-good state: the shards it has delivered
// and the most recent result it reported.
type Snapshot struct {
	WorkerID    string       `json:"worker_id"`
	Incarnation int          `json:"incarnation"`
	Completed   []int        `json:"completed"`
	Last        *ShardResult `json:"last,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	s.Completed = slices.Clone(s.Completed)
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

// Decision is the supervisor's answer to a fatal worker event.
type Decision struct {
	Restart  bool
	Snapshot Snapshot
	Restarts int
}

type supervisorOp int

const (
	opCommit supervisorOp = iota
	opFatal
	opUndeliverable
	opLookup
)

type supervisorReq struct {
	op       supervisorOp
	snapshot Snapshot
	workerID string
	shardID  int
	err      error
	reply    chan supervisorResp
}

type supervisorResp struct {
	decision Decision
	snapshot Snapshot
	ok       bool
}

// Supervisor is the actor that owns worker snapshots and restart policy for
// one session.
type Supervisor struct {
	maxRestarts int
	logger      logrus.FieldLogger
	inbox       chan supervisorReq
	stop        chan struct{}
	done        chan struct{}

	// Actor-owned state.
	snapshots map[string]Snapshot
	restarts  map[string]int
}

// Compile-time interface satisfaction check.
var _ mailbox.Reporter = (*Supervisor)(nil)

// NewSupervisor starts a supervisor that allows each worker maxRestarts
// restarts before giving up.
func NewSupervisor(maxRestarts int, logger logrus.FieldLogger) *Supervisor {
	s := &Supervisor{
		maxRestarts: maxRestarts,
		logger:      logger,
		inbox:       make(chan supervisorReq),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		snapshots:   make(map[string]Snapshot),
		restarts:    make(map[string]int),
	}
	go s.loop()
	return s
}

// Stop shuts the actor down. Calls made afterwards return zero values.
func (s *Supervisor) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Commit records a worker's new known-good state.
func (s *Supervisor) Commit(snap Snapshot) {
	s.call(supervisorReq{op: opCommit, snapshot: snap.clone()})
}

// Fatal reports that a worker hit an unrecoverable error while processing a
// shard. The decision says whether to restart it and from which snapshot.
func (s *Supervisor) Fatal(workerID string, shardID int, err error) Decision {
	return s.call(supervisorReq{op: opFatal, workerID: workerID, shardID: shardID, err: err}).decision
}

// Undeliverable records a message the mailbox gave up on.
func (s *Supervisor) Undeliverable(msg mailbox.Message, err error) {
	s.call(supervisorReq{op: opUndeliverable, workerID: msg.WorkerID, shardID: msg.ShardID, err: err})
}

// Snapshot returns the latest snapshot committed by a worker.
func (s *Supervisor) Snapshot(workerID string) (Snapshot, bool) {
	resp := s.call(supervisorReq{op: opLookup, workerID: workerID})
	return resp.snapshot, resp.ok
}

func (s *Supervisor) call(req supervisorReq) supervisorResp {
	req.reply = make(chan supervisorResp, 1)
	select {
	case s.inbox <- req:
	case <-s.done:
		return supervisorResp{}
	}
	return <-req.reply
}

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		select {
		case req := <-s.inbox:
			req.reply <- s.handle(req)
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) handle(req supervisorReq) supervisorResp {
	switch req.op {
	case opCommit:
		s.snapshots[req.snapshot.WorkerID] = req.snapshot
	case opLookup:
		snap, ok := s.snapshots[req.workerID]
		return supervisorResp{snapshot: snap.clone(), ok: ok}
	case opUndeliverable:
		s.logger.WithFields(logrus.Fields{
			"worker_id": req.workerID,
			"shard_id":  req.shardID,
			"error":     req.err,
		}).Warn("mailbox gave up on shard report")
	case opFatal:
		n := s.restarts[req.workerID]
		log := s.logger.WithFields(logrus.Fields{
			"worker_id": req.workerID,
			"shard_id":  req.shardID,
			"restarts":  n,
			"error":     req.err,
		})
		if n >= s.maxRestarts {
			log.Error("worker exceeded restart limit")
			return supervisorResp{decision: Decision{Restart: false, Restarts: n}}
		}
		n++
		s.restarts[req.workerID] = n
		snap, ok := s.snapshots[req.workerID]
		if !ok {
			snap = Snapshot{WorkerID: req.workerID}
		}
		snap = snap.clone()
		snap.Incarnation = n
		workerRestartsTotal.Inc()
		log.Warn("restarting worker from snapshot")
		return supervisorResp{decision: Decision{Restart: true, Snapshot: snap, Restarts: n}}
	}
	return supervisorResp{}
}
