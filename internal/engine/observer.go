package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/shard"
	"github.com/agent-7132/hybridsched/internal/store"
)

// sessionObserver persists coordinator notifications and republishes them
// as events. It runs on the coordinator's goroutine, so writes for one
// session are ordered.
type sessionObserver struct {
	store  store.Store
	broker *EventBroker
	logger logrus.FieldLogger
}

var _ shard.Observer = (*sessionObserver)(nil)

func (o *sessionObserver) Announced(sessionID string, shards int) {
	if err := o.store.SetShardCount(context.Background(), sessionID, shards); err != nil {
		o.logger.WithFields(logrus.Fields{"session_id": sessionID, "error": err}).Error("failed to persist shard count")
	}
	o.broker.Publish(sessionID, Event{
		Type:      EventAnnounced,
		SessionID: sessionID,
		Shards:    shards,
		Time:      time.Now().UTC(),
	})
}

func (o *sessionObserver) ShardReported(sessionID string, r shard.ShardReport) {
	now := time.Now().UTC()
	rec := &model.ShardRecord{
		SessionID:  sessionID,
		ShardID:    r.ShardID,
		Backend:    r.Backend,
		Outcome:    r.Outcome,
		Attempts:   r.Attempts,
		DurationMS: r.DurationMS,
		CreatedAt:  now,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	if err := o.store.InsertShardRecord(context.Background(), rec); err != nil {
		o.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"shard_id":   r.ShardID,
			"error":      err,
		}).Error("failed to persist shard record")
	}

	id := r.ShardID
	o.broker.Publish(sessionID, Event{
		Type:      EventShard,
		SessionID: sessionID,
		ShardID:   &id,
		Backend:   r.Backend,
		Outcome:   r.Outcome,
		Error:     rec.Error,
		Time:      now,
	})
}

func (o *sessionObserver) StatusChanged(sessionID, status string, cause error) {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	if err := o.store.UpdateSessionStatus(context.Background(), sessionID, status, msg); err != nil {
		o.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"status":     status,
			"error":      err,
		}).Error("failed to persist session status")
	}
	o.broker.Publish(sessionID, Event{
		Type:      EventStatus,
		SessionID: sessionID,
		Status:    status,
		Error:     msg,
		Time:      time.Now().UTC(),
	})
	if model.IsTerminal(status) {
		o.broker.Close(sessionID)
	}
}
