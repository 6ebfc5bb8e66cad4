package store

import (
	"context"

	"github.com/agent-7132/hybridsched/internal/model"
)

// ErrInvalidTransition is returned when a session status transition is not allowed.
var ErrInvalidTransition = model.ErrInvalidTransition

// SessionStats holds aggregate scheduling statistics.
type SessionStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByBackend map[string]int `json:"count_by_backend"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for sharded sessions.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*model.Session, int, error)
	SetShardCount(ctx context.Context, id string, shards int) error
	UpdateSessionStatus(ctx context.Context, id, status, errMsg string) error
	InsertShardRecord(ctx context.Context, r *model.ShardRecord) error
	ListShardRecords(ctx context.Context, sessionID string) ([]model.ShardRecord, error)
	GetSessionStats(ctx context.Context) (*SessionStats, error)
	Close() error
}
