package model

import (
	"errors"
	"fmt"
	"time"
)

// Session status constants.
const (
	StatusOpen      = "open"
	StatusComplete  = "complete"
	StatusDelivered = "delivered"
	StatusTimedOut  = "timed_out"
	StatusAborted   = "aborted"
)

// ErrInvalidTransition is returned when a session status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions lists the statuses each status may move to.
var validTransitions = map[string][]string{
	StatusOpen:     {StatusComplete, StatusTimedOut, StatusAborted},
	StatusComplete: {StatusDelivered},
}

// ValidTransition reports whether a session may move from one status to another.
func ValidTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition if from -> to is not allowed.
func CheckTransition(from, to string) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether status ends a session.
func IsTerminal(status string) bool {
	return status == StatusDelivered || status == StatusTimedOut || status == StatusAborted
}

// Session is the persisted record of one sharded scheduling session.
type Session struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Size        int        `json:"size"`
	Precision   Precision  `json:"precision"`
	Depth       int        `json:"depth"`
	MemoryMB    int        `json:"memory_required_mb"`
	ShardCount  int        `json:"shard_count"`
	Received    int        `json:"received"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ShardRecord is the persisted outcome of one shard in a session.
type ShardRecord struct {
	SessionID  string    `json:"session_id"`
	ShardID    int       `json:"shard_id"`
	Backend    string    `json:"backend"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMS int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Shard outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeLate      = "late"
)
