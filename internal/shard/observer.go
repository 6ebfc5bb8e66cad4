package shard

// ShardReport describes what the coordinator did with one shard message.
type ShardReport struct {
	ShardID    int
	WorkerID   string
	Backend    string
	Outcome    string
	Attempts   int
	DurationMS int
	Err        error
}

// Observer is notified of session progress. Calls are made from the
// coordinator's goroutine, in order, and must not call back into the
// coordinator.
type Observer interface {
	Announced(sessionID string, shards int)
	ShardReported(sessionID string, r ShardReport)
	StatusChanged(sessionID, status string, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Announced(string, int) {}

func (NopObserver) ShardReported(string, ShardReport) {}

func (NopObserver) StatusChanged(string, string, error) {}
