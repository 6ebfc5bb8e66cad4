package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/agent-7132/hybridsched/internal/model"
)

// ErrIntegrity is returned when a message's checksum does not match its body.
var ErrIntegrity = errors.New("message integrity check failed")

// Message kinds.
const (
	KindResult  = "result"
	KindFailure = "failure"
)

// FailureInfo is the wire form of a shard failure.
type FailureInfo struct {
	Kind    model.FailureKind `json:"kind"`
	Backend string            `json:"backend,omitempty"`
	Message string            `json:"message"`
}

// Message is a worker's report about one shard.
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	WorkerID  string        `json:"worker_id"`
	ShardID   int           `json:"shard_id"`
	Kind      string        `json:"kind"`
	Result    *model.Result `json:"result,omitempty"`
	Failure   *FailureInfo  `json:"failure,omitempty"`
	Checksum  uint64        `json:"checksum"`
}

// NewResult builds an unsealed result message.
func NewResult(sessionID, workerID string, shardID int, res model.Result) Message {
	return Message{
		ID:        model.NewID(),
		SessionID: sessionID,
		WorkerID:  workerID,
		ShardID:   shardID,
		Kind:      KindResult,
		Result:    &res,
	}
}

// NewFailure builds an unsealed failure message from err.
func NewFailure(sessionID, workerID string, shardID int, err error) Message {
	f := model.AsFailure(err, "")
	msg := f.Error()
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return Message{
		ID:        model.NewID(),
		SessionID: sessionID,
		WorkerID:  workerID,
		ShardID:   shardID,
		Kind:      KindFailure,
		Failure:   &FailureInfo{Kind: f.Kind, Backend: f.Backend, Message: msg},
	}
}

// AsFailure reconstructs the typed failure carried by a failure message.
func (m Message) AsFailure() *model.Failure {
	if m.Failure == nil {
		return nil
	}
	return &model.Failure{
		Kind:    m.Failure.Kind,
		Backend: m.Failure.Backend,
		ShardID: m.ShardID,
		Err:     errors.New(m.Failure.Message),
	}
}

// Sum computes the checksum of the message body: xxhash64 over its JSON
// encoding with the checksum field zeroed.
func (m Message) Sum() (uint64, error) {
	m.Checksum = 0
	body, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	return xxhash.Sum64(body), nil
}

// Seal stores the body checksum in the message.
func (m *Message) Seal() error {
	sum, err := m.Sum()
	if err != nil {
		return err
	}
	m.Checksum = sum
	return nil
}

// Verify returns ErrIntegrity if the stored checksum does not match the body.
func (m Message) Verify() error {
	sum, err := m.Sum()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if sum != m.Checksum {
		return fmt.Errorf("%w: message %s checksum %016x, body hashes to %016x", ErrIntegrity, m.ID, m.Checksum, sum)
	}
	return nil
}
