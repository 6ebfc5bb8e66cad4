package shard

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/model"
)

// ErrInvalidShardCount is returned when a payload cannot be split as requested.
var ErrInvalidShardCount = errors.New("invalid shard count")

// ShardResult is one shard's output.
type ShardResult struct {
	ShardID int          `json:"shard_id"`
	Result  model.Result `json:"result"`
}

// Partition splits a payload into k contiguous shards along its primary axis.
// Row payloads are split by rows; circuit payloads are replicated with the
// shot budget split across shards. The first len%k shards receive one extra
// element.
func Partition(p model.ProblemDescriptor, payload model.Payload, k int) ([]backend.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShardCount, k)
	}

	if payload.Rows == nil && payload.Circuit != nil {
		shots := payload.Shots
		if shots <= 0 {
			shots = backend.DefaultShots
		}
		if k > shots {
			return nil, fmt.Errorf("%w: %d shards for %d shots", ErrInvalidShardCount, k, shots)
		}
		tasks := make([]backend.Task, k)
		for i, n := range splitSizes(shots, k) {
			c := payload.Circuit.Clone()
			tasks[i] = backend.Task{
				Problem: p.ForShard(i, 0, 0),
				Payload: model.Payload{Circuit: &c, Shots: n},
			}
		}
		return tasks, nil
	}

	total := len(payload.Rows)
	if k > max(total, 1) {
		return nil, fmt.Errorf("%w: %d shards for %d rows", ErrInvalidShardCount, k, total)
	}
	tasks := make([]backend.Task, k)
	start := 0
	for i, n := range splitSizes(total, k) {
		part := model.Payload{Rows: payload.Rows[start : start+n], Shots: payload.Shots}.Clone()
		tasks[i] = backend.Task{
			Problem: p.ForShard(i, n, total),
			Payload: part,
		}
		start += n
	}
	return tasks, nil
}

// splitSizes returns k sizes summing to n that differ by at most one.
func splitSizes(n, k int) []int {
	sizes := make([]int, k)
	for i := range sizes {
		sizes[i] = n / k
		if i < n%k {
			sizes[i]++
		}
	}
	return sizes
}

// Aggregate combines shard results in ascending shard order regardless of
// the order they are given in: rows are concatenated and measurement counts
// summed.
func Aggregate(results []ShardResult) model.Result {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b ShardResult) int { return a.ShardID - b.ShardID })

	out := model.Result{Metadata: map[string]float64{"shards": float64(len(sorted))}}
	var backends []string
	for _, r := range sorted {
		if r.Result.Rows != nil {
			out.Rows = append(out.Rows, r.Result.Rows...)
		}
		for state, n := range r.Result.Counts {
			if out.Counts == nil {
				out.Counts = make(map[string]int)
			}
			out.Counts[state] += n
		}
		if !slices.Contains(backends, r.Result.Backend) {
			backends = append(backends, r.Result.Backend)
		}
	}
	out.Backend = strings.Join(backends, ",")
	return out
}
