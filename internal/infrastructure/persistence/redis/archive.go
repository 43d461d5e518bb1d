package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// RunArchive implements port.RunArchive on Redis. Run records are stored as
// JSON values, step traces as lists, and two sorted sets index the runs by
// start and finish time.
type RunArchive struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*RunArchive)

// WithTTL sets the expiration for run records and their traces.
func WithTTL(ttl time.Duration) Option {
	return func(a *RunArchive) {
		a.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(a *RunArchive) {
		a.prefix = prefix
	}
}

// New creates a new Redis run archive with options.
func New(address, password string, db int, opts ...Option) *RunArchive {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis run archive from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *RunArchive {
	archive := &RunArchive{
		client: client,
		prefix: "agentmst:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(archive)
	}

	return archive
}

func (a *RunArchive) runKey(id string) string {
	return a.prefix + "run:" + id
}

func (a *RunArchive) stepsKey(id string) string {
	return a.prefix + "steps:" + id
}

func (a *RunArchive) startedIndexKey() string {
	return a.prefix + "index:started"
}

func (a *RunArchive) finishedIndexKey() string {
	return a.prefix + "index:finished"
}

// SaveRun persists the run record and indexes it by start time. Finished
// runs are additionally indexed by finish time for pruning.
func (a *RunArchive) SaveRun(ctx context.Context, rec *run.Run) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := a.client.Pipeline()
	pipe.Set(ctx, a.runKey(rec.ID), data, a.ttl)
	pipe.ZAdd(ctx, a.startedIndexKey(), backend.Z{
		Score:  float64(rec.StartedAt.UnixMilli()),
		Member: rec.ID,
	})
	if rec.FinishedAt != nil {
		pipe.ZAdd(ctx, a.finishedIndexKey(), backend.Z{
			Score:  float64(rec.FinishedAt.UnixMilli()),
			Member: rec.ID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}

	return nil
}

// GetRun retrieves a run by its ID
func (a *RunArchive) GetRun(ctx context.Context, id string) (*run.Run, error) {
	val, err := a.client.Get(ctx, a.runKey(id)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, run.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rec run.Run
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &rec, nil
}

// ListRuns retrieves runs ordered by start time, newest first. Index entries
// whose value has expired are cleaned up lazily.
func (a *RunArchive) ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := a.client.ZRevRange(ctx, a.startedIndexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}

	var records []*run.Run
	var expired []interface{}
	for _, id := range ids {
		rec, err := a.GetRun(ctx, id)
		if err == run.ErrNotFound {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if len(expired) > 0 {
		pipe := a.client.Pipeline()
		pipe.ZRem(ctx, a.startedIndexKey(), expired...)
		pipe.ZRem(ctx, a.finishedIndexKey(), expired...)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to prune expired index entries: %w", err)
		}
	}

	return records, nil
}

// AppendStep appends one loop iteration to the run's trace. The position in
// the trace list doubles as the step ID.
func (a *RunArchive) AppendStep(ctx context.Context, step *run.Step) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	length, err := a.client.RPush(ctx, a.stepsKey(step.RunID), data).Result()
	if err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}
	step.ID = length

	if a.ttl > 0 {
		if err := a.client.Expire(ctx, a.stepsKey(step.RunID), a.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh trace expiration: %w", err)
		}
	}

	return nil
}

// StepsByRunID retrieves a run's trace in append order
func (a *RunArchive) StepsByRunID(ctx context.Context, runID string) ([]*run.Step, error) {
	vals, err := a.client.LRange(ctx, a.stepsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	var steps []*run.Step
	for _, val := range vals {
		var step run.Step
		if err := json.Unmarshal([]byte(val), &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		steps = append(steps, &step)
	}

	return steps, nil
}

// PruneBefore deletes runs that finished before the cutoff and returns how
// many were removed
func (a *RunArchive) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	max := fmt.Sprintf("(%d", cutoff.UnixMilli())
	ids, err := a.client.ZRangeByScore(ctx, a.finishedIndexKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to query finished runs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := a.client.Pipeline()
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		pipe.Del(ctx, a.runKey(id), a.stepsKey(id))
		members = append(members, id)
	}
	pipe.ZRem(ctx, a.startedIndexKey(), members...)
	pipe.ZRem(ctx, a.finishedIndexKey(), members...)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return len(ids), nil
}

// Close closes the redis client.
func (a *RunArchive) Close() error {
	return a.client.Close()
}

var _ port.RunArchive = (*RunArchive)(nil)
