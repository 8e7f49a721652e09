package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"comfybatch/internal/config"
)

const keyPrefix = "comfybatch"

func runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", keyPrefix, runID)
}

func workflowsKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:workflows", keyPrefix, runID)
}

func runsKey() string {
	return keyPrefix + ":runs"
}

// RedisStore progress store mirrored into Redis
type RedisStore struct {
	redis  *redis.Client
	logger *logrus.Logger
}

// NewRedisStore creates a Redis progress store
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		redis:  rdb,
		logger: config.NewLogger(),
	}
}

// SaveSummary saves summary and indexes the run by start time
func (s *RedisStore) SaveSummary(ctx context.Context, summary *RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, runKey(summary.RunID), summaryJSON, 0)
	pipe.ZAdd(ctx, runsKey(), redis.Z{
		Score:  float64(summary.StartedAt.Unix()),
		Member: summary.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run summary to Redis: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Debug("Run summary saved to Redis")
	return nil
}

// GetSummary loads the summary of a run
func (s *RedisStore) GetSummary(ctx context.Context, runID string) (*RunSummary, error) {
	summaryJSON, err := s.redis.Get(ctx, runKey(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run summary from Redis: %w", err)
	}

	var summary RunSummary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &summary, nil
}

// ListRuns loads every indexed run, newest first
func (s *RedisStore) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	runIDs, err := s.redis.ZRevRange(ctx, runsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*RunSummary, 0, len(runIDs))
	for _, runID := range runIDs {
		summary, err := s.GetSummary(ctx, runID)
		if err != nil {
			s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to load run")
			continue
		}
		runs = append(runs, summary)
	}
	return runs, nil
}

// SaveWorkflow saves the progress of one workflow
func (s *RedisStore) SaveWorkflow(ctx context.Context, wp *WorkflowProgress) error {
	wpJSON, err := json.Marshal(wp)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow progress: %w", err)
	}
	if err := s.redis.HSet(ctx, workflowsKey(wp.RunID), wp.Workflow, wpJSON).Err(); err != nil {
		return fmt.Errorf("failed to save workflow progress to Redis: %w", err)
	}
	return nil
}

// ListWorkflows loads the workflows of a run, sorted by name
func (s *RedisStore) ListWorkflows(ctx context.Context, runID string) ([]*WorkflowProgress, error) {
	exists, err := s.redis.Exists(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	all, err := s.redis.HGetAll(ctx, workflowsKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get workflows from Redis: %w", err)
	}

	list := make([]*WorkflowProgress, 0, len(all))
	for _, wpJSON := range all {
		var wp WorkflowProgress
		if err := json.Unmarshal([]byte(wpJSON), &wp); err != nil {
			s.logger.WithError(err).Warn("Failed to unmarshal workflow progress")
			continue
		}
		list = append(list, &wp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Workflow < list[j].Workflow
	})
	return list, nil
}

// HealthCheck checks Redis connection health status
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
