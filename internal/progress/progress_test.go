package progress

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfybatch/internal/config"
)

type store interface {
	SaveSummary(ctx context.Context, summary *RunSummary) error
	GetSummary(ctx context.Context, runID string) (*RunSummary, error)
	ListRuns(ctx context.Context) ([]*RunSummary, error)
	SaveWorkflow(ctx context.Context, wp *WorkflowProgress) error
	ListWorkflows(ctx context.Context, runID string) ([]*WorkflowProgress, error)
}

func exerciseStore(t *testing.T, s store) {
	ctx := context.Background()

	older := NewRunSummary(1)
	older.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveSummary(ctx, older))

	summary := NewRunSummary(3)
	require.NoError(t, s.SaveSummary(ctx, summary))

	b := NewWorkflowProgress(summary.RunID, "b.json")
	b.MarkRunning("image-to-image")
	b.Units = 2
	require.NoError(t, s.SaveWorkflow(ctx, b))

	a := NewWorkflowProgress(summary.RunID, "a.json")
	a.MarkRunning("text-to-image")
	a.MarkCompleted()
	require.NoError(t, s.SaveWorkflow(ctx, a))

	b.MarkFailed("image-to-image processing", "upload failed")
	require.NoError(t, s.SaveWorkflow(ctx, b))

	summary.Succeeded = 1
	summary.Failed = 1
	summary.Finish()
	require.NoError(t, s.SaveSummary(ctx, summary))

	got, err := s.GetSummary(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Skipped)
	assert.True(t, got.Finished())

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(runs), 2)
	assert.Equal(t, summary.RunID, runs[0].RunID)

	workflows, err := s.ListWorkflows(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "a.json", workflows[0].Workflow)
	assert.Equal(t, WorkflowStatusCompleted, workflows[0].Status)
	assert.Equal(t, WorkflowStatusFailed, workflows[1].Status)
	assert.Equal(t, "upload failed", workflows[1].Error)

	_, err = s.GetSummary(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = s.ListWorkflows(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	summary := NewRunSummary(2)
	require.NoError(t, s.SaveSummary(ctx, summary))

	summary.Succeeded = 2
	got, err := s.GetSummary(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Succeeded)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("COMFYBATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COMFYBATCH_TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s := NewRedisStore(config.RedisConfig{Host: host, Port: port, DB: 15})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.HealthCheck(context.Background()))
	exerciseStore(t, s)
}

func TestRunSummaryFinish(t *testing.T) {
	s := NewRunSummary(5)
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 5, s.Skipped)
	assert.False(t, s.Finished())

	s.Succeeded = 2
	s.Failed = 1
	s.Finish()
	assert.Equal(t, 3, s.Processed())
	assert.Equal(t, 2, s.Skipped)
	assert.True(t, s.Finished())
}
