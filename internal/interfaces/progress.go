package interfaces

import (
	"context"

	"comfybatch/internal/progress"
)

// ProgressStore progress store interface
type ProgressStore interface {
	// SaveSummary creates or replaces the summary of a run
	SaveSummary(ctx context.Context, summary *progress.RunSummary) error

	// GetSummary gets the summary of a run
	GetSummary(ctx context.Context, runID string) (*progress.RunSummary, error)

	// ListRuns lists run summaries, newest first
	ListRuns(ctx context.Context) ([]*progress.RunSummary, error)

	// SaveWorkflow creates or replaces the progress of one workflow
	SaveWorkflow(ctx context.Context, wp *progress.WorkflowProgress) error

	// ListWorkflows lists the workflows of a run, sorted by name
	ListWorkflows(ctx context.Context, runID string) ([]*progress.WorkflowProgress, error)
}
