package progress

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus workflow status within a run
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// WorkflowProgress progress of one workflow file within a run
type WorkflowProgress struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Workflow    string         `json:"workflow" yaml:"workflow"`
	Type        string         `json:"type" yaml:"type"`
	Status      WorkflowStatus `json:"status" yaml:"status"`
	Units       int            `json:"units" yaml:"units"`
	UnitsFailed int            `json:"units_failed" yaml:"units_failed"`
	Stage       string         `json:"stage,omitempty" yaml:"stage,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
}

// NewWorkflowProgress creates a pending workflow record
func NewWorkflowProgress(runID, workflow string) *WorkflowProgress {
	return &WorkflowProgress{
		RunID:     runID,
		Workflow:  workflow,
		Type:      "unknown",
		Status:    WorkflowStatusPending,
		UpdatedAt: time.Now(),
	}
}

// MarkRunning marks workflow as running
func (w *WorkflowProgress) MarkRunning(workflowType string) {
	w.Status = WorkflowStatusRunning
	w.Type = workflowType
	w.UpdatedAt = time.Now()
}

// MarkCompleted marks workflow as completed
func (w *WorkflowProgress) MarkCompleted() {
	w.Status = WorkflowStatusCompleted
	w.UpdatedAt = time.Now()
}

// MarkFailed marks workflow as failed at stage
func (w *WorkflowProgress) MarkFailed(stage, errorMsg string) {
	w.Status = WorkflowStatusFailed
	w.Stage = stage
	w.Error = errorMsg
	w.UpdatedAt = time.Now()
}

// RunSummary aggregate counts of one batch run
type RunSummary struct {
	RunID          string     `json:"run_id" yaml:"run_id"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Total          int        `json:"total" yaml:"total"`
	Succeeded      int        `json:"succeeded" yaml:"succeeded"`
	Failed         int        `json:"failed" yaml:"failed"`
	TextToImage    int        `json:"text_to_image" yaml:"text_to_image"`
	ImageToImage   int        `json:"image_to_image" yaml:"image_to_image"`
	Skipped        int        `json:"skipped" yaml:"skipped"`
	UnitsSucceeded int        `json:"units_succeeded" yaml:"units_succeeded"`
	UnitsFailed    int        `json:"units_failed" yaml:"units_failed"`
}

// NewRunSummary creates the summary of a new run over total workflow files
func NewRunSummary(total int) *RunSummary {
	return &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Total:     total,
		Skipped:   total,
	}
}

// Processed number of workflows that were attempted
func (s *RunSummary) Processed() int {
	return s.Succeeded + s.Failed
}

// Finished reports whether the run is over
func (s *RunSummary) Finished() bool {
	return s.FinishedAt != nil
}

// Finish marks the run as over
func (s *RunSummary) Finish() {
	now := time.Now()
	s.FinishedAt = &now
	s.Skipped = s.Total - s.Processed()
}
