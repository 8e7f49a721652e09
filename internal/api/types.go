package api

import (
	"time"

	"comfybatch/internal/progress"
)

// RunResponse run response
type RunResponse struct {
	RunID          string     `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Finished       bool       `json:"finished"`
	Total          int        `json:"total"`
	Processed      int        `json:"processed"`
	Succeeded      int        `json:"succeeded"`
	Failed         int        `json:"failed"`
	Skipped        int        `json:"skipped"`
	TextToImage    int        `json:"text_to_image"`
	ImageToImage   int        `json:"image_to_image"`
	UnitsSucceeded int        `json:"units_succeeded"`
	UnitsFailed    int        `json:"units_failed"`
}

func newRunResponse(s *progress.RunSummary) RunResponse {
	return RunResponse{
		RunID:          s.RunID,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		Finished:       s.Finished(),
		Total:          s.Total,
		Processed:      s.Processed(),
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Skipped:        s.Skipped,
		TextToImage:    s.TextToImage,
		ImageToImage:   s.ImageToImage,
		UnitsSucceeded: s.UnitsSucceeded,
		UnitsFailed:    s.UnitsFailed,
	}
}

// WorkflowResponse workflow response
type WorkflowResponse struct {
	Workflow    string    `json:"workflow"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Units       int       `json:"units"`
	UnitsFailed int       `json:"units_failed"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrorResponse error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
