package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"net/url"

	"comfybatch/internal/workflow"
)

// ComfyUIClient ComfyUI client interface
type ComfyUIClient interface {
	// UploadImage uploads an input image and returns its remote path
	UploadImage(ctx context.Context, filename string, content io.Reader, subfolder string, overwrite bool) (string, error)

	// SubmitWorkflow submits workflow and returns the prompt id
	SubmitWorkflow(ctx context.Context, descriptor *workflow.Descriptor) (string, error)

	// GetHistory gets the history entries returned for a prompt id
	GetHistory(ctx context.Context, promptID string) (History, error)

	// ViewImage downloads one produced image
	ViewImage(ctx context.Context, image OutputImage) ([]byte, error)

	// Interrupt interrupts the currently executing prompt
	Interrupt(ctx context.Context) error

	// HealthCheck performs health check
	HealthCheck(ctx context.Context) error
}

// ComfyUIResponse ComfyUI /prompt response
type ComfyUIResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// UploadResponse ComfyUI /upload/image response
type UploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// RemotePath path to reference the uploaded image from a workflow
func (r UploadResponse) RemotePath() string {
	if r.Subfolder == "" {
		return r.Name
	}
	return r.Subfolder + "/" + r.Name
}

// OutputImage output locator of one produced image
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Query builds the /view query string for the image
func (o OutputImage) Query() string {
	values := url.Values{}
	values.Set("filename", o.Filename)
	values.Set("subfolder", o.Subfolder)
	values.Set("type", o.Type)
	return values.Encode()
}

// NodeOutput outputs produced by one node
type NodeOutput struct {
	Images []OutputImage `json:"images"`
}

// HistoryStatus execution status reported with a history entry
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry history of one prompt
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  *HistoryStatus        `json:"status,omitempty"`
}

// Failed reports whether the server finished the prompt with an execution error
func (e *HistoryEntry) Failed() bool {
	return e.Status != nil && e.Status.StatusStr == "error"
}

// History /history/{prompt_id} response, keyed by prompt id
type History map[string]json.RawMessage
