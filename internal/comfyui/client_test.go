package comfyui

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/comfyui/comfyuitest"
	"comfybatch/internal/config"
	"comfybatch/internal/interfaces"
	"comfybatch/internal/transport"
	"comfybatch/internal/workflow"
)

func newTestClient(t *testing.T) (*Client, *comfyuitest.Server) {
	t.Helper()
	srv := comfyuitest.NewServer()
	t.Cleanup(srv.Close)
	tr := transport.New(config.RetryConfig{MaxRetries: 3, Delay: time.Millisecond}, time.Second)
	return NewClient(srv.URL, tr), srv
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "http://host:8188/prompt", buildURL("host:8188", "/prompt"))
	assert.Equal(t, "https://host/prompt", buildURL("https://host/", "prompt"))
	assert.Equal(t, "http://127.0.0.1:8188/history/x", buildURL("http://127.0.0.1:8188", "/history/x"))
}

func TestSubmitWorkflow(t *testing.T) {
	client, srv := newTestClient(t)
	d, err := workflow.Parse([]byte(`{"3": {"class_type": "KSampler", "inputs": {"seed": 42}}}`))
	require.NoError(t, err)

	id, err := client.SubmitWorkflow(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "prompt-1", id)

	prompts := srv.Prompts()
	require.Len(t, prompts, 1)
	assert.JSONEq(t, `{"3": {"class_type": "KSampler", "inputs": {"seed": 42}}}`, string(prompts[0]))
}

func TestSubmitWorkflowRetriesServerErrors(t *testing.T) {
	client, srv := newTestClient(t)
	srv.FailNextPrompts(2)
	d, err := workflow.Parse([]byte(`{"3": {"class_type": "KSampler", "inputs": {}}}`))
	require.NoError(t, err)

	id, err := client.SubmitWorkflow(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "prompt-1", id)
}

func TestSubmitWorkflowGivesUp(t *testing.T) {
	client, srv := newTestClient(t)
	srv.FailNextPrompts(3)
	d, err := workflow.Parse([]byte(`{"3": {"class_type": "KSampler", "inputs": {}}}`))
	require.NoError(t, err)

	_, err = client.SubmitWorkflow(context.Background(), d)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindTransport))
	assert.Empty(t, srv.Prompts())
}

func TestUploadImage(t *testing.T) {
	client, srv := newTestClient(t)

	path, err := client.UploadImage(context.Background(), "x.png", strings.NewReader("pixels"), "", true)
	require.NoError(t, err)
	assert.Equal(t, "x.png", path)

	path, err = client.UploadImage(context.Background(), "y.jpg", strings.NewReader("more"), "batch", false)
	require.NoError(t, err)
	assert.Equal(t, "batch/y.jpg", path)

	uploads := srv.Uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, comfyuitest.Upload{Filename: "x.png", Overwrite: true, Content: []byte("pixels")}, uploads[0])
	assert.Equal(t, "batch", uploads[1].Subfolder)
	assert.False(t, uploads[1].Overwrite)
}

func TestGetHistoryAndViewImage(t *testing.T) {
	client, srv := newTestClient(t)
	srv.SetPendingPolls(1)

	history, err := client.GetHistory(context.Background(), "prompt-7")
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = client.GetHistory(context.Background(), "prompt-7")
	require.NoError(t, err)
	require.Contains(t, history, "prompt-7")

	var entry interfaces.HistoryEntry
	require.NoError(t, json.Unmarshal(history["prompt-7"], &entry))
	require.Len(t, entry.Outputs["9"].Images, 1)
	assert.False(t, entry.Failed())

	data, err := client.ViewImage(context.Background(), entry.Outputs["9"].Images[0])
	require.NoError(t, err)
	assert.Equal(t, "png:prompt-7:0", string(data))
}

func TestViewImageNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.ViewImage(context.Background(), interfaces.OutputImage{Filename: "nope.png", Type: "output"})
	assert.True(t, apperrors.Is(err, apperrors.KindTransport))
}

func TestInterruptAndHealthCheck(t *testing.T) {
	client, srv := newTestClient(t)

	require.NoError(t, client.HealthCheck(context.Background()))
	require.NoError(t, client.Interrupt(context.Background()))
	assert.Equal(t, 1, srv.Interrupts())
}

func TestOutputImageQuery(t *testing.T) {
	img := interfaces.OutputImage{Filename: "a b.png", Subfolder: "x/y", Type: "output"}
	assert.Equal(t, "filename=a+b.png&subfolder=x%2Fy&type=output", img.Query())
}
