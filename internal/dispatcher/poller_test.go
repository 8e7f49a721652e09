package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/comfyui"
	"comfybatch/internal/comfyui/comfyuitest"
	"comfybatch/internal/config"
	"comfybatch/internal/interfaces"
	"comfybatch/internal/transport"
)

func newTestPoller(t *testing.T, timeout time.Duration) (*Poller, *comfyuitest.Server) {
	t.Helper()
	srv := comfyuitest.NewServer()
	t.Cleanup(srv.Close)
	tr := transport.New(config.RetryConfig{MaxRetries: 1, Delay: time.Millisecond}, time.Second)
	client := comfyui.NewClient(srv.URL, tr)
	return NewPoller(client, config.PollConfig{Interval: 5 * time.Millisecond, Timeout: timeout}), srv
}

func TestAwaitReturnsAfterPendingPolls(t *testing.T) {
	poller, srv := newTestPoller(t, 0)
	srv.SetPendingPolls(2)
	srv.SetImagesPerPrompt(2)

	images, err := poller.Await(context.Background(), "prompt-7")
	require.NoError(t, err)
	assert.Equal(t, 3, srv.HistoryCalls("prompt-7"))
	require.Len(t, images, 2)
	assert.Equal(t, comfyuitest.OutputFilename("prompt-7", 0), images[0].Filename)
	assert.Equal(t, "output", images[1].Type)
}

func TestAwaitRetriesFailedQueries(t *testing.T) {
	completed, err := json.Marshal(interfaces.HistoryEntry{
		Outputs: map[string]interfaces.NodeOutput{
			"9":  {Images: []interfaces.OutputImage{{Filename: "b.png", Type: "output"}}},
			"12": {Images: []interfaces.OutputImage{{Filename: "a.png", Type: "output"}}},
		},
	})
	require.NoError(t, err)

	client := &fakeClient{history: func(call int) (interfaces.History, error) {
		if call <= 2 {
			return nil, apperrors.New(apperrors.KindTransport, "get history", errors.New("connection refused"))
		}
		return interfaces.History{"p": completed}, nil
	}}
	poller := NewPoller(client, config.PollConfig{Interval: time.Millisecond})

	images, err := poller.Await(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls())
	require.Len(t, images, 2)
	assert.Equal(t, "a.png", images[0].Filename, "output nodes are visited in sorted id order")
	assert.Equal(t, "b.png", images[1].Filename)
}

func TestAwaitTreatsEmptyEntryAsPending(t *testing.T) {
	client := &fakeClient{history: func(call int) (interfaces.History, error) {
		if call == 1 {
			return interfaces.History{"p": json.RawMessage(`{}`)}, nil
		}
		return interfaces.History{"p": json.RawMessage(`{"outputs":{}}`)}, nil
	}}
	poller := NewPoller(client, config.PollConfig{Interval: time.Millisecond})

	images, err := poller.Await(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Equal(t, 2, client.calls())
}

func TestAwaitTimeoutInterruptsPrompt(t *testing.T) {
	poller, srv := newTestPoller(t, 40*time.Millisecond)
	srv.SetPendingPolls(1 << 20)

	_, err := poller.Await(context.Background(), "prompt-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, srv.Interrupts())
}

func TestAwaitExecutionErrorIsTerminal(t *testing.T) {
	poller, srv := newTestPoller(t, 0)
	srv.ReportExecutionErrors(true)

	_, err := poller.Await(context.Background(), "prompt-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Equal(t, apperrors.KindProtocol, apperrors.KindOf(err))
	assert.Equal(t, 1, srv.HistoryCalls("prompt-1"))
}

func TestAwaitStopsOnCancel(t *testing.T) {
	client := &fakeClient{history: func(call int) (interfaces.History, error) {
		return interfaces.History{}, nil
	}}
	poller := NewPoller(client, config.PollConfig{Interval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := poller.Await(ctx, "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, client.interrupts, "caller cancellation does not interrupt the server")
}
