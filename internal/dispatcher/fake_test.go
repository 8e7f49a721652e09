package dispatcher

import (
	"context"
	"errors"
	"io"
	"sync"

	"comfybatch/internal/interfaces"
	"comfybatch/internal/workflow"
)

var errNotImplemented = errors.New("not implemented")

// fakeClient scripted ComfyUI client. history is called with the 1-based query count.
type fakeClient struct {
	mu           sync.Mutex
	history      func(call int) (interfaces.History, error)
	historyCalls int
	interrupts   int
}

var _ interfaces.ComfyUIClient = (*fakeClient)(nil)

func (f *fakeClient) UploadImage(ctx context.Context, filename string, content io.Reader, subfolder string, overwrite bool) (string, error) {
	return "", errNotImplemented
}

func (f *fakeClient) SubmitWorkflow(ctx context.Context, descriptor *workflow.Descriptor) (string, error) {
	return "", errNotImplemented
}

func (f *fakeClient) GetHistory(ctx context.Context, promptID string) (interfaces.History, error) {
	f.mu.Lock()
	f.historyCalls++
	call := f.historyCalls
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.history(call)
}

func (f *fakeClient) ViewImage(ctx context.Context, image interfaces.OutputImage) ([]byte, error) {
	return nil, errNotImplemented
}

func (f *fakeClient) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeClient) HealthCheck(ctx context.Context) error {
	return nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}
