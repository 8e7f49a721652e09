package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/config"
	"comfybatch/internal/interfaces"
)

// ErrExecutionFailed the server finished the prompt with an execution error
var ErrExecutionFailed = errors.New("prompt execution failed on server")

// interruptTimeout bounds the best-effort interrupt sent after a poll timeout
const interruptTimeout = 10 * time.Second

type pollState int

const (
	statePending pollState = iota
	stateDone
)

// Poller waits for submitted prompts to complete
type Poller struct {
	client   interfaces.ComfyUIClient
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewPoller creates a poller. A zero cfg.Timeout waits forever.
func NewPoller(client interfaces.ComfyUIClient, cfg config.PollConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		client:   client,
		interval: interval,
		timeout:  cfg.Timeout,
		logger:   config.NewLogger(),
	}
}

// Await queries the history of promptID until it reports completed outputs and
// returns the locators of every produced image. Query failures are logged and
// retried; the wait ends only on completion, a server-reported execution error,
// the poll timeout or cancellation of ctx.
func (p *Poller) Await(ctx context.Context, promptID string) ([]interfaces.OutputImage, error) {
	pollCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	start := time.Now()
	state := statePending
	checks := 0
	var images []interfaces.OutputImage

	for state == statePending {
		checks++
		found, done, err := p.check(pollCtx, promptID)
		switch {
		case errors.Is(err, ErrExecutionFailed):
			return nil, err
		case err != nil:
			p.logger.WithError(err).WithFields(logrus.Fields{
				"prompt_id":   promptID,
				"check_count": checks,
			}).Warnf("Polling error, retrying in %s", p.interval)
		case done:
			images = found
			state = stateDone
			continue
		default:
			p.logger.WithFields(logrus.Fields{
				"prompt_id":   promptID,
				"check_count": checks,
			}).Debug("Prompt still pending")
		}

		select {
		case <-pollCtx.Done():
			return nil, p.abort(ctx, promptID, time.Since(start))
		case <-ticker.C:
		}
	}

	p.logger.WithFields(logrus.Fields{
		"prompt_id":   promptID,
		"images":      len(images),
		"check_count": checks,
		"duration":    time.Since(start),
	}).Info("Prompt completed")
	return images, nil
}

// check performs one history query. done is true once the prompt has an entry.
func (p *Poller) check(ctx context.Context, promptID string) ([]interfaces.OutputImage, bool, error) {
	history, err := p.client.GetHistory(ctx, promptID)
	if err != nil {
		return nil, false, err
	}

	raw, ok := history[promptID]
	if !ok || isEmptyJSON(raw) {
		return nil, false, nil
	}

	var entry interfaces.HistoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, apperrors.Errorf(apperrors.KindProtocol, "await completion", "failed to decode history entry: %v", err)
	}
	if entry.Failed() {
		return nil, false, apperrors.New(apperrors.KindProtocol, "await completion", fmt.Errorf("%w: %s", ErrExecutionFailed, promptID))
	}
	return collectImages(entry), true, nil
}

// collectImages returns the images of every output node, nodes visited by id
func collectImages(entry interfaces.HistoryEntry) []interfaces.OutputImage {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var images []interfaces.OutputImage
	for _, id := range nodeIDs {
		images = append(images, entry.Outputs[id].Images...)
	}
	return images
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "{}":
		return true
	}
	return false
}

// abort ends a wait that was cancelled or timed out. On timeout the server is
// asked to interrupt the running prompt.
func (p *Poller) abort(ctx context.Context, promptID string, waited time.Duration) error {
	if err := ctx.Err(); err != nil {
		return apperrors.New(apperrors.KindTransport, "await completion", err)
	}

	p.logger.WithFields(logrus.Fields{
		"prompt_id": promptID,
		"duration":  waited,
		"timeout":   p.timeout,
	}).Warn("Prompt timeout detected")

	interruptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptTimeout)
	defer cancel()
	if err := p.client.Interrupt(interruptCtx); err != nil {
		p.logger.WithError(err).WithField("prompt_id", promptID).Error("Failed to interrupt timed out prompt")
	}

	return apperrors.New(apperrors.KindTransport, "await completion",
		fmt.Errorf("prompt %s did not complete within %s: %w", promptID, p.timeout, context.DeadlineExceeded))
}
