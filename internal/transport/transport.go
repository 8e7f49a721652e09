package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/config"
)

// maxErrorBody limits how much of a failed response body is kept in the error
const maxErrorBody = 512

// RequestFunc builds a fresh request for every attempt so bodies can be replayed
type RequestFunc func(ctx context.Context) (*http.Request, error)

// RetryHook is called before every wait between two attempts
type RetryHook func(attempt int, err error, wait time.Duration)

// StatusError non-2xx response from the remote server
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Transport HTTP client that retries every failed call a fixed number of times
// with a fixed delay. All failures are treated as retryable.
type Transport struct {
	httpClient *http.Client
	maxRetries int
	delay      time.Duration
	logger     *logrus.Logger
	onRetry    RetryHook
}

// Option configures a Transport
type Option func(*Transport)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithRetryHook registers a hook observing every retry wait
func WithRetryHook(hook RetryHook) Option {
	return func(t *Transport) {
		t.onRetry = hook
	}
}

// WithLogger replaces the default logger
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New creates a transport from the retry policy and request timeout
func New(retry config.RetryConfig, timeout time.Duration, opts ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retry.MaxRetries,
		delay:      retry.Delay,
		logger:     config.NewLogger(),
	}
	if t.maxRetries < 1 {
		t.maxRetries = 1
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do performs the request built by build, retrying on transport errors and
// non-2xx statuses. On success the caller owns the response body.
func (t *Transport) Do(ctx context.Context, method, url string, build RequestFunc) (*http.Response, error) {
	var (
		resp    *http.Response
		attempt int
	)

	operation := func() error {
		attempt++
		r, err := t.attempt(ctx, build)
		if err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"method":      method,
				"url":         url,
				"attempt":     attempt,
				"max_retries": t.maxRetries,
			}).Warnf("[%s] Attempt %d/%d failed", method, attempt, t.maxRetries)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.delay), uint64(t.maxRetries-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		if t.onRetry != nil {
			t.onRetry(attempt, err, wait)
		}
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, apperrors.New(apperrors.KindTransport, method+" "+url, err)
	}
	return resp, nil
}

func (t *Transport) attempt(ctx context.Context, build RequestFunc) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	return resp, nil
}

// Get performs a retried GET request
func (t *Transport) Get(ctx context.Context, url string) (*http.Response, error) {
	return t.Do(ctx, http.MethodGet, url, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

// Post performs a retried POST request, replaying body on every attempt
func (t *Transport) Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	return t.Do(ctx, http.MethodPost, url, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req, nil
	})
}
