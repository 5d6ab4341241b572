// Package fetch implements the retrying HTTP transport shared by the
// crawl engine, the attachment fetcher, and the document store client.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/metrics"
)

// Config controls retry, backoff, and self-throttling behavior.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	BackoffFactor   float64
	RequestInterval time.Duration
	UserAgent       string
	// Headers are applied to every request (auth keys and the like).
	Headers map[string]string
}

// Stats is a snapshot of the request counters for one client instance.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
}

// Client wraps an http.Client with bounded retries, exponential backoff,
// and a fixed inter-request delay against the remote source. A nil error
// from any method means the final response had a 2xx status.
type Client struct {
	http    *http.Client
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Set

	// sleep is injectable so tests can assert backoff schedules without
	// waiting wall-clock time.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// New builds a Client. The metrics set may be nil when observability is
// not wired (library use in tests).
func New(cfg Config, logger *zap.Logger, set *metrics.Set) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		logger:  logger,
		metrics: set,
		sleep:   sleepCtx,
	}
}

// Get fetches the URL with the retry policy and returns the body.
func (c *Client) Get(ctx context.Context, target string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, target, "", nil)
}

// PostForm posts the form values with the retry policy and returns the body.
func (c *Client) PostForm(ctx context.Context, target string, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, target, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// Post sends a raw payload with the retry policy and returns the body.
func (c *Client) Post(ctx context.Context, target, contentType string, payload []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, target, contentType, payload)
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Backoff returns the delay before retrying attempt (0-indexed):
// backoffFactor^attempt seconds.
func Backoff(factor float64, attempt int) time.Duration {
	return time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
}

func (c *Client) do(ctx context.Context, method, target, contentType string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		body, err := c.attempt(ctx, method, target, contentType, payload)
		if err == nil {
			// Self-throttle: fixed spacing after every successful fetch.
			if sleepErr := c.sleep(ctx, c.cfg.RequestInterval); sleepErr != nil {
				return body, nil
			}
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, ctx.Err())
		}
		if attempt == c.cfg.MaxRetries-1 {
			break
		}
		wait := Backoff(c.cfg.BackoffFactor, attempt)
		c.logger.Warn("request failed, retrying",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, sleepErr)
		}
	}
	c.logger.Error("request failed after retries",
		zap.String("url", target),
		zap.Int("max_retries", c.cfg.MaxRetries),
		zap.Error(lastErr))
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, target, c.cfg.MaxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, target, contentType string, payload []byte) ([]byte, error) {
	c.countAttempt()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		c.countFailure()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.countFailure()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		c.countFailure()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countFailure()
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.countSuccess()
	return body, nil
}

// StreamResponse is one non-retried streaming attempt against a binary
// resource. The caller owns Body and must close it.
type StreamResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	StatusCode    int
}

// Stream performs a single GET attempt without the retry loop, for
// callers that retry at a coarser granularity (whole-download restarts).
func (c *Client) Stream(ctx context.Context, target string) (*StreamResponse, error) {
	c.countAttempt()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.countFailure()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.countFailure()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		c.countFailure()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	c.countSuccess()
	return &StreamResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		StatusCode:    resp.StatusCode,
	}, nil
}

// Pause applies the configured inter-request interval. Exposed for
// callers that stream responses and therefore throttle themselves after
// the body is fully consumed.
func (c *Client) Pause(ctx context.Context) {
	_ = c.sleep(ctx, c.cfg.RequestInterval)
}

func (c *Client) countAttempt() {
	c.mu.Lock()
	c.stats.TotalRequests++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RequestsTotal.Inc()
	}
}

func (c *Client) countSuccess() {
	c.mu.Lock()
	c.stats.SuccessfulRequests++
	c.mu.Unlock()
}

func (c *Client) countFailure() {
	c.mu.Lock()
	c.stats.FailedRequests++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RequestErrorsTotal.Inc()
	}
}

// StatusError reports a non-2xx response status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithSleep overrides the sleep function, for tests.
func (c *Client) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = fn
	return c
}
