package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/BadgerOps/liveinstall/internal/safety"
)

// DefaultMaxBytes bounds a fetched preseed file.
const DefaultMaxBytes = 4 << 20

// FetchOptions contains configuration for a single fetch.
type FetchOptions struct {
	URL              string
	ExpectedChecksum string // SHA256 hex string, empty to skip validation
	MaxBytes         int64  // 0 defaults to DefaultMaxBytes
	RetryCount       int    // 0 defaults to 3
}

// FetchResult contains the result of a successful fetch.
type FetchResult struct {
	Data     []byte
	SHA256   string        // SHA256 checksum in hex
	Attempts int           // Number of attempts made
	Duration time.Duration // Total fetch duration
}

// Client fetches small files over HTTP with retries and validation.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a new client with the given logger.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  safety.NewHTTPClient(time.Minute),
		logger:      logger,
		userAgent:   "liveinstall/1.0",
		backoffFunc: calculateBackoffDelay,
	}
}

// Fetch downloads opts.URL into memory. Transient failures are retried with
// exponential backoff; client errors and checksum mismatches are not.
func (c *Client) Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	if _, err := safety.ValidateHTTPURL(opts.URL); err != nil {
		return nil, err
	}
	if opts.RetryCount == 0 {
		opts.RetryCount = 3
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	want := strings.ToLower(strings.TrimSpace(opts.ExpectedChecksum))

	startTime := time.Now()
	var lastErr error

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch cancelled: %w", err)
		}

		data, err := c.fetchAttempt(ctx, opts)
		if err == nil {
			sum := sha256.Sum256(data)
			got := hex.EncodeToString(sum[:])
			if want != "" && got != want {
				return nil, &ChecksumError{URL: opts.URL, Got: got, Expected: want}
			}
			return &FetchResult{
				Data:     data,
				SHA256:   got,
				Attempts: attempt,
				Duration: time.Since(startTime),
			}, nil
		}

		lastErr = err
		c.logger.Warn("fetch attempt failed", "url", opts.URL, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if shouldNotRetry(err) {
			return nil, err
		}

		if attempt < opts.RetryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying fetch", "url", opts.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", opts.RetryCount, lastErr)
}

func (c *Client) fetchAttempt(ctx context.Context, opts FetchOptions) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := safety.ReadAllWithLimit(resp.Body, 4096)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
	if resp.ContentLength > opts.MaxBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", opts.URL, resp.ContentLength, safety.ErrBodyTooLarge)
	}

	data, err := safety.ReadAllWithLimit(resp.Body, opts.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", opts.URL, err)
	}
	return data, nil
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 4xx except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}
	return errors.Is(err, safety.ErrBodyTooLarge)
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// ChecksumError means the fetched content does not match the expected
// digest.
type ChecksumError struct {
	URL      string
	Got      string
	Expected string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: got %s, expected %s", e.URL, e.Got, e.Expected)
}
