// Package upstream wraps outbound HTTP calls with the bounded retry policy
// shared by the Vault and Moodle clients. Transport failures and 5xx
// responses are retried with exponential backoff; 4xx-class responses are
// business failures and are returned immediately, never retried.
package upstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 2
	defaultInitialInterval = 100 * time.Millisecond

	// maxBodyBytes caps how much of an upstream response body is read.
	maxBodyBytes = 1 << 20 // 1 MB
)

// Config tunes the retry policy.
type Config struct {
	Timeout         time.Duration // Per-attempt HTTP timeout. 0 = 10s.
	MaxRetries      int           // Retries after the first attempt. Negative = 0 (no retries).
	InitialInterval time.Duration // First backoff interval. 0 = 100ms.
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c Config) maxTries() uint {
	if c.MaxRetries < 0 {
		return 1
	}
	return uint(c.MaxRetries) + 1
}

func (c Config) initialInterval() time.Duration {
	if c.InitialInterval > 0 {
		return c.InitialInterval
	}
	return defaultInitialInterval
}

// Recorder observes completed upstream calls. Implemented by the metrics
// collector; nil disables recording.
type Recorder interface {
	RecordUpstream(service, status string, seconds float64)
}

// Client is a retrying HTTP client. Safe for concurrent use; one instance is
// shared by all requests so upstream connections are pooled.
type Client struct {
	http     *http.Client
	cfg      Config
	service  string
	recorder Recorder
}

// NewClient creates a retrying client around its own pooled http.Client.
func NewClient(cfg Config) *Client {
	return &Client{
		http: &http.Client{Timeout: cfg.timeout()},
		cfg:  cfg,
	}
}

// NewClientWith wraps an existing http.Client. Used by tests to inject
// httptest transports.
func NewClientWith(httpClient *http.Client, cfg Config) *Client {
	return &Client{http: httpClient, cfg: cfg}
}

// WithRecorder returns a copy of the client that reports each completed call
// under the given service label. The underlying http.Client and its
// connection pool are shared with the original.
func (c *Client) WithRecorder(service string, rec Recorder) *Client {
	clone := *c
	clone.service = service
	clone.recorder = rec
	return &clone
}

// Do sends the request, retrying transport failures and 5xx responses.
// The request context cancels both backoff waits and in-flight attempts, so
// an abandoned inbound request does not keep hitting the upstream.
//
// A 5xx response that survives all retries is returned as a response, not an
// error — callers normalize upstream statuses themselves.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.do(req)
	if c.recorder != nil {
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		c.recorder.RecordUpstream(c.service, status, time.Since(start).Seconds())
	}
	return resp, err
}

// do runs the retry loop for one logical call.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	// Later attempts need a fresh body.
	if req.Body != nil && req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}

	var lastServerErr *http.Response

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.initialInterval()

	resp, err := backoff.Retry(req.Context(), func() (*http.Response, error) {
		attempt, err := cloneRequest(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.http.Do(attempt)
		if err != nil {
			return nil, err // transport failure, retryable
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			buffered, err := bufferResponse(resp)
			if err != nil {
				return nil, err
			}
			lastServerErr = buffered
			return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}

		return resp, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.cfg.maxTries()),
	)
	if err != nil {
		if lastServerErr != nil {
			return lastServerErr, nil
		}
		return nil, err
	}
	return resp, nil
}

// ReadBody drains a response body with the standard size cap.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	return body, nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	attempt := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		attempt.Body = body
	}
	return attempt, nil
}

// bufferResponse reads the body into memory so the response outlives the
// retry loop that produced it.
func bufferResponse(resp *http.Response) (*http.Response, error) {
	body, err := ReadBody(resp)
	if err != nil {
		return nil, err
	}
	buffered := *resp
	buffered.Body = io.NopCloser(bytes.NewReader(body))
	return &buffered, nil
}
