package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

// DefaultMaxTries bounds how often a transient or throttled request is sent.
const DefaultMaxTries = 4

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the API base URL, e.g. http://localhost:8000.
	URL string

	// Username and Password enable basic auth when set.
	Username string
	Password string

	// RequestTimeout bounds each attempt.
	RequestTimeout time.Duration

	// MaxTries bounds attempts per request. Zero means DefaultMaxTries.
	MaxTries uint

	// InitialInterval is the first backoff delay. Zero uses the backoff default.
	InitialInterval time.Duration
}

// Client calls the connector platform API. Every endpoint is a POST with a
// JSON body.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates an API client.
func NewClient(config ClientConfig) *Client {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.MaxTries == 0 {
		config.MaxTries = DefaultMaxTries
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.RequestTimeout},
	}
}

// Request posts body to endpoint and decodes the response into out, which
// may be nil. Transient and throttled failures are retried with exponential
// backoff.
func (c *Client) Request(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return engine.NewPermanentError("failed to encode request", err).
			WithResource(endpoint).
			WithOperation("request")
	}

	expBackoff := backoff.NewExponentialBackOff()
	if c.config.InitialInterval > 0 {
		expBackoff.InitialInterval = c.config.InitialInterval
	}

	logger := telemetry.FromContext(ctx).WithField("endpoint", endpoint)

	data, err := backoff.Retry(ctx,
		func() ([]byte, error) {
			data, err := c.do(ctx, endpoint, payload)
			if err == nil {
				return data, nil
			}
			if !engine.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.config.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithError(err).WithField("retry_in", next.String()).Warn("Connector request failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return engine.NewPermanentError("failed to decode response", err).
			WithResource(endpoint).
			WithOperation("request")
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	url := strings.TrimRight(c.config.URL, "/") + "/api/v1" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, engine.NewPermanentError("failed to build request", err).WithResource(endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engine.NewPermanentError("request canceled", err).
				WithCode(engine.ErrCodeCanceled).
				WithResource(endpoint)
		}
		return nil, engine.NewTransientError("request failed", err).
			WithCode(engine.ErrCodeTimeout).
			WithResource(endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewTransientError("failed to read response", err).WithResource(endpoint)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, classifyStatus(endpoint, resp, data)
}

// classifyStatus maps an HTTP failure to an engine error class: 5xx is
// transient, 429 throttled, 409 conflict and any other 4xx permanent.
func classifyStatus(endpoint string, resp *http.Response, body []byte) error {
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.NewThrottledError("rate limited", cause).
			WithCode(engine.ErrCodeRateLimited).
			WithResource(endpoint).
			WithDetail("retry_after", resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusConflict:
		return engine.NewConflictError("conflicting change", cause).
			WithCode(engine.ErrCodeConflict).
			WithResource(endpoint)
	case resp.StatusCode == http.StatusNotFound:
		return engine.NewPermanentError("not found", cause).
			WithCode(engine.ErrCodeNotFound).
			WithResource(endpoint)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return engine.NewPermanentError("permission denied", cause).
			WithCode(engine.ErrCodePermissionDenied).
			WithResource(endpoint)
	case resp.StatusCode >= 500:
		return engine.NewTransientError("server error", cause).
			WithCode(engine.ErrCodeInternal).
			WithResource(endpoint)
	default:
		return engine.NewPermanentError("request rejected", cause).
			WithCode(engine.ErrCodeValidation).
			WithResource(endpoint)
	}
}
