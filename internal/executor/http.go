package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// CallbackBaseURL is the public base of this service; per-call event URLs are derived from it.
	CallbackBaseURL string

	Timeout         time.Duration
	MaxRetryElapsed time.Duration
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	out := c
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	out.CallbackBaseURL = strings.TrimRight(out.CallbackBaseURL, "/")
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.MaxRetryElapsed <= 0 {
		out.MaxRetryElapsed = 20 * time.Second
	}
	return out
}

// HTTPClient talks to an executor over JSON/HTTP.
//
//	POST {base}/v1/calls   StartRequest -> StartResult
//	GET  {base}/healthz
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
	log  *slog.Logger
}

func NewHTTPClient(cfg HTTPConfig, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("component", "executor"),
	}
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("executor health: status %d", resp.StatusCode)
	}
	return nil
}

// StartCall posts the request, retrying transport errors and 5xx/429 responses
// with exponential backoff. 4xx responses are permanent and wrap ErrRejected.
func (c *HTTPClient) StartCall(ctx context.Context, in StartRequest) (StartResult, error) {
	if c.cfg.BaseURL == "" {
		return StartResult{}, ErrNotConfigured
	}
	if in.CallbackURL == "" && c.cfg.CallbackBaseURL != "" {
		in.CallbackURL = c.cfg.CallbackBaseURL + "/executor/sessions/" + in.CallID
	}
	body, err := json.Marshal(in)
	if err != nil {
		return StartResult{}, backoff.Permanent(err)
	}

	var out StartResult
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/calls", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", in.CallID)
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn("start call attempt failed", "call_id", in.CallID, "attempt", attempt, "err", err)
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.Unmarshal(raw, &out); err != nil {
				return backoff.Permanent(fmt.Errorf("executor: decode response: %w", err))
			}
			if out.SessionID == "" {
				return backoff.Permanent(errors.New("executor: response missing session_id"))
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.log.Warn("start call attempt failed", "call_id", in.CallID, "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("executor: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw))))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.cfg.MaxRetryElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return StartResult{}, err
	}
	return out, nil
}
