package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	json "github.com/goccy/go-json"
)

// jsonAPI is the shared transport for HTTP email APIs.
type jsonAPI struct {
	client   *http.Client
	logger   *slog.Logger
	name     string
	endpoint string
	auth     func(*http.Request)
	attempts uint
	delay    time.Duration
}

// post sends in as JSON and decodes a 2xx response into out. 429 and 5xx are
// retried; other 4xx responses fail immediately.
func (a *jsonAPI) post(ctx context.Context, to string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			a.logger.Info(a.name+" API request starting", "method", "POST", "endpoint", a.endpoint, "to", to)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(data))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			a.auth(req)

			resp, err := a.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				a.logger.Warn(a.name+" API request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					a.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
				if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				a.logger.Warn(a.name+" API returned non-2xx status, will retry", "status_code", resp.StatusCode, "to", to)
				return err
			}

			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
				}
			}

			a.logger.Info(a.name+" API request completed",
				"endpoint", a.endpoint,
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(a.attempts),
		retry.Delay(a.delay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(a.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Info("Retrying "+a.name+" email send after error", "attempt", n, "error", err)
		}),
	)
}
