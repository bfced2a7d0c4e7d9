// Package callback implements the outbound HTTP client that notifies a
// call's callback_host:callback_port of detector results, grounded on
// original_source/src/http_clients/base_client.py's BaseClient.send and
// its ApiRequest defaults (3 attempts, linear backoff, x-api-id /
// x-duration-warning headers, {200,201,204,404} treated as success).
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

var acceptedStatusCodes = map[int]bool{
	http.StatusOK:       true,
	http.StatusCreated:  true,
	http.StatusNoContent: true,
	http.StatusNotFound:  true,
}

const (
	attempts        = 3
	requestTimeout  = 10 * time.Second
	durationWarning = 1 * time.Second
)

// Client posts detection-result notifications to one callback endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *xlog.Logger
	metrics *metrics.Metrics
}

// New constructs a Client targeting http://host:port.
func New(host string, port int, log *xlog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{Timeout: requestTimeout},
		log:     log,
		metrics: m,
	}
}

// Notify posts body as JSON to path, retrying up to `attempts` times with
// linear backoff (sleep(attempt) seconds), per BaseClient.send. event is
// used only to label metrics.
func (c *Client) Notify(ctx context.Context, event, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("callback: marshal body: %w", err)
	}

	apiID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if c.metrics != nil {
			c.metrics.CallbackAttempts.WithLabelValues(event).Inc()
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("callback: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-id", apiID)
		req.Header.Set("x-duration-warning", durationWarning.String())

		resp, err := c.http.Do(req)
		elapsed := time.Since(start)
		if elapsed > durationWarning {
			c.log.Printf("Huge time=%s request to %s", elapsed, path)
		}

		if err != nil {
			lastErr = err
			c.log.Printf("callback attempt %d to %s failed: %v", attempt, path, err)
			sleepBackoff(ctx, attempt)
			continue
		}

		resp.Body.Close()
		if acceptedStatusCodes[resp.StatusCode] {
			return nil
		}

		lastErr = fmt.Errorf("callback: unexpected status %d", resp.StatusCode)
		c.log.Printf("callback attempt %d to %s: %v", attempt, path, lastErr)
		sleepBackoff(ctx, attempt)
	}

	if c.metrics != nil {
		c.metrics.CallbackFailures.WithLabelValues(event).Inc()
	}
	return lastErr
}

func sleepBackoff(ctx context.Context, attempt int) {
	if attempt <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(attempt) * time.Second):
	case <-ctx.Done():
	}
}
