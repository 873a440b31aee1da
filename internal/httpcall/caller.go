// Package httpcall executes queued remote calls over HTTP.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront-services/internal/resilience"
)

const maxErrorBody = 512

type Caller struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewCaller resolves relative endpoints against baseURL. A zero timeout
// leaves requests bounded only by their context.
func NewCaller(baseURL string, timeout time.Duration, logger *zap.Logger) *Caller {
	return &Caller{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Call performs the request. Non-2xx responses are returned as
// *resilience.StatusError; transport failures are returned unchanged.
func (c *Caller) Call(ctx context.Context, call resilience.RemoteCall) (json.RawMessage, error) {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
		if len(call.Body) > 0 {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(call.Endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("remote call completed",
		zap.String("method", method),
		zap.String("endpoint", call.Endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &resilience.StatusError{Status: resp.StatusCode, Message: msg}
	}
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func (c *Caller) resolve(endpoint string) string {
	if c.baseURL == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}
