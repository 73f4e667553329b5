package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatrelay/internal/relay"
)

var ErrNoEndpoint = errors.New("no callback endpoint configured")

type endpointKey struct{}

// WithEndpoint attaches the delivery endpoint of the current gateway request
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, endpointKey{}, endpoint)
}

// EndpointFromContext returns the endpoint set by WithEndpoint, or ""
func EndpointFromContext(ctx context.Context) string {
	endpoint, _ := ctx.Value(endpointKey{}).(string)
	return endpoint
}

// CallbackClient delivers to connections held by the external connection
// gateway by posting to {endpoint}/@connections/{id}.
type CallbackClient struct {
	endpoint   string // fallback when the request context carries none
	httpClient *http.Client
}

// NewCallbackClient creates a delivery client; timeout bounds each delivery
func NewCallbackClient(endpoint string, timeout time.Duration) *CallbackClient {
	return &CallbackClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts payload to the gateway. 2xx is delivered, 410 is Gone, every
// other status or transport failure is transient.
func (c *CallbackClient) Send(ctx context.Context, targetID string, payload []byte) error {
	endpoint := EndpointFromContext(ctx)
	if endpoint == "" {
		endpoint = c.endpoint
	}
	if endpoint == "" {
		return ErrNoEndpoint
	}

	target := strings.TrimRight(endpoint, "/") + "/@connections/" + url.PathEscape(targetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone:
		return fmt.Errorf("connection %s: status %d: %w", targetID, resp.StatusCode, relay.ErrGone)
	default:
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
}
