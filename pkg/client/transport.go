// Package client is the capture-side SDK: programs record events locally
// and a background batcher ships them to the ingest endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the wire shape a capture client submits. Timestamp is epoch
// seconds; zero means the server assigns receipt time.
type Event struct {
	Source    string          `json:"source"`
	Type      string          `json:"action_type"`
	Timestamp float64         `json:"timestamp,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// Transport delivers event batches.
type Transport interface {
	Send(ctx context.Context, events []Event) error
}

// HTTPTransport implements Transport against the /v1/actions endpoint.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP creates an HTTP transport.
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts a batch to the ingest endpoint. Per-event rejections are the
// server's call and do not fail the batch; only transport-level and
// whole-request failures do.
func (t *HTTPTransport) Send(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	payload := map[string]interface{}{
		"actions": events,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return nil
}
