package notification

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// relayMessage is the wire form an HTTP relay accepts.
type relayMessage struct {
	Protocol   string `json:"protocol"`
	Recipient  string `json:"recipient"`
	Ciphertext string `json:"ciphertext"`
}

// HTTPRelay publishes envelopes to a relay's HTTP ingestion endpoint.
type HTTPRelay struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRelay creates a relay transport for the given endpoint URL. The
// client's own timeout stays unset; attempt deadlines come from the
// publisher's per-attempt context.
func NewHTTPRelay(endpoint string, client *http.Client) *HTTPRelay {
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPRelay{endpoint: endpoint, client: client}
}

// Publish POSTs the envelope to the relay. Any non-2xx response is a
// rejection.
func (r *HTTPRelay) Publish(ctx context.Context, env *interfaces.Envelope) error {
	body, err := json.Marshal(&relayMessage{
		Protocol:   env.Protocol.String(),
		Recipient:  env.Recipient.String(),
		Ciphertext: base64.StdEncoding.EncodeToString(env.Ciphertext),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize relay message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay rejected message: status %d", resp.StatusCode)
	}
	return nil
}

// Endpoint returns the relay's URL.
func (r *HTTPRelay) Endpoint() string {
	return r.endpoint
}
