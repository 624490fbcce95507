package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dripsend/dripsend/internal/config"
)

// HTTPChannel talks to a messaging gateway over HTTP: sends are POSTed to the
// gateway, acks come back on the gateway's webhook and are handed to
// HandleAck by the API layer, which fans them out to subscribers.
type HTTPChannel struct {
	url    string
	apiKey string
	client *http.Client

	mu   sync.Mutex
	subs []AckFunc
}

func NewHTTPChannel(cfg config.ChannelConfig) *HTTPChannel {
	return &HTTPChannel{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (c *HTTPChannel) Send(ctx context.Context, recipient, body, mediaURL string) (string, error) {
	if c.url == "" {
		return "", ErrNotReady
	}

	payload, err := json.Marshal(sendRequest{Recipient: recipient, Body: body, MediaURL: mediaURL})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dripsend/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("gateway response decode: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway returned no message id")
	}
	return out.ID, nil
}

func (c *HTTPChannel) Subscribe(fn AckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// HandleAck fans a gateway acknowledgment out to every subscriber. Called by
// the webhook handler.
func (c *HTTPChannel) HandleAck(ack Ack) {
	c.mu.Lock()
	subs := make([]AckFunc, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ack)
	}
}
