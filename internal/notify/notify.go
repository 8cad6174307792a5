package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the terminal-outcome payload posted to the configured webhook.
type Event struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	TxHash  string `json:"txHash,omitempty"`
	TokenID string `json:"tokenId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Webhook posts terminal order outcomes to an operator-configured URL.
// Delivery is best effort; callers fire it from a goroutine and only log
// failures.
type Webhook struct {
	URL    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	if w == nil || w.URL == "" {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
