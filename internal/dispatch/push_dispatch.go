package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookPusher posts notifications for users without a live websocket
// session to a provider endpoint.
type WebhookPusher struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookPusher(endpoint string) *WebhookPusher {
	return &WebhookPusher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

type webhookPayload struct {
	UserID  string  `json:"user_id"`
	Message Message `json:"message"`
}

func (p *WebhookPusher) Push(ctx context.Context, userID string, msg Message) error {
	b, err := json.Marshal(webhookPayload{UserID: userID, Message: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
