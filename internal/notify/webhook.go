package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookPublisher POSTs each event as JSON to an external endpoint, for
// example an SMS or signage gateway.
type WebhookPublisher struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookPublisher(url, token string) *WebhookPublisher {
	return &WebhookPublisher{url: url, token: token, client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", event.Type)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected event: status %d", resp.StatusCode)
	}
	return nil
}
