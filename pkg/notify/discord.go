package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DiscordClient posts match notifications to a Discord webhook.
type DiscordClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscordClient creates a Discord webhook notifier. A zero timeout
// falls back to 10 seconds.
func NewDiscordClient(webhookURL string, timeout time.Duration) *DiscordClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the message text to the webhook. Discord answers a
// successful webhook execution with 204 No Content.
func (c *DiscordClient) Send(msg Message) error {
	payload, err := json.Marshal(map[string]string{"content": msg.Text})
	if err != nil {
		return fmt.Errorf("failed to encode discord payload: %w", err)
	}

	resp, err := c.httpClient.Post(c.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to post to discord: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord returned status %d", resp.StatusCode)
	}
	return nil
}
