package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackClient posts match notifications to a Slack incoming webhook.
type SlackClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackClient creates a Slack webhook notifier. A zero timeout falls
// back to 10 seconds.
func NewSlackClient(webhookURL string, timeout time.Duration) *SlackClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the message text to the webhook. Slack answers a successful
// incoming-webhook call with 200 OK.
func (c *SlackClient) Send(msg Message) error {
	payload, err := json.Marshal(map[string]string{"text": msg.Text})
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	resp, err := c.httpClient.Post(c.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
