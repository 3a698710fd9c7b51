package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SlackWebhook posts messages to a Slack channel through an incoming
// webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
	Client     *http.Client
}

func (s *SlackWebhook) Send(ctx context.Context, msg Message) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}

	text := msg.Title
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	for k, v := range msg.Fields {
		text += fmt.Sprintf("\n• %s: %s", k, v)
	}

	payload := map[string]any{"text": text}
	channel := msg.Channel
	if channel == "" {
		channel = s.Channel
	}
	if channel != "" {
		payload["channel"] = channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, perr := strconv.Atoi(v); perr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("slack returned 429")}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
