package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RemoteMessage is the chat service's wire shape. The service assigns
// numeric ids; json.Number keeps them usable as stable string keys.
type RemoteMessage struct {
	ID        json.Number `json:"id"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Message   string      `json:"message"`
	CreatedAt string      `json:"created_at"`
}

// ListMessages fetches the authoritative conversation log for a
// contact from the chat service.
func (c *Client) ListMessages(ctx context.Context, contactID string) ([]RemoteMessage, error) {
	q := url.Values{}
	q.Set("contact", contactID)
	endpoint := strings.TrimSuffix(c.cfg.ChatBaseURL, "/") + "/messages/?" + q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list messages: status %d", resp.StatusCode)
	}

	var msgs []RemoteMessage
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// PostMessage submits one outgoing message to the chat service. The
// sync engine calls this per outbox entry; an error means "not yet
// delivered", never a fatal condition.
func (c *Client) PostMessage(ctx context.Context, sender, receiver, text string) error {
	endpoint := strings.TrimSuffix(c.cfg.ChatBaseURL, "/") + "/messages/"

	body, err := json.Marshal(map[string]string{
		"sender":   sender,
		"receiver": receiver,
		"message":  text,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post message: status %d", resp.StatusCode)
	}
	return nil
}
