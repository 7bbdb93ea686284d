package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ClientConfig configures the HTTP messaging channel client.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// HTTPChannel is the Channel implementation talking to the messaging
// platform's REST API.
type HTTPChannel struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPChannel creates a messaging API client.
func NewHTTPChannel(cfg ClientConfig) *HTTPChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPChannel{
		baseURL: cfg.BaseURL,
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: timeout},
	}
}

type replyRequest struct {
	ReplyToken string    `json:"reply_token"`
	Messages   []Message `json:"messages"`
}

type pushRequest struct {
	To       string    `json:"to"`
	Messages []Message `json:"messages"`
}

// Reply implements Channel.
func (c *HTTPChannel) Reply(ctx context.Context, replyToken string, msgs []Message) error {
	return c.post(ctx, "/messages/reply", replyRequest{ReplyToken: replyToken, Messages: msgs})
}

// Push implements Channel.
func (c *HTTPChannel) Push(ctx context.Context, chatID string, msgs []Message) error {
	return c.post(ctx, "/messages/push", pushRequest{To: chatID, Messages: msgs})
}

// GetContent implements Channel. The caller closes the returned reader.
func (c *HTTPChannel) GetContent(ctx context.Context, messageID string) (io.ReadCloser, error) {
	path := fmt.Sprintf("/messages/%s/content", url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch content: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *HTTPChannel) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
