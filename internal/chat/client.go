// Package chat implements the client for the chat notification sink.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"
)

// Block is one structured block attached to a message, for sinks that
// render rich layouts alongside the plain text.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Client posts messages to the chat sink. One instance exists per process.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

type postMessageRequest struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// NewClient creates a chat client. Returns nil when no sink is configured;
// a nil client silently drops messages so notification plumbing stays
// optional in development.
func NewClient(cfg config.ChatConfig, log *logger.Logger) *Client {
	if cfg.GetChatBaseURL() == "" {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetChatBaseURL(), "/"),
		token:   cfg.GetChatToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// PostMessage sends a message to a channel and returns the sink's message id.
func (c *Client) PostMessage(ctx context.Context, channel, text string, blocks ...Block) (string, error) {
	if c == nil {
		return "", nil
	}

	payload := postMessageRequest{
		Channel: channel,
		Text:    text,
		Blocks:  blocks,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat.postMessage", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat sink returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	c.log.Debug("chat message posted", "channel", channel, "message_id", out.MessageID)
	return out.MessageID, nil
}
