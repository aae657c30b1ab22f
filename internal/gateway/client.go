// Package gateway is the HTTP client for the messaging platform: reply
// and push delivery plus image content download.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/service"
)

// maxImageBytes caps a downloaded image; anything bigger is not a
// receipt photo.
const maxImageBytes = 10 << 20

// Client implements service.MessageGateway and service.ImageStore
// against the platform's REST API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New creates a platform client. token is the channel access token.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   token,
	}
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply answers the inbound message identified by the reply token.
// Reply tokens are short-lived on the platform side; callers fall back
// to Push when this fails.
func (c *Client) Reply(ctx context.Context, reply service.ReplyContext, text string) error {
	body := replyRequest{
		ReplyToken: reply.ReplyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/reply", body)
}

// Push sends a direct message to the user.
func (c *Client) Push(ctx context.Context, ownerID, text string) error {
	body := pushRequest{
		To:       ownerID,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/push", body)
}

// Fetch downloads the raw content of an inbound image message.
func (c *Client) Fetch(ctx context.Context, imageRef string) ([]byte, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.baseURL, imageRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching content %s: %w", imageRef, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content fetch for %s returned %d", imageRef, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", imageRef, err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	return common.WithRetry(ctx, func() error {
		return c.postOnce(ctx, path, payload)
	}, common.RetryOptions{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond})
}

func (c *Client) postOnce(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &common.RetryableError{Err: err, Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", path, common.ErrRateLimit)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	default:
		// Client errors will not improve on retry.
		return &common.RetryableError{
			Err:       fmt.Errorf("%s returned %d", path, resp.StatusCode),
			Retryable: false,
		}
	}
}
