package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
)

const (
	defaultReplyURL = "https://api.line.me/v2/bot/message/reply"
	defaultTimeout  = 10 * time.Second

	// LINE allows far more; this only smooths bursts from one webhook.
	defaultRateLimit = 100
	defaultBurst     = 10
)

// Client calls the LINE reply API.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a reply client from cfg.
func NewClient(cfg config.LineConfig) *Client {
	url := cfg.ReplyURL
	if url == "" {
		url = defaultReplyURL
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:        url,
		token:      cfg.ChannelAccessToken.Value(),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []TextMessage `json:"messages"`
}

// Reply sends messages for replyToken.
func (c *Client) Reply(ctx context.Context, replyToken string, msgs ...TextMessage) error {
	if c.token == "" {
		return ErrNoAccessToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	body, err := json.Marshal(replyRequest{ReplyToken: replyToken, Messages: msgs})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reply request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reply API error (%d): %s", resp.StatusCode, string(data))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
