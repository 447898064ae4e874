// Package webhook talks to the external workflow endpoint that generates replies.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/apperror"
)

const defaultMaxResponseBytes = 4 << 20

// Config describes the outbound endpoint.
type Config struct {
	BaseURL     string
	HistoryPath string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger

	// MaxResponseBytes bounds a webhook response body; larger bodies are an
	// upstream error. Defaults to 4 MiB.
	MaxResponseBytes int64
}

// User is the identity forwarded alongside a message.
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Payload is the body posted to the webhook.
type Payload struct {
	ChatInput string `json:"chatInput"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp string `json:"timestamp"`
	User      *User  `json:"user,omitempty"`
}

// HistoryEntry is one stored turn as returned by the history endpoint.
type HistoryEntry struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// Client issues a single synchronous call per operation and never retries.
type Client struct {
	baseURL     string
	historyPath string
	maxBytes    int64
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient builds a Client. An empty BaseURL yields a client that reports
// itself as unconfigured.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = "/webhook/chat-history"
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     strings.TrimSpace(cfg.BaseURL),
		historyPath: historyPath,
		maxBytes:    maxBytes,
		httpClient:  httpClient,
		logger:      logger.Named("webhook"),
	}
}

// Configured reports whether an endpoint URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Send posts payload to the webhook and decodes the reply.
func (c *Client) Send(ctx context.Context, payload Payload) (Reply, error) {
	if !c.Configured() {
		return Reply{}, apperror.Configuration("N8N_WEBHOOK_URL environment variable is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, apperror.Configuration(fmt.Sprintf("invalid webhook url: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	status, contentType, data, err := c.do(req)
	if err != nil {
		return Reply{}, err
	}
	c.logger.Debug("webhook replied",
		zap.String("sessionId", payload.SessionID),
		zap.Int("status", status),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(started)),
	)

	reply, err := DecodeReply(data)
	if err == nil {
		return reply, nil
	}
	if !errors.Is(err, errEmptyReply) && !isJSON(contentType) {
		return Reply{Kind: ReplyText, Text: strings.TrimSpace(string(data))}, nil
	}
	return Reply{}, apperror.Upstream(status, "webhook returned a malformed response", err)
}

// History fetches the stored turns of sessionID, newest first as returned by the source.
func (c *Client) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	if !c.Configured() {
		return nil, apperror.Configuration("N8N_WEBHOOK_URL environment variable is not configured")
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(c.historyPath, "/")
	endpoint += "?" + url.Values{"sessionId": {sessionID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperror.Configuration(fmt.Sprintf("invalid webhook url: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	status, _, data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperror.Upstream(status, "chat history response is not a list", err)
	}
	return entries, nil
}

func (c *Client) do(req *http.Request) (int, string, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", nil, apperror.Upstream(0, "webhook request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return resp.StatusCode, "", nil, apperror.Upstream(resp.StatusCode, "failed to read webhook response", err)
	}
	if int64(len(data)) > c.maxBytes {
		return resp.StatusCode, "", nil, apperror.Upstream(resp.StatusCode,
			fmt.Sprintf("webhook response exceeds %d bytes", c.maxBytes), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("webhook returned non-success status",
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
		)
		return resp.StatusCode, "", nil, apperror.Upstream(resp.StatusCode,
			fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil)
	}

	return resp.StatusCode, resp.Header.Get("Content-Type"), data, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
