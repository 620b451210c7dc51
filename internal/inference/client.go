// Package inference sends single-turn prompts to a hosted chat-completions
// endpoint and turns the response body into display text.
package inference

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultMaxResponseSize caps how much of a response body is read.
const DefaultMaxResponseSize = 10 << 20

// ErrResponseTooLarge is returned when a response body exceeds the configured
// maximum size.
var ErrResponseTooLarge = errors.New("completion response too large")

// Completer turns one user message into one display string.
type Completer interface {
	Complete(ctx context.Context, credential, content string) (string, error)
}

// ChatMessage is a single entry in the outbound messages list.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON body posted to the completions endpoint.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// Client posts chat requests to a fixed endpoint with a fixed model.
type Client struct {
	endpoint        string
	model           string
	httpClient      *http.Client
	maxResponseSize int64
	logger          *slog.Logger
}

// Ensure Client implements Completer.
var _ Completer = (*Client)(nil)

// NewClient creates a client for the given endpoint URL and model identifier.
// The underlying http.Client has no timeout; a hung call stays outstanding
// until ctx is done.
func NewClient(endpoint, model string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxResponseSize: DefaultMaxResponseSize,
		logger:          slog.Default(),
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithMaxResponseSize sets the response body read limit.
func (c *Client) WithMaxResponseSize(n int64) *Client {
	if n > 0 {
		c.maxResponseSize = n
	}
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Complete sends content as the only user message and returns the extracted
// reply. HTTP status codes are not inspected: any body that parses as JSON is
// run through the extraction chain, and any body that does not is reported as
// a *MalformedBodyError.
func (c *Client) Complete(ctx context.Context, credential, content string) (string, error) {
	payload, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: []ChatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Completion request failed",
			"model", c.model,
			"credential", Fingerprint(credential),
			"duration", time.Since(start),
			"error", err,
		)
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close completion response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if int64(len(raw)) > c.maxResponseSize {
		c.logger.Warn("Completion response exceeded size limit",
			"model", c.model,
			"status", resp.StatusCode,
			"limit", c.maxResponseSize,
		)
		return "", fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, c.maxResponseSize)
	}

	c.logger.Info("Completion response received",
		"model", c.model,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration", time.Since(start),
	)

	text, err := ParseResponse(raw)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Fingerprint returns a short, non-reversible identifier for a credential so
// it can appear in logs without exposing any part of it.
func Fingerprint(credential string) string {
	if credential == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:4])
}
