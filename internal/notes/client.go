package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Generator produces a clinical note from a fully built prompt. The returned
// result carries the collaborator's text unmodified.
type Generator interface {
	GenerateNote(ctx context.Context, prompt string) (*Result, error)
	Close() error
}

// Result represents one note-generation response
type Result struct {
	Note       string `json:"note"`
	TokensUsed int    `json:"tokens_used"`
}

// APIError describes a note-generation collaborator request that failed with
// an HTTP status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Retryable reports whether a later attempt may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config contains note-generation client configuration
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the note-generation collaborator over its chat-completions
// API. Requests use temperature zero so the collaborator sees the exact same
// task for the exact same transcript.
type Client struct {
	config      Config
	httpClient  *http.Client
	backoffBase time.Duration

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	totalTokens     uint64

	mu sync.RWMutex
}

// GeneratorStats represents note-generation client statistics
type GeneratorStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	TotalTokens     uint64  `json:"total_tokens"`
}

// chatRequest mirrors the collaborator's chat-completions request body
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse mirrors the collaborator's chat-completions response body
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient creates a note-generation client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = "gpt-3.5-turbo"
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		backoffBase: time.Second,
	}, nil
}

// GenerateNote sends one prompt to the collaborator and returns the generated
// note text with the token usage it reported
func (c *Client) GenerateNote(ctx context.Context, prompt string) (*Result, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is empty")
	}

	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffBase
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.doRequest(ctx, prompt)
		if err == nil {
			c.mu.Lock()
			c.successRequests++
			c.totalTokens += uint64(result.TokensUsed)
			c.mu.Unlock()
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			break
		}
	}

	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()

	return nil, lastErr
}

// doRequest performs a single chat-completions request
func (c *Client) doRequest(ctx context.Context, prompt string) (*Result, error) {
	endpoint, err := c.buildURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build request URL: %w", err)
	}

	reqBody := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("note generation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("unexpected response format: no completion choices")
	}

	return &Result{
		Note:       chatResp.Choices[0].Message.Content,
		TokensUsed: chatResp.Usage.TotalTokens,
	}, nil
}

// buildURL attaches the chat-completions path to the endpoint
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return "", err
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/completions"

	return u.String(), nil
}

// newStatusError maps a collaborator HTTP status to a caller-facing error
func newStatusError(statusCode int, body string) *APIError {
	switch statusCode {
	case http.StatusUnauthorized:
		return &APIError{StatusCode: statusCode, Message: "Authentication failed. Check your API key."}
	case http.StatusBadRequest:
		return &APIError{StatusCode: statusCode, Message: fmt.Sprintf("Bad request: %s", body)}
	case http.StatusTooManyRequests:
		return &APIError{StatusCode: statusCode, Message: "Rate limit exceeded. Try again later."}
	default:
		return &APIError{StatusCode: statusCode, Message: fmt.Sprintf("Note generation API error %d: %s", statusCode, body)}
	}
}

// isRetryable reports whether the error is worth another attempt
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused")
}

// GetStats returns current client statistics
func (c *Client) GetStats() GeneratorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return GeneratorStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		TotalTokens:     c.totalTokens,
	}
}

// Close shuts down the client. Requests are synchronous, so there is nothing
// persistent to release.
func (c *Client) Close() error {
	return nil
}
