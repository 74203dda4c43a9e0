package transcribe

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

// Config contains batch transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Language      string
	ContentType   string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Client provides HTTP client functionality for the batch transcription
// collaborator. Audio is posted as a raw body; the response carries
// word-level results with speaker labels that are folded into a single
// diarized transcript line.
type Client struct {
	config      Config
	httpClient  *http.Client
	semaphore   chan struct{} // Rate limiting semaphore
	backoffBase time.Duration

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// apiResponse mirrors the collaborator's word-level response shape
type apiResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string    `json:"transcript"`
				Words      []apiWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type apiWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Speaker        int     `json:"speaker"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
}

// NewClient creates a batch transcription client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = "nova-2"
	}

	if config.Language == "" {
		config.Language = "hi"
	}

	if config.ContentType == "" {
		config.ContentType = "audio/mp4"
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	semaphore := make(chan struct{}, config.MaxConcurrent)

	return &Client{
		config:      config,
		httpClient:  httpClient,
		semaphore:   semaphore,
		backoffBase: time.Second,
	}, nil
}

// Transcribe sends one audio segment for transcription and returns the
// diarized single-line transcript
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffBase
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		transcript, err := c.doRequest(ctx, audio)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return transcript, nil
		}

		lastErr = err

		if !isRetryable(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return "", lastErr
}

// doRequest performs a single request to the transcription API
func (c *Client) doRequest(ctx context.Context, audio []byte) (string, error) {
	endpoint, err := c.buildURL()
	if err != nil {
		return "", fmt.Errorf("failed to build request URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Token "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", c.config.ContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newStatusError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if len(apiResp.Results.Channels) == 0 || len(apiResp.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("unexpected response format: no transcription results")
	}

	words := apiResp.Results.Channels[0].Alternatives[0].Words
	return formatTranscript(words), nil
}

// buildURL attaches the listen path and query parameters to the endpoint
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return "", err
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/v1/listen"

	query := u.Query()
	query.Set("diarize", "true")
	query.Set("punctuate", "true")
	query.Set("model", c.config.Model)
	query.Set("language", c.config.Language)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// formatTranscript folds word-level results into one line, grouping
// consecutive words by speaker:
//
//	Speaker 0: Hello, how are you feeling today. Speaker 1: Not great.
//
// Sentences are joined with single spaces, so the result never contains a
// newline and a line-oriented transcript log stays one line per segment.
func formatTranscript(words []apiWord) string {
	if len(words) == 0 {
		return ""
	}

	var sentences []string
	currentSpeaker := words[0].Speaker
	var currentWords []string

	flush := func() {
		if len(currentWords) > 0 {
			sentences = append(sentences,
				fmt.Sprintf("Speaker %d: %s.", currentSpeaker, strings.Join(currentWords, " ")))
		}
	}

	for _, w := range words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}

		if w.Speaker != currentSpeaker {
			flush()
			currentSpeaker = w.Speaker
			currentWords = currentWords[:0]
		}

		currentWords = append(currentWords, text)
	}
	flush()

	return strings.Join(sentences, " ")
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

	// Network/connection failures are wrapped plain errors
	errStr := err.Error()
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused")
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	activeRequests := len(c.semaphore)

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  activeRequests,
	}
}

// Close gracefully shuts down the client
func (c *Client) Close() error {
	// Wait for all active requests to complete
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
