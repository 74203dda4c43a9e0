package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig contains websocket transcription client configuration
type StreamConfig struct {
	URL        string
	SampleRate int
	ChunkSize  int
	Timeout    time.Duration
}

// StreamClient implements Transcriber against a websocket recognition server.
// Each call dials a fresh connection, announces the sample rate, streams the
// audio in fixed-size chunks, signals end of stream and collects the final
// results until the server closes the socket.
type StreamClient struct {
	config StreamConfig
	dialer *websocket.Dialer

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// streamResult mirrors the recognition server's result messages
type streamResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

type streamOutcome struct {
	transcript string
	err        error
}

// NewStreamClient creates a websocket transcription client
func NewStreamClient(config StreamConfig) (*StreamClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = 8192
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &StreamClient{
		config: config,
		dialer: websocket.DefaultDialer,
	}, nil
}

// Transcribe streams one audio segment through the recognition server and
// returns the joined final results as a single line
func (s *StreamClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}

	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()

	startTime := time.Now()

	conn, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		s.recordFailure()
		return "", fmt.Errorf("failed to connect to recognition server: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.config.Timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	outcome := make(chan streamOutcome, 1)
	go s.collectResults(conn, outcome)

	if err := conn.WriteJSON(map[string]any{
		"config": map[string]any{"sample_rate": s.config.SampleRate},
	}); err != nil {
		s.recordFailure()
		return "", fmt.Errorf("failed to send stream config: %w", err)
	}

	for offset := 0; offset < len(audio); offset += s.config.ChunkSize {
		end := offset + s.config.ChunkSize
		if end > len(audio) {
			end = len(audio)
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, audio[offset:end]); err != nil {
			s.recordFailure()
			return "", fmt.Errorf("failed to stream audio chunk: %w", err)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		s.recordFailure()
		return "", fmt.Errorf("failed to signal end of stream: %w", err)
	}

	select {
	case result := <-outcome:
		if result.err != nil {
			s.recordFailure()
			return "", result.err
		}

		s.mu.Lock()
		s.successRequests++
		if s.avgResponseTime == 0 {
			s.avgResponseTime = time.Since(startTime)
		} else {
			s.avgResponseTime = (s.avgResponseTime + time.Since(startTime)) / 2
		}
		s.mu.Unlock()

		return result.transcript, nil
	case <-ctx.Done():
		s.recordFailure()
		return "", ctx.Err()
	}
}

// collectResults reads result messages until the server closes the socket,
// keeping only final segments
func (s *StreamClient) collectResults(conn *websocket.Conn, outcome chan<- streamOutcome) {
	var parts []string

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			clean := websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if clean || len(parts) > 0 {
				outcome <- streamOutcome{transcript: strings.Join(parts, " ")}
			} else {
				outcome <- streamOutcome{err: fmt.Errorf("recognition stream read failed: %w", err)}
			}
			return
		}

		var result streamResult
		if err := json.Unmarshal(message, &result); err != nil {
			continue
		}

		if result.Text != "" {
			parts = append(parts, result.Text)
		}
	}
}

func (s *StreamClient) recordFailure() {
	s.mu.Lock()
	s.failedRequests++
	s.mu.Unlock()
}

// GetStats returns current client statistics
func (s *StreamClient) GetStats() ClientStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if s.totalRequests > 0 {
		successRate = float64(s.successRequests) / float64(s.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		FailedRequests:  s.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: s.avgResponseTime,
	}
}

// Close shuts down the client. Connections are per-call, so there is nothing
// persistent to release.
func (s *StreamClient) Close() error {
	return nil
}
