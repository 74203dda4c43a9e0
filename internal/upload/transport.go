package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/medscribe/scribe-service/internal/segment"
)

// Epoch represents the fragments drained between two flushes. Epochs carry a
// per-session sequence number so uploads can be correlated with flush order.
type Epoch struct {
	SessionID string
	Seq       uint64
	Fragments []segment.Fragment
	DrainedAt time.Time
}

// Size returns the total payload size of the epoch in bytes
func (e *Epoch) Size() int {
	total := 0
	for _, f := range e.Fragments {
		total += f.Size()
	}
	return total
}

// Payload concatenates the epoch's fragments in capture order
func (e *Epoch) Payload() []byte {
	buf := make([]byte, 0, e.Size())
	for _, f := range e.Fragments {
		buf = append(buf, f.Data...)
	}
	return buf
}

// UploadResult represents the orchestrator's response to an accepted segment
type UploadResult struct {
	Transcript string `json:"transcript"`
	RequestID  string `json:"request_id"`
}

// TransportError describes a failed upload attempt. StatusCode is zero when
// the request never produced an HTTP response.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload transport: %v", e.Err)
	}
	return fmt.Sprintf("upload transport: HTTP error %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed. Network failures,
// rate limiting and server errors qualify; other HTTP statuses do not.
func (e *TransportError) Retryable() bool {
	if e.Err != nil {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportConfig contains upload transport configuration
type TransportConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// Transport sends flushed epochs to the orchestrator as multipart uploads.
// The dispatcher guarantees at most one Send is active per session.
type Transport struct {
	config     TransportConfig
	httpClient *http.Client
}

// NewTransport creates an upload transport
func NewTransport(config TransportConfig) (*Transport, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Transport{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Send uploads one epoch and decodes the orchestrator's response. Failures
// surface as *TransportError so callers can classify them for retry.
func (t *Transport) Send(ctx context.Context, epoch *Epoch) (*UploadResult, error) {
	body, contentType, err := t.createMultipartRequest(epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Scribe-Recorder/1.0")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &result, nil
}

// createMultipartRequest builds the multipart/form-data body for one epoch
func (t *Transport) createMultipartRequest(epoch *Epoch) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := fmt.Sprintf("%s-%d.bin", epoch.SessionID, epoch.Seq)
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	for _, fragment := range epoch.Fragments {
		if _, err := fileWriter.Write(fragment.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write fragment data: %w", err)
		}
	}

	fields := map[string]string{
		"session_id":     epoch.SessionID,
		"epoch":          fmt.Sprintf("%d", epoch.Seq),
		"fragment_count": fmt.Sprintf("%d", len(epoch.Fragments)),
		"byte_size":      fmt.Sprintf("%d", epoch.Size()),
		"recorded_at":    epoch.DrainedAt.Format(time.RFC3339),
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// IsRetryable reports whether err is a transport failure worth retrying
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}
