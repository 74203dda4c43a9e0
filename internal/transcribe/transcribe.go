package transcribe

import (
	"context"
	"fmt"
	"net/http"
)

// Transcriber converts one uploaded audio segment into transcript text. The
// returned transcript is always a single line.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Close() error
}

// APIError describes a transcription collaborator request that failed with
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
		return &APIError{StatusCode: statusCode, Message: fmt.Sprintf("Transcription API error %d: %s", statusCode, body)}
	}
}
