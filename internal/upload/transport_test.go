package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medscribe/scribe-service/internal/segment"
)

func TestTransportSend(t *testing.T) {
	var receivedFile []byte
	var receivedSession string
	var receivedEpoch string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Failed to read file field: %v", err)
		}
		defer file.Close()

		receivedFile, _ = io.ReadAll(file)
		receivedSession = r.FormValue("session_id")
		receivedEpoch = r.FormValue("epoch")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(UploadResult{
			Transcript: "Speaker 0: hello.",
			RequestID:  "req-123",
		})
	}))
	defer server.Close()

	transport, err := NewTransport(TransportConfig{
		Endpoint: server.URL,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}

	epoch := &Epoch{
		SessionID: "session-1",
		Seq:       7,
		Fragments: []segment.Fragment{
			segment.NewFragment([]byte("abc")),
			segment.NewFragment([]byte("def")),
		},
		DrainedAt: time.Now(),
	}

	result, err := transport.Send(context.Background(), epoch)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if result.Transcript != "Speaker 0: hello." {
		t.Errorf("Expected transcript in result, got %q", result.Transcript)
	}

	if result.RequestID != "req-123" {
		t.Errorf("Expected request ID req-123, got %q", result.RequestID)
	}

	if !bytes.Equal(receivedFile, []byte("abcdef")) {
		t.Errorf("Expected concatenated payload 'abcdef', got %q", receivedFile)
	}

	if receivedSession != "session-1" {
		t.Errorf("Expected session_id field, got %q", receivedSession)
	}

	if receivedEpoch != "7" {
		t.Errorf("Expected epoch field 7, got %q", receivedEpoch)
	}
}

func TestTransportHTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			transport, err := NewTransport(TransportConfig{Endpoint: server.URL})
			if err != nil {
				t.Fatalf("Failed to create transport: %v", err)
			}

			epoch := &Epoch{
				SessionID: "s",
				Seq:       1,
				Fragments: []segment.Fragment{segment.NewFragment([]byte("x"))},
			}

			_, err = transport.Send(context.Background(), epoch)
			if err == nil {
				t.Fatalf("Expected error for status %d", tt.status)
			}

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Expected TransportError, got %T: %v", err, err)
			}

			if te.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, te.StatusCode)
			}

			if te.Retryable() != tt.retryable {
				t.Errorf("Expected retryable=%v for status %d", tt.retryable, tt.status)
			}
		})
	}
}

func TestTransportNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	transport, err := NewTransport(TransportConfig{Endpoint: endpoint, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}

	epoch := &Epoch{
		SessionID: "s",
		Seq:       1,
		Fragments: []segment.Fragment{segment.NewFragment([]byte("x"))},
	}

	_, err = transport.Send(context.Background(), epoch)
	if err == nil {
		t.Fatal("Expected error sending to closed server")
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %T: %v", err, err)
	}

	if te.Err == nil {
		t.Error("Expected wrapped network error")
	}

	if !te.Retryable() {
		t.Error("Expected network failure to be retryable")
	}

	if !IsRetryable(err) {
		t.Error("Expected IsRetryable to classify network failure as retryable")
	}
}

func TestNewTransportValidation(t *testing.T) {
	if _, err := NewTransport(TransportConfig{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestEpochPayload(t *testing.T) {
	epoch := &Epoch{
		SessionID: "s",
		Seq:       1,
		Fragments: []segment.Fragment{
			segment.NewFragment([]byte("one")),
			segment.NewFragment([]byte("-two-")),
			segment.NewFragment([]byte("three")),
		},
	}

	if epoch.Size() != 13 {
		t.Errorf("Expected size 13, got %d", epoch.Size())
	}

	if !bytes.Equal(epoch.Payload(), []byte("one-two-three")) {
		t.Errorf("Expected ordered concatenation, got %q", epoch.Payload())
	}
}
