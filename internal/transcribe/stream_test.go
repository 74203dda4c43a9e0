package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// readUploadHalf consumes the client's side of the stream: the config frame,
// the binary audio chunks and the eof frame. It returns the reassembled audio
// and the size of each chunk as received.
func readUploadHalf(t *testing.T, conn *websocket.Conn, wantSampleRate int) ([]byte, []int) {
	t.Helper()

	var received []byte
	var chunkSizes []int
	sawConfig := false

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("Server read failed: %v", err)
			return received, chunkSizes
		}

		if msgType == websocket.BinaryMessage {
			received = append(received, message...)
			chunkSizes = append(chunkSizes, len(message))
			continue
		}

		if !sawConfig {
			var frame struct {
				Config struct {
					SampleRate int `json:"sample_rate"`
				} `json:"config"`
			}
			if err := json.Unmarshal(message, &frame); err != nil {
				t.Errorf("Failed to decode config frame: %v", err)
			}
			if frame.Config.SampleRate != wantSampleRate {
				t.Errorf("Expected sample rate %d in config frame, got %d", wantSampleRate, frame.Config.SampleRate)
			}
			sawConfig = true
			continue
		}

		if string(message) != `{"eof": 1}` {
			t.Errorf("Expected eof frame, got %q", message)
		}
		return received, chunkSizes
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamClientTranscribe(t *testing.T) {
	audio := []byte("0123456789")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		received, chunkSizes := readUploadHalf(t, conn, 8000)

		if !bytes.Equal(received, audio) {
			t.Errorf("Reassembled audio %q differs from payload %q", received, audio)
		}

		wantSizes := []int{4, 4, 2}
		if len(chunkSizes) != len(wantSizes) {
			t.Errorf("Expected %d chunks, got %v", len(wantSizes), chunkSizes)
		} else {
			for i, want := range wantSizes {
				if chunkSizes[i] != want {
					t.Errorf("Chunk %d: expected %d bytes, got %d", i, want, chunkSizes[i])
				}
			}
		}

		// Partial results and unparseable frames must not leak into the
		// transcript; only final text segments count.
		for _, msg := range []string{
			`{"partial": "first se"}`,
			`{"text": "first segment."}`,
			`not json`,
			`{"partial": "second"}`,
			`{"text": "second segment."}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				t.Errorf("Server write failed: %v", err)
				return
			}
		}

		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	defer server.Close()

	client, err := NewStreamClient(StreamConfig{
		URL:        wsURL(server),
		SampleRate: 8000,
		ChunkSize:  4,
	})
	if err != nil {
		t.Fatalf("Failed to create stream client: %v", err)
	}
	defer client.Close()

	transcript, err := client.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if transcript != "first segment. second segment." {
		t.Errorf("Unexpected transcript %q", transcript)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 successful request in stats, got %+v", stats)
	}
}

func TestStreamClientCleanCloseWithoutFinals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		readUploadHalf(t, conn, 16000)

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"partial": "nothing final"}`)); err != nil {
			t.Errorf("Server write failed: %v", err)
			return
		}

		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	defer server.Close()

	client, err := NewStreamClient(StreamConfig{URL: wsURL(server)})
	if err != nil {
		t.Fatalf("Failed to create stream client: %v", err)
	}
	defer client.Close()

	transcript, err := client.Transcribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("Expected clean close to succeed, got %v", err)
	}

	if transcript != "" {
		t.Errorf("Expected empty transcript for stream without finals, got %q", transcript)
	}
}

func TestStreamClientAbruptClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}

		readUploadHalf(t, conn, 16000)

		// Drop the connection without a close frame
		conn.Close()
	}))
	defer server.Close()

	client, err := NewStreamClient(StreamConfig{URL: wsURL(server)})
	if err != nil {
		t.Fatalf("Failed to create stream client: %v", err)
	}
	defer client.Close()

	_, err = client.Transcribe(context.Background(), []byte("audio"))
	if err == nil {
		t.Fatal("Expected error for abrupt connection loss")
	}

	if !containsString(err.Error(), "recognition stream read failed") {
		t.Errorf("Unexpected error %v", err)
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request in stats, got %+v", stats)
	}
}

func TestStreamClientConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := wsURL(server)
	server.Close()

	client, err := NewStreamClient(StreamConfig{URL: endpoint})
	if err != nil {
		t.Fatalf("Failed to create stream client: %v", err)
	}
	defer client.Close()

	_, err = client.Transcribe(context.Background(), []byte("audio"))
	if err == nil {
		t.Fatal("Expected error when no server is listening")
	}

	if !containsString(err.Error(), "failed to connect") {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestStreamClientEmptyAudio(t *testing.T) {
	client, err := NewStreamClient(StreamConfig{URL: "ws://localhost:2700"})
	if err != nil {
		t.Fatalf("Failed to create stream client: %v", err)
	}
	defer client.Close()

	if _, err := client.Transcribe(context.Background(), nil); err == nil {
		t.Error("Expected error for empty audio")
	}

	stats := client.GetStats()
	if stats.TotalRequests != 0 {
		t.Errorf("Expected no recorded requests for rejected input, got %+v", stats)
	}
}

func TestNewStreamClientDefaults(t *testing.T) {
	if _, err := NewStreamClient(StreamConfig{}); err == nil {
		t.Error("Expected error for empty URL")
	}

	client, err := NewStreamClient(StreamConfig{URL: "ws://localhost:2700"})
	if err != nil {
		t.Fatalf("Expected valid client, got %v", err)
	}
	defer client.Close()

	if client.config.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", client.config.SampleRate)
	}

	if client.config.ChunkSize != 8192 {
		t.Errorf("Expected default chunk size 8192, got %d", client.config.ChunkSize)
	}

	if client.config.Timeout != 60*time.Second {
		t.Errorf("Expected default timeout 60s, got %v", client.config.Timeout)
	}
}
