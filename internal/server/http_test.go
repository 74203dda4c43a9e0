package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/medscribe/scribe-service/internal/config"
	"github.com/medscribe/scribe-service/internal/metrics"
	"github.com/medscribe/scribe-service/internal/notes"
	"github.com/medscribe/scribe-service/internal/session"
	"github.com/medscribe/scribe-service/internal/store"
	"github.com/medscribe/scribe-service/internal/transcribe"
)

// Prometheus collectors register globally, so all tests share one instance
var (
	testMetricsOnce sync.Once
	testMetrics     *metrics.Metrics
)

func getTestMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = metrics.NewMetrics()
	})
	return testMetrics
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubTranscriber struct {
	err error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Speaker 0: " + string(audio) + ".", nil
}

func (s *stubTranscriber) Close() error { return nil }

type stubGenerator struct {
	err    error
	note   string
	tokens int
}

func (s *stubGenerator) GenerateNote(ctx context.Context, prompt string) (*notes.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &notes.Result{Note: s.note, TokensUsed: s.tokens}, nil
}

func (s *stubGenerator) Close() error { return nil }

func newTestServer(t *testing.T, tr transcribe.Transcriber, gen notes.Generator) *httptest.Server {
	t.Helper()

	dir := t.TempDir()

	audioStore, err := store.NewAudioStore(filepath.Join(dir, "audio"), "mp3")
	if err != nil {
		t.Fatalf("Failed to create audio store: %v", err)
	}

	transcriptLog, err := store.NewTranscriptLog(filepath.Join(dir, "transcripts"))
	if err != nil {
		t.Fatalf("Failed to create transcript log: %v", err)
	}

	mgr, err := session.NewManager(newTestLogger(), session.Config{}, session.Collaborators{
		Transcriber:   tr,
		NoteGenerator: gen,
		AudioStore:    audioStore,
		TranscriptLog: transcriptLog,
	})
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	cfg := &config.Config{
		HTTP:    config.HTTPConfig{Port: 8080, Address: "127.0.0.1"},
		Storage: config.StorageConfig{AudioDir: dir, AudioExtension: "mp3", TranscriptDir: dir},
		Transcription: config.TranscriptionConfig{
			Provider: "http",
			Endpoint: "https://transcription.example.com",
			APIKey:   "secret-transcription-key",
		},
		Notes: config.NotesConfig{
			Endpoint: "https://notes.example.com",
			APIKey:   "secret-notes-key",
			Model:    "gpt-3.5-turbo",
		},
		Database: config.DatabaseConfig{DSN: "postgres://scribe:secret-db-pass@db/visits"},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
	}

	h := NewHTTPServer(cfg.HTTP, newTestLogger(), cfg, mgr, nil, getTestMetrics())

	ts := httptest.NewServer(h.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func uploadRequest(t *testing.T, url string, content []byte, sessionID string) *http.Response {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "segment.mp3")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}

	if sessionID != "" {
		if err := writer.WriteField("session_id", sessionID); err != nil {
			t.Fatalf("Failed to write session field: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	resp, err := http.Post(url+"/upload/", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return payload
}

func TestUploadEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{note: "note"})

	resp := uploadRequest(t, ts.URL, []byte("hello"), "visit-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)

	if payload["transcript"] != "Speaker 0: hello." {
		t.Errorf("Unexpected transcript %v", payload["transcript"])
	}

	if id, _ := payload["request_id"].(string); id == "" {
		t.Error("Expected a request_id")
	}
}

func TestUploadEndpointEmptyFile(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp := uploadRequest(t, ts.URL, nil, "visit-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for empty file, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)
	if payload["error"] != "empty_upload" {
		t.Errorf("Unexpected error code %v", payload["error"])
	}
}

func TestUploadEndpointMissingFile(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("session_id", "visit-1"); err != nil {
		t.Fatalf("Failed to write field: %v", err)
	}
	writer.Close()

	resp, err := http.Post(ts.URL+"/upload/", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing file, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)
	if payload["error"] != "missing_file" {
		t.Errorf("Unexpected error code %v", payload["error"])
	}
}

func TestUploadEndpointCollaboratorError(t *testing.T) {
	tr := &stubTranscriber{err: &transcribe.APIError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Authentication failed. Check your API key.",
	}}
	ts := newTestServer(t, tr, &stubGenerator{})

	resp := uploadRequest(t, ts.URL, []byte("audio"), "visit-1")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("Expected 502 for collaborator failure, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)

	if payload["error"] != "transcription_failed" {
		t.Errorf("Unexpected error code %v", payload["error"])
	}

	if payload["message"] != "Authentication failed. Check your API key." {
		t.Errorf("Unexpected message %v", payload["message"])
	}

	if code, _ := payload["code"].(float64); int(code) != http.StatusUnauthorized {
		t.Errorf("Expected collaborator status 401 in body, got %v", payload["code"])
	}
}

func TestUploadEndpointRejectsGet(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/upload/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestNotesEndpointEmptySession(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{note: "unused"})

	resp, err := http.Get(ts.URL + "/notes/?session_id=visit-9")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for empty session, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)

	value, present := payload["notes"]
	if !present {
		t.Fatal("Expected notes key in response")
	}

	if value != nil {
		t.Errorf("Expected null notes for empty session, got %v", value)
	}
}

func TestNotesEndpoint(t *testing.T) {
	gen := &stubGenerator{note: "Subjective: Sore throat.", tokens: 256}
	ts := newTestServer(t, &stubTranscriber{}, gen)

	resp := uploadRequest(t, ts.URL, []byte("hello"), "visit-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Upload failed with %d", resp.StatusCode)
	}

	notesResp, err := http.Get(ts.URL + "/notes/?session_id=visit-1")
	if err != nil {
		t.Fatalf("Notes request failed: %v", err)
	}

	if notesResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", notesResp.StatusCode)
	}

	payload := decodeJSON(t, notesResp)

	if payload["notes"] != "Subjective: Sore throat." {
		t.Errorf("Unexpected notes %v", payload["notes"])
	}

	if tokens, _ := payload["tokens_used"].(float64); int(tokens) != 256 {
		t.Errorf("Expected 256 tokens, got %v", payload["tokens_used"])
	}

	if id, _ := payload["request_id"].(string); id == "" {
		t.Error("Expected a request_id")
	}
}

func TestNotesEndpointCollaboratorError(t *testing.T) {
	gen := &stubGenerator{err: &notes.APIError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "Rate limit exceeded. Try again later.",
	}}
	ts := newTestServer(t, &stubTranscriber{}, gen)

	resp := uploadRequest(t, ts.URL, []byte("hello"), "visit-1")
	resp.Body.Close()

	notesResp, err := http.Get(ts.URL + "/notes/?session_id=visit-1")
	if err != nil {
		t.Fatalf("Notes request failed: %v", err)
	}

	if notesResp.StatusCode != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", notesResp.StatusCode)
	}

	payload := decodeJSON(t, notesResp)
	if payload["error"] != "note_generation_failed" {
		t.Errorf("Unexpected error code %v", payload["error"])
	}
}

func TestVisitsEndpointWithoutDatabase(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/visits")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 without database, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)
	if payload["error"] != "database_disabled" {
		t.Errorf("Unexpected error code %v", payload["error"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	payload := decodeJSON(t, resp)

	if payload["status"] != "healthy" {
		t.Errorf("Unexpected status %v", payload["status"])
	}

	components, ok := payload["components"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected components in health response")
	}

	if _, ok := components["session_manager"]; !ok {
		t.Error("Expected session_manager component")
	}
}

func TestSessionsEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp := uploadRequest(t, ts.URL, []byte("hello"), "visit-1")
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("Sessions request failed: %v", err)
	}

	listPayload := decodeJSON(t, listResp)
	if total, _ := listPayload["total_sessions"].(float64); int(total) != 1 {
		t.Errorf("Expected 1 session, got %v", listPayload["total_sessions"])
	}

	detailResp, err := http.Get(ts.URL + "/sessions/visit-1")
	if err != nil {
		t.Fatalf("Session detail request failed: %v", err)
	}

	if detailResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for known session, got %d", detailResp.StatusCode)
	}

	detail := decodeJSON(t, detailResp)
	if detail["session_id"] != "visit-1" {
		t.Errorf("Unexpected session detail %v", detail)
	}

	missingResp, err := http.Get(ts.URL + "/sessions/no-such-session")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	missingResp.Body.Close()

	if missingResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", missingResp.StatusCode)
	}
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}

	for _, secret := range []string{"secret-transcription-key", "secret-notes-key", "secret-db-pass"} {
		if strings.Contains(string(body), secret) {
			t.Errorf("Config response leaks %q", secret)
		}
	}
}

func TestRootEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubTranscriber{}, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	payload := decodeJSON(t, resp)

	endpoints, ok := payload["endpoints"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected endpoints in API doc")
	}

	if _, ok := endpoints["POST /upload/"]; !ok {
		t.Error("Expected upload endpoint in API doc")
	}
}
