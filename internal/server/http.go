package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medscribe/scribe-service/internal/config"
	"github.com/medscribe/scribe-service/internal/metrics"
	"github.com/medscribe/scribe-service/internal/notes"
	"github.com/medscribe/scribe-service/internal/session"
	"github.com/medscribe/scribe-service/internal/store"
	"github.com/medscribe/scribe-service/internal/transcribe"
)

// maxUploadBytes bounds the multipart form parse for one audio segment
const maxUploadBytes = 32 << 20

// HTTPServer provides the upload, notes and monitoring API
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *session.Manager
	visits     *store.VisitStore
	metrics    *metrics.Metrics

	// Server state
	startTime time.Time
}

// errorResponse is the JSON body for failed requests. Code carries the
// collaborator's status when the failure came from a collaborator.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewHTTPServer creates the API server. The visit store may be nil when no
// database is configured.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessionMgr *session.Manager, visits *store.VisitStore, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		visits:     visits,
		metrics:    m,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Upload and note generation endpoints
	mux.HandleFunc("/upload", h.withMetrics("/upload/", h.handleUpload))
	mux.HandleFunc("/upload/", h.withMetrics("/upload/", h.handleUpload))
	mux.HandleFunc("/notes", h.withMetrics("/notes/", h.handleNotes))
	mux.HandleFunc("/notes/", h.withMetrics("/notes/", h.handleNotes))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Visit history endpoint
	mux.HandleFunc("/visits", h.withMetrics("/visits", h.handleVisits))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleUpload implements the POST /upload/ endpoint. The multipart form
// carries the audio in the "file" field and an optional "session_id".
func (h *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.New().String()
	startTime := time.Now()

	h.metrics.RecordUploadReceived()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.metrics.RecordUploadFailed(time.Since(startTime).Seconds())
		h.writeError(w, http.StatusBadRequest, "invalid_upload",
			fmt.Sprintf("Could not parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.metrics.RecordUploadFailed(time.Since(startTime).Seconds())
		h.writeError(w, http.StatusBadRequest, "missing_file",
			"Upload requires a 'file' form field")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		h.metrics.RecordUploadFailed(time.Since(startTime).Seconds())
		h.writeError(w, http.StatusInternalServerError, "read_failed",
			"Could not read uploaded file")
		return
	}

	sessionID := r.FormValue("session_id")

	result, err := h.sessionMgr.AcceptUpload(r.Context(), sessionID, payload)
	duration := time.Since(startTime)

	if err != nil {
		h.metrics.RecordUploadFailed(duration.Seconds())
		h.logger.Warn("Upload request failed",
			slog.String("request_id", requestID),
			slog.String("session_id", sessionID),
			slog.String("filename", header.Filename),
			slog.Int("bytes", len(payload)),
			slog.String("error", err.Error()),
		)
		h.writeUploadError(w, err, duration)
		return
	}

	h.metrics.RecordUploadAccepted(len(payload), duration.Seconds())
	h.metrics.RecordTranscriptionRequest()
	h.metrics.RecordTranscriptionSuccess(duration.Seconds())
	h.metrics.SetActiveSessions(h.sessionMgr.GetActiveSessionCount())

	h.logger.Info("Upload request completed",
		slog.String("request_id", requestID),
		slog.String("session_id", result.SessionID),
		slog.String("audio_id", result.AudioID),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(payload)),
		slog.Duration("duration", duration),
	)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transcript": result.Transcript,
		"request_id": requestID,
	})
}

// writeUploadError maps an upload failure to its HTTP response
func (h *HTTPServer) writeUploadError(w http.ResponseWriter, err error, duration time.Duration) {
	if errors.Is(err, session.ErrEmptyUpload) {
		h.writeError(w, http.StatusBadRequest, "empty_upload",
			"Uploaded file contains no audio data")
		return
	}

	if errors.Is(err, session.ErrInvalidSessionID) {
		h.writeError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
		return
	}

	var apiErr *transcribe.APIError
	if errors.As(err, &apiErr) {
		h.metrics.RecordTranscriptionRequest()
		h.metrics.RecordTranscriptionFailure(duration.Seconds())
		h.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:   "transcription_failed",
			Message: apiErr.Message,
			Code:    apiErr.StatusCode,
		})
		return
	}

	h.writeError(w, http.StatusInternalServerError, "internal_error",
		"Upload processing failed")
}

// handleNotes implements the GET /notes/ endpoint. A session with no
// transcripts yields {"notes": null} rather than an error.
func (h *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.New().String()
	startTime := time.Now()

	h.metrics.RecordNoteRequest()

	sessionID := r.URL.Query().Get("session_id")

	result, err := h.sessionMgr.GenerateNote(r.Context(), sessionID)
	duration := time.Since(startTime)

	if err != nil {
		h.metrics.RecordNoteFailure(duration.Seconds())
		h.logger.Warn("Notes request failed",
			slog.String("request_id", requestID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		h.writeNotesError(w, err)
		return
	}

	if result.Empty {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"notes": nil,
		})
		return
	}

	h.metrics.RecordNoteCreated(result.TokensUsed, duration.Seconds())

	h.logger.Info("Notes request completed",
		slog.String("request_id", requestID),
		slog.String("session_id", result.SessionID),
		slog.Int("tokens_used", result.TokensUsed),
		slog.Duration("duration", duration),
	)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes":       result.Note,
		"request_id":  requestID,
		"tokens_used": result.TokensUsed,
	})
}

// writeNotesError maps a note-generation failure to its HTTP response
func (h *HTTPServer) writeNotesError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrInvalidSessionID) {
		h.writeError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
		return
	}

	var apiErr *notes.APIError
	if errors.As(err, &apiErr) {
		h.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:   "note_generation_failed",
			Message: apiErr.Message,
			Code:    apiErr.StatusCode,
		})
		return
	}

	h.writeError(w, http.StatusInternalServerError, "internal_error",
		"Note generation failed")
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	managerStats := h.sessionMgr.GetStats()

	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":           "running",
			"active_sessions":  managerStats.ActiveSessions,
			"uploads_accepted": managerStats.UploadsAccepted,
			"uploads_failed":   managerStats.UploadsFailed,
		},
		"database": map[string]interface{}{
			"enabled": h.visits != nil,
		},
	}

	if transcriptionStats, ok := h.sessionMgr.GetTranscriptionStats(); ok {
		components["transcription"] = map[string]interface{}{
			"status":         "running",
			"total_requests": transcriptionStats.TotalRequests,
			"success_rate":   transcriptionStats.SuccessRate,
		}
	}

	if noteStats, ok := h.sessionMgr.GetNoteStats(); ok {
		components["notes"] = map[string]interface{}{
			"status":         "running",
			"total_requests": noteStats.TotalRequests,
			"success_rate":   noteStats.SuccessRate,
		}
	}

	if eventStats, ok := h.sessionMgr.GetEventStats(); ok {
		components["events"] = map[string]interface{}{
			"enabled":   eventStats.Enabled,
			"published": eventStats.Published,
			"failed":    eventStats.Failed,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "scribe-service",
			"version": "1.0.0",
		},
		"components": components,
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	sessionInfos := make([]session.SessionInfo, 0, len(sessions))

	for _, sess := range sessions {
		sessionInfos = append(sessionInfos, sess.GetSessionInfo())
	}

	response := map[string]interface{}{
		"total_sessions": len(sessionInfos),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessionInfos,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{session_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract session ID from URL path
	sessionID := r.URL.Path[len("/sessions/"):]
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessionMgr.GetSession(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, sess.GetSessionInfo())
}

// handleVisits implements the /visits endpoint. Requires a configured
// database.
func (h *HTTPServer) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.visits == nil {
		h.writeError(w, http.StatusServiceUnavailable, "database_disabled",
			"Visit history requires a configured database")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit",
				"limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var (
		visits []store.Visit
		err    error
	)

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		visits, err = h.visits.SessionVisits(r.Context(), sessionID, limit)
	} else {
		visits, err = h.visits.RecentVisits(r.Context(), limit)
	}

	if err != nil {
		h.logger.Error("Visit query failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "query_failed",
			"Could not load visit history")
		return
	}

	response := map[string]interface{}{
		"total_visits": len(visits),
		"timestamp":    time.Now().UTC(),
		"visits":       visits,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"storage": map[string]interface{}{
			"audio_dir":       h.config.Storage.AudioDir,
			"audio_extension": h.config.Storage.AudioExtension,
			"transcript_dir":  h.config.Storage.TranscriptDir,
		},
		"transcription": map[string]interface{}{
			"provider":       h.config.Transcription.Provider,
			"endpoint":       h.config.Transcription.Endpoint,
			"model":          h.config.Transcription.Model,
			"language":       h.config.Transcription.Language,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"notes": map[string]interface{}{
			"endpoint":    h.config.Notes.Endpoint,
			"model":       h.config.Notes.Model,
			"timeout":     h.config.Notes.Timeout,
			"max_retries": h.config.Notes.MaxRetries,
		},
		"database": map[string]interface{}{
			// Note: DSN is intentionally omitted, it may carry credentials
			"enabled":        h.config.Database.DSN != "",
			"max_open_conns": h.config.Database.MaxOpenConns,
			"max_idle_conns": h.config.Database.MaxIdleConns,
		},
		"events": map[string]interface{}{
			"enabled":  h.config.Events.URL != "",
			"exchange": h.config.Events.Exchange,
		},
		"session": map[string]interface{}{
			"session_timeout":  h.config.Session.SessionTimeout,
			"cleanup_interval": h.config.Session.CleanupInterval,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.sessionMgr.GetStats(),
		"storage":   h.sessionMgr.GetAudioStats(),
	}

	if transcriptionStats, ok := h.sessionMgr.GetTranscriptionStats(); ok {
		stats["transcription"] = transcriptionStats
	}

	if noteStats, ok := h.sessionMgr.GetNoteStats(); ok {
		stats["notes"] = noteStats
	}

	if eventStats, ok := h.sessionMgr.GetEventStats(); ok {
		stats["events"] = eventStats
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Medical Scribe Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /upload/":              "Upload an audio segment for transcription",
			"GET /notes/":                "Generate a SOAP note from session transcripts",
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /sessions":              "List all active sessions",
			"GET /sessions/{session_id}": "Get detailed session information",
			"GET /visits":                "List recorded visits",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get service statistics",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, errCode, message string) {
	h.writeJSON(w, status, errorResponse{
		Error:   errCode,
		Message: message,
		Code:    status,
	})
}
