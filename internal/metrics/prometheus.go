package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the scribe service
type Metrics struct {
	// Upload metrics
	UploadsReceived prometheus.Counter
	UploadsAccepted prometheus.Counter
	UploadsFailed   prometheus.Counter
	UploadSize      prometheus.Histogram
	UploadDuration  prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Note generation metrics
	NoteRequests prometheus.Counter
	NotesCreated prometheus.Counter
	NoteFailures prometheus.Counter
	NoteTokens   prometheus.Counter
	NoteDuration prometheus.Histogram

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter
	SessionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Upload metrics
		UploadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_uploads_received_total",
			Help: "Total number of audio uploads received",
		}),
		UploadsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_uploads_accepted_total",
			Help: "Total number of audio uploads accepted and transcribed",
		}),
		UploadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_uploads_failed_total",
			Help: "Total number of audio uploads that failed",
		}),
		UploadSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_upload_size_bytes",
			Help:    "Size of uploaded audio segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_upload_duration_seconds",
			Help:    "End-to-end duration of upload requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Note generation metrics
		NoteRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_note_requests_total",
			Help: "Total number of note generation requests",
		}),
		NotesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_notes_created_total",
			Help: "Total number of clinical notes generated",
		}),
		NoteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_note_failures_total",
			Help: "Total number of failed note generation requests",
		}),
		NoteTokens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_note_tokens_total",
			Help: "Total number of tokens consumed by note generation",
		}),
		NoteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_note_duration_seconds",
			Help:    "Duration of note generation requests",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~4 minutes
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of sessions held in memory",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_evicted_total",
			Help: "Total number of idle sessions evicted",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Age of sessions at eviction in seconds",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10), // 1 minute to ~17 hours
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUploadReceived increments the uploads received counter
func (m *Metrics) RecordUploadReceived() {
	m.UploadsReceived.Inc()
}

// RecordUploadAccepted records a transcribed upload
func (m *Metrics) RecordUploadAccepted(sizeBytes int, durationSeconds float64) {
	m.UploadsAccepted.Inc()
	m.UploadSize.Observe(float64(sizeBytes))
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailed records a failed upload
func (m *Metrics) RecordUploadFailed(durationSeconds float64) {
	m.UploadsFailed.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordNoteRequest increments the note requests counter
func (m *Metrics) RecordNoteRequest() {
	m.NoteRequests.Inc()
}

// RecordNoteCreated records a generated note and its token usage
func (m *Metrics) RecordNoteCreated(tokensUsed int, durationSeconds float64) {
	m.NotesCreated.Inc()
	m.NoteTokens.Add(float64(tokensUsed))
	m.NoteDuration.Observe(durationSeconds)
}

// RecordNoteFailure records a failed note generation
func (m *Metrics) RecordNoteFailure(durationSeconds float64) {
	m.NoteFailures.Inc()
	m.NoteDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the current number of in-memory sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionEvicted increments the sessions evicted counter and records age
func (m *Metrics) RecordSessionEvicted(ageSeconds float64) {
	m.SessionsEvicted.Inc()
	m.SessionDuration.Observe(ageSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
