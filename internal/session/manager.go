package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/medscribe/scribe-service/internal/events"
	"github.com/medscribe/scribe-service/internal/notes"
	"github.com/medscribe/scribe-service/internal/store"
	"github.com/medscribe/scribe-service/internal/transcribe"
)

// DefaultSessionID receives uploads that carry no session identifier
const DefaultSessionID = "default"

var (
	// ErrEmptyUpload is returned for uploads with no audio bytes
	ErrEmptyUpload = errors.New("upload payload is empty")

	// ErrInvalidSessionID is returned for session IDs that are unsafe to
	// use as file names
	ErrInvalidSessionID = errors.New("invalid session ID")
)

// Session IDs become transcript log file names, so the charset is strict
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UploadResult describes one accepted upload
type UploadResult struct {
	SessionID  string `json:"session_id"`
	AudioID    string `json:"audio_id"`
	Transcript string `json:"transcript"`
}

// NoteResult describes one note-generation request. Empty is set when the
// session had no transcripts to work from.
type NoteResult struct {
	SessionID  string `json:"session_id"`
	Note       string `json:"note"`
	TokensUsed int    `json:"tokens_used"`
	Empty      bool   `json:"-"`
}

// Config contains session manager configuration
type Config struct {
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
}

// Collaborators bundles the services the manager drives. Transcriber,
// NoteGenerator, AudioStore and TranscriptLog are required; Visits and
// Publisher may be nil to disable visit records and event publishing.
type Collaborators struct {
	Transcriber   transcribe.Transcriber
	NoteGenerator notes.Generator
	AudioStore    *store.AudioStore
	TranscriptLog *store.TranscriptLog
	Visits        *store.VisitStore
	Publisher     *events.Publisher
}

// Manager owns all active sessions and runs uploads and note requests
// through their collaborators
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger

	timeout         time.Duration
	cleanupInterval time.Duration

	transcriber   transcribe.Transcriber
	noteGen       notes.Generator
	audioStore    *store.AudioStore
	transcriptLog *store.TranscriptLog
	visits        *store.VisitStore
	publisher     *events.Publisher

	// Manager statistics
	sessionsCreated uint64
	sessionsEvicted uint64
	uploadsAccepted uint64
	uploadsFailed   uint64
	uploadBytes     uint64
	notesGenerated  uint64
	notesFailed     uint64

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerStats represents manager-wide statistics
type ManagerStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	SessionsCreated uint64 `json:"sessions_created"`
	SessionsEvicted uint64 `json:"sessions_evicted"`
	UploadsAccepted uint64 `json:"uploads_accepted"`
	UploadsFailed   uint64 `json:"uploads_failed"`
	UploadBytes     uint64 `json:"upload_bytes"`
	NotesGenerated  uint64 `json:"notes_generated"`
	NotesFailed     uint64 `json:"notes_failed"`
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config Config, collab Collaborators) (*Manager, error) {
	if collab.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}

	if collab.NoteGenerator == nil {
		return nil, fmt.Errorf("note generator is required")
	}

	if collab.AudioStore == nil {
		return nil, fmt.Errorf("audio store is required")
	}

	if collab.TranscriptLog == nil {
		return nil, fmt.Errorf("transcript log is required")
	}

	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 30 * time.Minute
	}

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:        make(map[string]*Session),
		logger:          logger,
		timeout:         config.SessionTimeout,
		cleanupInterval: config.CleanupInterval,
		transcriber:     collab.Transcriber,
		noteGen:         collab.NoteGenerator,
		audioStore:      collab.AudioStore,
		transcriptLog:   collab.TranscriptLog,
		visits:          collab.Visits,
		publisher:       collab.Publisher,
		ctx:             ctx,
		cancel:          cancel,
		cleanup:         make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// AcceptUpload persists one audio segment, transcribes it and appends the
// transcript to the session record. The raw audio is written durably before
// transcription, so a collaborator failure never loses the recording.
// Overlapping uploads for one session serialize on the session's upload
// lock; transcripts are stored in lock acquisition order.
func (m *Manager) AcceptUpload(ctx context.Context, sessionID string, payload []byte) (*UploadResult, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyUpload
	}

	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := m.getOrCreate(sessionID)
	if err != nil {
		return nil, err
	}

	sess.uploadMu.Lock()
	defer sess.uploadMu.Unlock()

	sess.touch()

	audioID, audioPath, err := m.audioStore.Save(payload)
	if err != nil {
		m.recordUploadFailure()
		return nil, fmt.Errorf("failed to persist audio: %w", err)
	}

	m.logger.Debug("Audio persisted",
		slog.String("session_id", sessionID),
		slog.String("audio_id", audioID),
		slog.String("path", audioPath),
		slog.Int("bytes", len(payload)),
	)

	transcript, err := m.transcriber.Transcribe(ctx, payload)
	if err != nil {
		m.recordUploadFailure()
		m.logger.Error("Transcription failed",
			slog.String("session_id", sessionID),
			slog.String("audio_id", audioID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// Log first, memory second: the in-memory store never holds an entry
	// the log could lose across a restart
	if err := m.transcriptLog.Append(sessionID, transcript); err != nil {
		m.recordUploadFailure()
		return nil, fmt.Errorf("failed to append transcript log: %w", err)
	}

	sess.appendTranscript(transcript)
	sess.recordUpload(len(payload))

	m.mu.Lock()
	m.uploadsAccepted++
	m.uploadBytes += uint64(len(payload))
	m.mu.Unlock()

	if m.publisher != nil {
		if err := m.publisher.PublishTranscript(sessionID, audioID, transcript); err != nil {
			m.logger.Warn("Failed to publish transcript event",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("Upload accepted",
		slog.String("session_id", sessionID),
		slog.String("audio_id", audioID),
		slog.Int("bytes", len(payload)),
		slog.Int("transcript_length", len(transcript)),
	)

	return &UploadResult{
		SessionID:  sessionID,
		AudioID:    audioID,
		Transcript: transcript,
	}, nil
}

// GenerateNote builds a clinical note from everything the session has
// accumulated. A session with no transcripts returns Empty=true and no
// error. Identical store contents produce an identical prompt.
func (m *Manager) GenerateNote(ctx context.Context, sessionID string) (*NoteResult, error) {
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := m.getOrCreate(sessionID)
	if err != nil {
		return nil, err
	}

	sess.touch()

	transcripts := sess.snapshotTranscripts()
	if len(transcripts) == 0 {
		m.logger.Info("Note requested for empty session",
			slog.String("session_id", sessionID))
		return &NoteResult{SessionID: sessionID, Empty: true}, nil
	}

	fullTranscript := strings.Join(transcripts, "\n")
	prompt := notes.BuildSOAPPrompt(fullTranscript)

	result, err := m.noteGen.GenerateNote(ctx, prompt)
	if err != nil {
		m.mu.Lock()
		m.notesFailed++
		m.mu.Unlock()
		m.logger.Error("Note generation failed",
			slog.String("session_id", sessionID),
			slog.Int("transcripts", len(transcripts)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	sess.recordNote()

	m.mu.Lock()
	m.notesGenerated++
	m.mu.Unlock()

	if m.visits != nil {
		if visitID, err := m.visits.SaveVisit(ctx, sessionID, fullTranscript, result.Note); err != nil {
			m.logger.Error("Failed to record visit",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.Debug("Visit recorded",
				slog.String("session_id", sessionID),
				slog.Int64("visit_id", visitID),
			)
		}
	}

	if m.publisher != nil {
		if err := m.publisher.PublishNote(sessionID, result.Note, result.TokensUsed); err != nil {
			m.logger.Warn("Failed to publish note event",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("Note generated",
		slog.String("session_id", sessionID),
		slog.Int("transcripts", len(transcripts)),
		slog.Int("tokens_used", result.TokensUsed),
	)

	return &NoteResult{
		SessionID:  sessionID,
		Note:       result.Note,
		TokensUsed: result.TokensUsed,
	}, nil
}

// GetSession retrieves an existing session without creating one
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	normalized, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[normalized]
	return sess, exists
}

// GetActiveSessionCount returns the number of sessions currently in memory
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}

	return sessions
}

func (m *Manager) recordUploadFailure() {
	m.mu.Lock()
	m.uploadsFailed++
	m.mu.Unlock()
}

// GetStats returns manager-wide statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		ActiveSessions:  len(m.sessions),
		SessionsCreated: m.sessionsCreated,
		SessionsEvicted: m.sessionsEvicted,
		UploadsAccepted: m.uploadsAccepted,
		UploadsFailed:   m.uploadsFailed,
		UploadBytes:     m.uploadBytes,
		NotesGenerated:  m.notesGenerated,
		NotesFailed:     m.notesFailed,
	}
}

// GetTranscriptionStats returns the transcriber's statistics when the
// configured implementation tracks them
func (m *Manager) GetTranscriptionStats() (transcribe.ClientStats, bool) {
	if provider, ok := m.transcriber.(interface{ GetStats() transcribe.ClientStats }); ok {
		return provider.GetStats(), true
	}
	return transcribe.ClientStats{}, false
}

// GetNoteStats returns the note generator's statistics when the configured
// implementation tracks them
func (m *Manager) GetNoteStats() (notes.GeneratorStats, bool) {
	if provider, ok := m.noteGen.(interface{ GetStats() notes.GeneratorStats }); ok {
		return provider.GetStats(), true
	}
	return notes.GeneratorStats{}, false
}

// GetEventStats returns the event publisher's statistics when publishing is
// configured
func (m *Manager) GetEventStats() (events.PublisherStats, bool) {
	if m.publisher == nil {
		return events.PublisherStats{}, false
	}
	return m.publisher.GetStats(), true
}

// GetAudioStats returns the audio store's statistics
func (m *Manager) GetAudioStats() store.AudioStoreStats {
	return m.audioStore.Stats()
}

// Stop gracefully stops the session manager and its collaborators
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	if err := m.transcriber.Close(); err != nil {
		m.logger.Warn("Error closing transcriber", slog.String("error", err.Error()))
	}

	if err := m.noteGen.Close(); err != nil {
		m.logger.Warn("Error closing note generator", slog.String("error", err.Error()))
	}

	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			m.logger.Warn("Error closing event publisher", slog.String("error", err.Error()))
		}
	}

	stats := m.GetStats()
	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", stats.ActiveSessions),
		slog.Uint64("uploads_accepted", stats.UploadsAccepted),
		slog.Uint64("uploads_failed", stats.UploadsFailed),
		slog.Uint64("notes_generated", stats.NotesGenerated),
	)
}

// getOrCreate returns the session for an ID, creating it if needed. A new
// session starts from whatever the transcript log already holds, so state
// survives eviction and restarts.
func (m *Manager) getOrCreate(sessionID string) (*Session, error) {
	m.mu.RLock()
	sess, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if exists {
		return sess, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, exists := m.sessions[sessionID]; exists {
		return sess, nil
	}

	logged, err := m.transcriptLog.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload transcript log: %w", err)
	}

	now := time.Now()
	sess = &Session{
		ID:           sessionID,
		CreatedAt:    now,
		LastActivity: now,
		transcripts:  logged,
	}

	m.sessions[sessionID] = sess
	m.sessionsCreated++

	if len(logged) > 0 {
		m.logger.Info("Session restored from transcript log",
			slog.String("session_id", sessionID),
			slog.Int("transcripts", len(logged)),
		)
	} else {
		m.logger.Info("Created new session",
			slog.String("session_id", sessionID))
	}

	return sess, nil
}

// evictSession removes a session from memory. The transcript log stays on
// disk.
func (m *Manager) evictSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[sessionID]
	if !exists {
		return false
	}

	info := sess.GetSessionInfo()
	delete(m.sessions, sessionID)
	m.sessionsEvicted++

	m.logger.Info("Evicted idle session",
		slog.String("session_id", sessionID),
		slog.Duration("age", time.Since(info.CreatedAt)),
		slog.Int("transcripts", info.Transcripts),
		slog.Uint64("uploads", info.Uploads),
	)

	return true
}

// startCleanupRoutine runs in a separate goroutine to evict idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("check_interval", m.cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions evicts sessions that have been idle for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for sessionID, sess := range m.sessions {
		sess.mu.RLock()
		lastActivity := sess.LastActivity
		sess.mu.RUnlock()

		if now.Sub(lastActivity) > m.timeout {
			expired = append(expired, sessionID)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up idle sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, sessionID := range expired {
			m.evictSession(sessionID)
		}
	}
}

// normalizeSessionID applies the default session and rejects IDs that are
// unsafe as file names
func normalizeSessionID(sessionID string) (string, error) {
	if sessionID == "" {
		return DefaultSessionID, nil
	}

	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	return sessionID, nil
}
