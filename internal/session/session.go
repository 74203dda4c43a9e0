package session

import (
	"sync"
	"time"
)

// Session holds the accumulated state of one visit
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time

	// Transcripts in arrival order
	transcripts []string

	// Upload and note tracking
	uploads        uint64
	uploadBytes    uint64
	notesGenerated uint64

	// uploadMu serializes the persist/transcribe/append pipeline for this
	// session. Held for the whole upload, not just the append.
	uploadMu sync.Mutex

	mu sync.RWMutex
}

// SessionInfo represents session state for monitoring and APIs
type SessionInfo struct {
	SessionID      string        `json:"session_id"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivity   time.Time     `json:"last_activity"`
	Duration       time.Duration `json:"duration"`
	Transcripts    int           `json:"transcripts"`
	Uploads        uint64        `json:"uploads"`
	UploadBytes    uint64        `json:"upload_bytes"`
	NotesGenerated uint64        `json:"notes_generated"`
}

// touch updates the last activity time
func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// appendTranscript adds one transcript to the in-memory store
func (s *Session) appendTranscript(text string) {
	s.mu.Lock()
	s.transcripts = append(s.transcripts, text)
	s.mu.Unlock()
}

// snapshotTranscripts returns a copy of the stored transcripts in append
// order
func (s *Session) snapshotTranscripts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// TranscriptCount returns the number of stored transcripts
func (s *Session) TranscriptCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts)
}

func (s *Session) recordUpload(bytes int) {
	s.mu.Lock()
	s.uploads++
	s.uploadBytes += uint64(bytes)
	s.mu.Unlock()
}

func (s *Session) recordNote() {
	s.mu.Lock()
	s.notesGenerated++
	s.mu.Unlock()
}

// GetSessionInfo returns a snapshot of session state
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		SessionID:      s.ID,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity,
		Duration:       time.Since(s.CreatedAt),
		Transcripts:    len(s.transcripts),
		Uploads:        s.uploads,
		UploadBytes:    s.uploadBytes,
		NotesGenerated: s.notesGenerated,
	}
}
