package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TranscriptLog persists transcripts as per-session append-only line logs:
// one file per session, one line per accepted upload, in arrival order. The
// log is the durable source of truth for a session's transcript history and
// is replayed when a known session reappears after eviction or a restart.
type TranscriptLog struct {
	dir string

	// Serializes appends so a line is never interleaved with another
	mu sync.Mutex
}

// NewTranscriptLog creates a transcript log rooted at dir, creating the
// directory if needed
func NewTranscriptLog(dir string) (*TranscriptLog, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory %s: %w", dir, err)
	}

	return &TranscriptLog{dir: dir}, nil
}

// Append writes one transcript entry to the session's log. Entries are
// single-line by construction upstream; embedded newlines are folded into
// spaces so the line-per-entry invariant survives malformed input.
func (l *TranscriptLog) Append(sessionID, text string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	line := strings.ReplaceAll(text, "\n", " ")

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript log for session %s: %w", sessionID, err)
	}
	defer file.Close()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append transcript for session %s: %w", sessionID, err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript log for session %s: %w", sessionID, err)
	}

	return nil
}

// Load returns the logged transcript entries for a session in append order.
// A session with no log yet yields an empty slice, not an error.
func (l *TranscriptLog) Load(sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	file, err := os.Open(l.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transcript log for session %s: %w", sessionID, err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript log for session %s: %w", sessionID, err)
	}

	return entries, nil
}

// Sessions lists the session IDs with a transcript log on disk
func (l *TranscriptLog) Sessions() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript logs: %w", err)
	}

	sessions := make([]string, 0, len(matches))
	for _, match := range matches {
		sessions = append(sessions, strings.TrimSuffix(filepath.Base(match), ".log"))
	}

	return sessions, nil
}

func (l *TranscriptLog) path(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".log")
}
