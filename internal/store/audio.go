package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AudioStore persists uploaded audio segments under unique names. Every
// accepted upload is written and synced before transcription begins, so a
// collaborator failure never loses the raw recording.
type AudioStore struct {
	dir string
	ext string

	saved      uint64
	savedBytes uint64

	mu sync.RWMutex
}

// AudioStoreStats represents audio store statistics
type AudioStoreStats struct {
	Saved      uint64 `json:"saved"`
	SavedBytes uint64 `json:"saved_bytes"`
}

// NewAudioStore creates an audio store rooted at dir, creating the directory
// if needed. ext is the file extension for stored segments without the dot.
func NewAudioStore(dir, ext string) (*AudioStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("audio directory cannot be empty")
	}

	if ext == "" {
		ext = "mp3"
	}
	ext = strings.TrimPrefix(ext, ".")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory %s: %w", dir, err)
	}

	return &AudioStore{dir: dir, ext: ext}, nil
}

// Save writes one audio payload to a uniquely-named file and syncs it to
// stable storage before returning. It returns the generated blob ID and the
// full path of the written file.
func (s *AudioStore) Save(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("audio payload is empty")
	}

	id := uuid.New().String()
	path := filepath.Join(s.dir, id+"."+s.ext)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("failed to create audio file %s: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("failed to write audio file %s: %w", path, err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("failed to sync audio file %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close audio file %s: %w", path, err)
	}

	s.mu.Lock()
	s.saved++
	s.savedBytes += uint64(len(data))
	s.mu.Unlock()

	return id, path, nil
}

// Path returns the location a blob ID resolves to
func (s *AudioStore) Path(id string) string {
	return filepath.Join(s.dir, id+"."+s.ext)
}

// Stats returns current audio store statistics
func (s *AudioStore) Stats() AudioStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return AudioStoreStats{
		Saved:      s.saved,
		SavedBytes: s.savedBytes,
	}
}
