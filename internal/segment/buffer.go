package segment

import (
	"sync"
	"time"
)

// Fragment represents a single block of captured media bytes. Fragments are
// immutable once emitted; concatenating them in append order reproduces the
// captured stream.
type Fragment struct {
	Data       []byte
	CapturedAt time.Time
}

// NewFragment creates a fragment stamped with the current time
func NewFragment(data []byte) Fragment {
	return Fragment{
		Data:       data,
		CapturedAt: time.Now(),
	}
}

// Size returns the fragment payload size in bytes
func (f Fragment) Size() int {
	return len(f.Data)
}

// Buffer accumulates fragments between flushes for a single recording session.
// It keeps a running byte total so flush decisions never rescan the fragment
// list. Drain is the only operation that removes fragments, so the drained
// set and the transmitted set are always identical.
type Buffer struct {
	fragments []Fragment
	totalSize int

	// Lifetime counters, never reset by Drain
	appendedCount int
	appendedBytes int64
	drainCount    int

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	FragmentCount int   `json:"fragment_count"`
	TotalBytes    int   `json:"total_bytes"`
	AppendedCount int   `json:"appended_count"`
	AppendedBytes int64 `json:"appended_bytes"`
	DrainCount    int   `json:"drain_count"`
}

// NewBuffer creates an empty segment buffer
func NewBuffer() *Buffer {
	return &Buffer{
		fragments: make([]Fragment, 0, 64),
	}
}

// Append adds a fragment to the tail of the buffer and advances the running
// byte total. Zero-size fragments are ignored without disturbing totals or
// order.
func (b *Buffer) Append(f Fragment) {
	if f.Size() == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.fragments = append(b.fragments, f)
	b.totalSize += f.Size()
	b.appendedCount++
	b.appendedBytes += int64(f.Size())
}

// TotalSize returns the accumulated byte total in constant time
func (b *Buffer) TotalSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalSize
}

// Len returns the number of buffered fragments
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.fragments)
}

// Drain atomically removes and returns all buffered fragments in append
// order, resetting the buffer to empty with a zero byte total. Draining an
// empty buffer returns nil.
func (b *Buffer) Drain() []Fragment {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.fragments) == 0 {
		return nil
	}

	drained := b.fragments
	b.fragments = make([]Fragment, 0, 64)
	b.totalSize = 0
	b.drainCount++

	return drained
}

// Restore returns drained fragments to the head of the buffer after a
// rejected flush, preserving capture order ahead of anything appended since.
// Lifetime counters are untouched; the fragments were counted at first
// append.
func (b *Buffer) Restore(fragments []Fragment) {
	if len(fragments) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	restored := make([]Fragment, 0, len(fragments)+len(b.fragments))
	restored = append(restored, fragments...)
	restored = append(restored, b.fragments...)
	b.fragments = restored

	for _, f := range fragments {
		b.totalSize += f.Size()
	}
}

// Stats returns current buffer statistics
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		FragmentCount: len(b.fragments),
		TotalBytes:    b.totalSize,
		AppendedCount: b.appendedCount,
		AppendedBytes: b.appendedBytes,
		DrainCount:    b.drainCount,
	}
}
