package segment

import (
	"bytes"
	"sync"
	"testing"
)

func TestBufferAppendAccumulates(t *testing.T) {
	buffer := NewBuffer()

	fragments := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}

	expectedTotal := 0
	for _, data := range fragments {
		buffer.Append(NewFragment(data))
		expectedTotal += len(data)

		if buffer.TotalSize() != expectedTotal {
			t.Errorf("Expected total size %d after append, got %d", expectedTotal, buffer.TotalSize())
		}
	}

	if buffer.Len() != len(fragments) {
		t.Errorf("Expected %d fragments, got %d", len(fragments), buffer.Len())
	}
}

func TestBufferZeroSizeAppendIsNoOp(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append(NewFragment([]byte("payload")))

	buffer.Append(NewFragment(nil))
	buffer.Append(NewFragment([]byte{}))

	if buffer.Len() != 1 {
		t.Errorf("Expected 1 fragment after empty appends, got %d", buffer.Len())
	}

	if buffer.TotalSize() != 7 {
		t.Errorf("Expected total size 7 after empty appends, got %d", buffer.TotalSize())
	}

	stats := buffer.Stats()
	if stats.AppendedCount != 1 {
		t.Errorf("Expected appended count 1, got %d", stats.AppendedCount)
	}
}

func TestBufferDrainReturnsOrderedFragments(t *testing.T) {
	buffer := NewBuffer()

	inputs := [][]byte{
		[]byte("one"),
		[]byte("two"),
		[]byte("three"),
		[]byte("four"),
	}
	for _, data := range inputs {
		buffer.Append(NewFragment(data))
	}

	drained := buffer.Drain()

	if len(drained) != len(inputs) {
		t.Fatalf("Expected %d drained fragments, got %d", len(inputs), len(drained))
	}

	for i, fragment := range drained {
		if !bytes.Equal(fragment.Data, inputs[i]) {
			t.Errorf("Fragment %d: expected %q, got %q", i, inputs[i], fragment.Data)
		}
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected empty buffer after drain, got %d fragments", buffer.Len())
	}

	if buffer.TotalSize() != 0 {
		t.Errorf("Expected zero total size after drain, got %d", buffer.TotalSize())
	}
}

func TestBufferDrainEmptyReturnsNil(t *testing.T) {
	buffer := NewBuffer()

	if drained := buffer.Drain(); drained != nil {
		t.Errorf("Expected nil from draining empty buffer, got %d fragments", len(drained))
	}
}

func TestBufferDrainNeverRepeatsFragments(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append(NewFragment([]byte("only")))

	first := buffer.Drain()
	second := buffer.Drain()

	if len(first) != 1 {
		t.Errorf("Expected 1 fragment in first drain, got %d", len(first))
	}

	if second != nil {
		t.Errorf("Expected nil from second drain, got %d fragments", len(second))
	}

	// Appends after a drain land in a fresh epoch
	buffer.Append(NewFragment([]byte("next")))
	third := buffer.Drain()

	if len(third) != 1 || !bytes.Equal(third[0].Data, []byte("next")) {
		t.Errorf("Expected only the new fragment in third drain, got %v", third)
	}
}

func TestBufferRestorePreservesOrder(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append(NewFragment([]byte("first")))
	buffer.Append(NewFragment([]byte("second")))

	drained := buffer.Drain()
	if buffer.TotalSize() != 0 {
		t.Fatalf("Expected empty buffer after drain, got %d bytes", buffer.TotalSize())
	}

	// A fragment arriving between drain and restore must stay behind the
	// restored ones
	buffer.Append(NewFragment([]byte("third")))
	buffer.Restore(drained)

	if buffer.TotalSize() != 16 {
		t.Errorf("Expected 16 bytes after restore, got %d", buffer.TotalSize())
	}

	final := buffer.Drain()
	expected := []string{"first", "second", "third"}
	if len(final) != len(expected) {
		t.Fatalf("Expected %d fragments, got %d", len(expected), len(final))
	}

	for i, want := range expected {
		if string(final[i].Data) != want {
			t.Errorf("Fragment %d: expected %q, got %q", i, want, final[i].Data)
		}
	}

	stats := buffer.Stats()
	if stats.AppendedCount != 3 {
		t.Errorf("Expected restore to leave appended count at 3, got %d", stats.AppendedCount)
	}
}

func TestBufferStats(t *testing.T) {
	buffer := NewBuffer()

	buffer.Append(NewFragment(make([]byte, 100)))
	buffer.Append(NewFragment(make([]byte, 200)))
	buffer.Drain()
	buffer.Append(NewFragment(make([]byte, 50)))

	stats := buffer.Stats()

	if stats.FragmentCount != 1 {
		t.Errorf("Expected 1 buffered fragment, got %d", stats.FragmentCount)
	}

	if stats.TotalBytes != 50 {
		t.Errorf("Expected 50 buffered bytes, got %d", stats.TotalBytes)
	}

	if stats.AppendedCount != 3 {
		t.Errorf("Expected 3 appended fragments, got %d", stats.AppendedCount)
	}

	if stats.AppendedBytes != 350 {
		t.Errorf("Expected 350 appended bytes, got %d", stats.AppendedBytes)
	}

	if stats.DrainCount != 1 {
		t.Errorf("Expected 1 drain, got %d", stats.DrainCount)
	}
}

func TestBufferConcurrentAccess(t *testing.T) {
	buffer := NewBuffer()

	const writers = 10
	const perWriter = 100

	var wg sync.WaitGroup
	var drainedBytes int64
	var drainedMu sync.Mutex

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				buffer.Append(NewFragment(make([]byte, 10)))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			for _, fragment := range buffer.Drain() {
				drainedMu.Lock()
				drainedBytes += int64(fragment.Size())
				drainedMu.Unlock()
			}
		}
	}()

	wg.Wait()

	// Whatever was not drained must still be buffered; nothing is lost
	remaining := int64(buffer.TotalSize())
	total := drainedBytes + remaining

	expected := int64(writers * perWriter * 10)
	if total != expected {
		t.Errorf("Expected %d total bytes across drains and buffer, got %d", expected, total)
	}
}
