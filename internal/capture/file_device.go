package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/medscribe/scribe-service/internal/segment"
)

// FileDeviceConfig contains file-backed capture device configuration
type FileDeviceConfig struct {
	Path          string
	FragmentBytes int
	Interval      time.Duration
	Loop          bool
}

// FileDevice emits fixed-size fragments from a media file on a fixed
// interval, standing in for a live microphone. When the file is exhausted the
// device goes quiet until stopped, unless Loop wraps it back to the start.
type FileDevice struct {
	config FileDeviceConfig

	data      []byte
	offset    int
	fragments chan segment.Fragment
	errors    chan error
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool

	mu sync.Mutex
}

// NewFileDevice creates a file-backed capture device
func NewFileDevice(config FileDeviceConfig) (*FileDevice, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	if config.FragmentBytes <= 0 {
		config.FragmentBytes = 4096
	}

	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}

	return &FileDevice{config: config}, nil
}

// Start reads the source file and begins emitting fragments. Each Start
// opens a fresh emission channel, so a device can serve consecutive runs.
func (d *FileDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("device already started")
	}

	data, err := os.ReadFile(d.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture source %s: %w", d.config.Path, err)
	}

	if len(data) == 0 {
		return fmt.Errorf("capture source %s is empty", d.config.Path)
	}

	d.data = data
	d.offset = 0
	d.fragments = make(chan segment.Fragment, 64)
	d.errors = make(chan error, 4)
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.running = true

	go d.run(ctx, d.fragments, d.stopCh, d.doneCh)

	return nil
}

// Stop ends emission and waits for the device goroutine to exit. The
// fragment channel is closed once any buffered fragments remain readable.
func (d *FileDevice) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stopCh := d.stopCh
	doneCh := d.doneCh
	d.mu.Unlock()

	close(stopCh)
	<-doneCh

	return nil
}

// Fragments returns the emission channel for the current run
func (d *FileDevice) Fragments() <-chan segment.Fragment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fragments
}

// Errors returns the channel for runtime capture errors
func (d *FileDevice) Errors() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors
}

func (d *FileDevice) run(ctx context.Context, fragments chan segment.Fragment, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer close(fragments)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fragment, ok := d.nextFragment()
			if !ok {
				continue
			}

			// Abort a blocked send on stop so Stop never deadlocks
			// against a full channel
			select {
			case fragments <- fragment:
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// nextFragment cuts the next block from the source data
func (d *FileDevice) nextFragment() (segment.Fragment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.offset >= len(d.data) {
		if !d.config.Loop {
			return segment.Fragment{}, false
		}
		d.offset = 0
	}

	end := d.offset + d.config.FragmentBytes
	if end > len(d.data) {
		end = len(d.data)
	}

	chunk := make([]byte, end-d.offset)
	copy(chunk, d.data[d.offset:end])
	d.offset = end

	return segment.NewFragment(chunk), true
}
