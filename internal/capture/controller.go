package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medscribe/scribe-service/internal/segment"
	"github.com/medscribe/scribe-service/internal/upload"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNotRecording is returned by Stop when no session is active
	ErrNotRecording = errors.New("not recording")
)

// State represents the controller lifecycle state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// RecordingSession represents one start-to-stop capture lifecycle. The
// session owns the buffer and the epoch sequence; both are released when the
// controller returns to idle.
type RecordingSession struct {
	ID        string
	StartedAt time.Time

	buffer   *segment.Buffer
	epochSeq uint64
}

func newRecordingSession() *RecordingSession {
	return &RecordingSession{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		buffer:    segment.NewBuffer(),
	}
}

// EpochDispatcher hands flushed epochs to the upload pipeline. TryEnqueue is
// the non-blocking path for threshold flushes; Enqueue blocks and is reserved
// for the final flush at stop.
type EpochDispatcher interface {
	TryEnqueue(epoch *upload.Epoch) bool
	Enqueue(ctx context.Context, epoch *upload.Epoch) error
}

// Controller drives the capture lifecycle: idle, recording, stopping. A
// single event-loop goroutine owns all buffer mutation, so appends, flush
// decisions and drains never interleave.
type Controller struct {
	device     Device
	dispatcher EpochDispatcher
	policy     *segment.FlushPolicy
	logger     *slog.Logger

	state   State
	session *RecordingSession
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Lifetime counters across sessions
	fragmentsSeen uint64
	bytesSeen     uint64
	flushes       uint64
	backpressure  uint64
	lastError     string

	mu sync.RWMutex
}

// Status represents a controller state snapshot
type Status struct {
	State             string    `json:"state"`
	SessionID         string    `json:"session_id,omitempty"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	BufferedFragments int       `json:"buffered_fragments"`
	BufferedBytes     int       `json:"buffered_bytes"`
	FragmentsSeen     uint64    `json:"fragments_seen"`
	BytesSeen         uint64    `json:"bytes_seen"`
	Flushes           uint64    `json:"flushes"`
	BackpressureHits  uint64    `json:"backpressure_hits"`
	LastError         string    `json:"last_error,omitempty"`
}

// NewController creates a capture controller in the idle state
func NewController(device Device, dispatcher EpochDispatcher, policy *segment.FlushPolicy, logger *slog.Logger) *Controller {
	return &Controller{
		device:     device,
		dispatcher: dispatcher,
		policy:     policy,
		logger:     logger,
	}
}

// Start acquires the device and begins a new recording session. It returns
// the new session ID, or ErrAlreadyRecording when a session is active or
// still stopping. On device acquisition failure no session is created and
// the controller stays idle.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()

	if c.state != StateIdle {
		c.mu.Unlock()
		return "", ErrAlreadyRecording
	}

	if err := c.device.Start(ctx); err != nil {
		c.mu.Unlock()
		return "", &DeviceError{Op: "acquire", Err: err}
	}

	session := newRecordingSession()
	c.session = session
	c.state = StateRecording
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh

	c.mu.Unlock()

	go c.run(session, stopCh, doneCh)

	c.logger.Info("Recording started",
		slog.String("session_id", session.ID),
		slog.Int("flush_threshold", c.policy.Threshold()))

	return session.ID, nil
}

// Stop ends the active session: emission stops, remaining fragments are
// collected, and the final forced flush is enqueued before the controller
// returns to idle. Stop returns ErrNotRecording when no session is active;
// the state is not disturbed.
func (c *Controller) Stop() error {
	c.mu.Lock()

	if c.state != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}

	c.state = StateStopping
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh

	return nil
}

// Status returns a snapshot of the controller state
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		State:            c.state.String(),
		FragmentsSeen:    c.fragmentsSeen,
		BytesSeen:        c.bytesSeen,
		Flushes:          c.flushes,
		BackpressureHits: c.backpressure,
		LastError:        c.lastError,
	}

	if c.session != nil {
		status.SessionID = c.session.ID
		status.StartedAt = c.session.StartedAt
		bufStats := c.session.buffer.Stats()
		status.BufferedFragments = bufStats.FragmentCount
		status.BufferedBytes = bufStats.TotalBytes
	}

	return status
}

// run is the session event loop and the only goroutine that mutates the
// buffer. It exits after the stop signal once the final flush is enqueued.
func (c *Controller) run(session *RecordingSession, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	fragments := c.device.Fragments()
	deviceErrors := c.device.Errors()

	for {
		select {
		case fragment, ok := <-fragments:
			if !ok {
				// Emission ended on its own; park until stop
				fragments = nil
				continue
			}
			c.handleFragment(session, fragment)
		case err, ok := <-deviceErrors:
			if !ok {
				deviceErrors = nil
				continue
			}
			c.recordError(&DeviceError{Op: "capture", Err: err})
		case <-stopCh:
			c.finish(session)
			return
		}
	}
}

// handleFragment appends one fragment and evaluates the flush policy
func (c *Controller) handleFragment(session *RecordingSession, fragment segment.Fragment) {
	session.buffer.Append(fragment)

	c.mu.Lock()
	c.fragmentsSeen++
	c.bytesSeen += uint64(fragment.Size())
	c.mu.Unlock()

	c.maybeFlush(session, false)
}

// finish runs the stop sequence: release the device, collect whatever it
// emitted before closing, then force the final flush.
func (c *Controller) finish(session *RecordingSession) {
	if err := c.device.Stop(); err != nil {
		c.recordError(&DeviceError{Op: "release", Err: err})
	}

	for fragment := range c.device.Fragments() {
		session.buffer.Append(fragment)

		c.mu.Lock()
		c.fragmentsSeen++
		c.bytesSeen += uint64(fragment.Size())
		c.mu.Unlock()
	}

	c.maybeFlush(session, true)

	c.mu.Lock()
	c.state = StateIdle
	c.session = nil
	flushes := c.flushes
	c.mu.Unlock()

	c.logger.Info("Recording stopped",
		slog.String("session_id", session.ID),
		slog.Duration("duration", time.Since(session.StartedAt)),
		slog.Uint64("epochs", session.epochSeq),
		slog.Uint64("total_flushes", flushes))
}

// maybeFlush drains and enqueues an epoch when the policy calls for it.
// Threshold flushes never block: when the dispatcher queue is full the
// drained fragments are restored to the buffer and retried on a later
// append. The forced flush at stop blocks until queued so the session tail
// is never dropped.
func (c *Controller) maybeFlush(session *RecordingSession, force bool) {
	if !c.policy.ShouldFlush(session.buffer.TotalSize(), force) {
		return
	}

	drained := session.buffer.Drain()
	if len(drained) == 0 {
		return
	}

	session.epochSeq++
	epoch := &upload.Epoch{
		SessionID: session.ID,
		Seq:       session.epochSeq,
		Fragments: drained,
		DrainedAt: time.Now(),
	}

	if force {
		if err := c.dispatcher.Enqueue(context.Background(), epoch); err != nil {
			session.epochSeq--
			c.recordError(err)
			return
		}
	} else {
		if !c.dispatcher.TryEnqueue(epoch) {
			// Safe to restore: this loop is the only appender, so the
			// fragments rejoin an order no one else has touched
			session.buffer.Restore(drained)
			session.epochSeq--

			c.mu.Lock()
			c.backpressure++
			c.mu.Unlock()

			c.logger.Warn("Upload queue full, keeping fragments buffered",
				slog.String("session_id", session.ID),
				slog.Int("buffered_bytes", session.buffer.TotalSize()))
			return
		}
	}

	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()

	c.logger.Debug("Epoch flushed",
		slog.String("session_id", session.ID),
		slog.Uint64("epoch", epoch.Seq),
		slog.Int("bytes", epoch.Size()),
		slog.Int("fragments", len(epoch.Fragments)),
		slog.Bool("forced", force))
}

// recordError stores the most recent failure for status reporting
func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()

	c.logger.Error("Capture error", slog.String("error", err.Error()))
}
