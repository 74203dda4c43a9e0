package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrDispatcherClosed is returned when an epoch is offered after Close
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Sender delivers one epoch to the orchestrator
type Sender interface {
	Send(ctx context.Context, epoch *Epoch) (*UploadResult, error)
}

// ResultHandler receives the outcome of each epoch after delivery or after
// retry attempts are exhausted. It runs on the dispatcher goroutine.
type ResultHandler func(epoch *Epoch, result *UploadResult, err error)

// DispatcherConfig contains dispatch queue configuration
type DispatcherConfig struct {
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Dispatcher serializes epoch uploads for one session. A single worker
// goroutine drains a bounded FIFO queue, so at most one send is in flight
// and epochs arrive at the orchestrator in flush order. A failing epoch is
// retried at the head of the line before the next epoch is attempted.
type Dispatcher struct {
	config  DispatcherConfig
	sender  Sender
	handler ResultHandler
	logger  *slog.Logger

	queue  chan *Epoch
	stopCh chan struct{}
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	stopped   bool
	enqueued  uint64
	delivered uint64
	failed    uint64
	retries   uint64
	rejected  uint64

	mu sync.RWMutex
}

// DispatcherStats represents dispatch queue statistics
type DispatcherStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Retries   uint64 `json:"retries"`
	Rejected  uint64 `json:"rejected"`
	Pending   int    `json:"pending"`
}

// NewDispatcher creates a dispatcher sending through the given sender.
// The handler may be nil when the caller does not need per-epoch outcomes.
func NewDispatcher(sender Sender, config DispatcherConfig, handler ResultHandler, logger *slog.Logger) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 4
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		config:  config,
		sender:  sender,
		handler: handler,
		logger:  logger,
		queue:   make(chan *Epoch, config.QueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the dispatch worker
func (d *Dispatcher) Start() {
	go d.run()

	d.logger.Info("Upload dispatcher started",
		slog.Int("queue_size", d.config.QueueSize),
		slog.Int("max_retries", d.config.MaxRetries))
}

// TryEnqueue offers an epoch without blocking. It reports false when the
// queue is full or the dispatcher is closed; the caller keeps the fragments
// buffered and retries on a later flush decision.
func (d *Dispatcher) TryEnqueue(epoch *Epoch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	select {
	case d.queue <- epoch:
		d.enqueued++
		return true
	default:
		d.rejected++
		return false
	}
}

// Enqueue blocks until the epoch is queued or the context expires. Session
// stop uses this for the final forced flush, which must never be dropped.
func (d *Dispatcher) Enqueue(ctx context.Context, epoch *Epoch) error {
	d.mu.RLock()
	stopped := d.stopped
	d.mu.RUnlock()

	if stopped {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- epoch:
		d.mu.Lock()
		d.enqueued++
		d.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}
}

// Close stops intake and waits for the remaining queue to drain. When the
// context expires first, in-flight work is cancelled and Close returns the
// context error.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.doneCh
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stopCh)

	select {
	case <-d.doneCh:
		d.logger.Info("Upload dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.doneCh
		d.logger.Warn("Upload dispatcher aborted with pending epochs",
			slog.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DispatcherStats{
		Enqueued:  d.enqueued,
		Delivered: d.delivered,
		Failed:    d.failed,
		Retries:   d.retries,
		Rejected:  d.rejected,
		Pending:   len(d.queue),
	}
}

// run is the dispatch loop. It owns the queue head: an epoch is only taken
// once the previous one has been delivered or abandoned.
func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for {
		select {
		case epoch := <-d.queue:
			d.deliver(epoch)
		case <-d.stopCh:
			d.drainQueue()
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// drainQueue delivers whatever was queued before Close
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case epoch := <-d.queue:
			d.deliver(epoch)
		case <-d.ctx.Done():
			return
		default:
			return
		}
	}
}

// deliver sends one epoch with bounded retries and exponential backoff
func (d *Dispatcher) deliver(epoch *Epoch) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			d.mu.Lock()
			d.retries++
			d.mu.Unlock()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * d.config.RetryBackoff
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			d.logger.Warn("Retrying epoch upload",
				slog.String("session_id", epoch.SessionID),
				slog.Uint64("epoch", epoch.Seq),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-d.ctx.Done():
				d.fail(epoch, d.ctx.Err())
				return
			}
		}

		result, err := d.sender.Send(d.ctx, epoch)
		if err == nil {
			d.mu.Lock()
			d.delivered++
			d.mu.Unlock()

			d.logger.Debug("Epoch delivered",
				slog.String("session_id", epoch.SessionID),
				slog.Uint64("epoch", epoch.Seq),
				slog.Int("bytes", epoch.Size()),
				slog.Int("fragments", len(epoch.Fragments)))

			if d.handler != nil {
				d.handler(epoch, result, nil)
			}
			return
		}

		lastErr = err

		if !IsRetryable(err) {
			break
		}
	}

	d.fail(epoch, fmt.Errorf("upload failed after %d attempts: %w", d.config.MaxRetries+1, lastErr))
}

// fail records a permanently failed epoch and surfaces it to the handler
func (d *Dispatcher) fail(epoch *Epoch, err error) {
	d.mu.Lock()
	d.failed++
	d.mu.Unlock()

	d.logger.Error("Epoch upload failed permanently",
		slog.String("session_id", epoch.SessionID),
		slog.Uint64("epoch", epoch.Seq),
		slog.Int("bytes", epoch.Size()),
		slog.String("error", err.Error()))

	if d.handler != nil {
		d.handler(epoch, nil, err)
	}
}
