package capture

import (
	"context"
	"fmt"

	"github.com/medscribe/scribe-service/internal/segment"
)

// Device is the capture source abstraction. A device emits media fragments on
// its own cadence once started. The fragment channel belongs to one capture
// run: it is closed after Stop returns, once the final fragment has been
// handed off, so consumers can drain it to completion.
type Device interface {
	// Start acquires the capture source and begins emission. Acquisition
	// failures are returned before any fragment is produced.
	Start(ctx context.Context) error

	// Stop ends emission and waits for the device goroutine to finish
	Stop() error

	// Fragments returns the emission channel for the current run
	Fragments() <-chan segment.Fragment

	// Errors returns the channel for runtime capture errors
	Errors() <-chan error
}

// DeviceError indicates the capture source could not be acquired or failed
// while recording
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
