// Package capture implements the recording side of the pipeline: the capture
// device abstraction, the recording session lifecycle, and the controller
// event loop that buffers fragments and hands flushed epochs to the upload
// dispatcher.
package capture
