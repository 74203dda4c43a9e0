// Package upload implements segment delivery from the capture client to the
// orchestrator. It provides the multipart HTTP transport and a serializing
// dispatcher that bounds outstanding epochs and retries failed uploads with
// exponential backoff.
package upload
