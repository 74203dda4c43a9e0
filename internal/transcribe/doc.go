// Package transcribe provides clients for the transcription collaborator.
// The batch client posts whole segments over HTTP and folds word-level
// diarized results into single-line transcripts; the stream client speaks
// the websocket recognition protocol for servers that consume chunked audio.
package transcribe
