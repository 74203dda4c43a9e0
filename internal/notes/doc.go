// Package notes provides the note-generation collaborator client and the
// clinical documentation prompt. The accumulated conversation transcript is
// wrapped in a SOAP-note prompt and sent through a chat-completions API; the
// collaborator's output is returned unmodified.
package notes
