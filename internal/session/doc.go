// Package session orchestrates the server side of a visit: it owns the
// registry of active sessions, runs each upload through persistence and
// transcription, and turns accumulated transcripts into clinical notes.
//
// Uploads for one session serialize on a per-session lock, so transcripts are
// stored in arrival order even when requests overlap. Evicting an idle
// session drops only its in-memory state; the transcript log on disk remains
// and is reloaded when the session ID comes back.
package session
