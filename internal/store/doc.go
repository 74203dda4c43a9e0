// Package store provides the orchestrator's persistence layers: durable
// uniquely-named audio blobs, per-session append-only transcript logs, and an
// optional Postgres-backed archive of completed visits.
package store
