// Package server implements the HTTP API: audio segment uploads, SOAP note
// generation, and the monitoring/management endpoints. Every handler is
// wrapped with per-endpoint request metrics.
package server
