// Package events publishes transcript and note lifecycle events to a message
// broker. Publishing is optional: with no broker URL configured the publisher
// runs disabled and every publish is a no-op, so downstream consumers are an
// integration concern rather than a dependency of the upload path.
package events
