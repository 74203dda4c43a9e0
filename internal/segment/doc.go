// Package segment provides fragment buffering and flush policy evaluation for
// the capture client. It accumulates captured media fragments between uploads
// and decides when the accumulated bytes justify a network round trip.
package segment
