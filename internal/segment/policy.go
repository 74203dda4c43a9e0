package segment

// DefaultFlushThreshold is the accumulation threshold used when no explicit
// value is configured. Small thresholds flush nearly every fragment; larger
// ones trade upload frequency for per-request payload size.
const DefaultFlushThreshold = 5 * 1024 * 1024 // 5 MiB

// FlushPolicy decides when the accumulated buffer justifies a network round
// trip. The decision is a pure function of the byte total and the force flag:
// a flush happens when forced (session stop) or when the total has reached
// the configured threshold.
type FlushPolicy struct {
	threshold int
}

// NewFlushPolicy creates a policy with the given byte threshold. Values less
// than 1 fall back to DefaultFlushThreshold.
func NewFlushPolicy(thresholdBytes int) *FlushPolicy {
	if thresholdBytes < 1 {
		thresholdBytes = DefaultFlushThreshold
	}
	return &FlushPolicy{threshold: thresholdBytes}
}

// ShouldFlush reports whether a flush is due for the given accumulated size
func (p *FlushPolicy) ShouldFlush(totalSize int, force bool) bool {
	return force || totalSize >= p.threshold
}

// Threshold returns the configured byte threshold
func (p *FlushPolicy) Threshold() int {
	return p.threshold
}
