package ratelimit

import "fmt"

// LeaseAcquisitionError is returned when a limiter in the chain refuses to
// grant permits, either immediately (queue full) or because the context
// was cancelled while waiting in the FIFO queue. It carries
// enough metadata for the caller to decide what to do (log, drop, retry
// elsewhere).
type LeaseAcquisitionError struct {
	// Partition names the limiter that refused, e.g. "per-target",
	// "per-command", "global-command", "global-bytes".
	Partition string
	// Key is the partition key within that limiter, e.g. the channel name
	// or "PRIVMSG`2".
	Key string
	// Reason is a short machine-stable string, e.g. "queue full" or
	// "cancelled".
	Reason string
}

func (e *LeaseAcquisitionError) Error() string {
	return fmt.Sprintf("rate limit: %s[%s]: %s", e.Partition, e.Key, e.Reason)
}
