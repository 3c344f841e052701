// Package ratelimit implements the send-side rate-limiting pipeline: a
// chain of partitioned limiters, each either a token bucket or a sliding
// window, gating every outbound command before its bytes reach the socket.
// The bucket and window are hand-written rather than built on
// golang.org/x/time/rate: the exact floor-division refill formula and the
// FIFO overflow queue (queue-full must fail fast with metadata, not
// block) don't fit rate.Limiter's leaky-bucket/Wait model.
package ratelimit

import "context"

// Lease represents permits granted by one limiter. Release returns the
// permits to the limiter if the send is abandoned after they were granted
// but before all limiters in the chain succeeded.
type Lease interface {
	Release()
}

// Limiter is one stage of the chain: a partitioned gate that grants or
// refuses permits for a given key.
type Limiter interface {
	// Name identifies this limiter in LeaseAcquisitionError, e.g.
	// "per-target".
	Name() string
	// Acquire waits for n permits under partition key, or returns a
	// *LeaseAcquisitionError if refused (queue full) or ctx is done while
	// queued.
	Acquire(ctx context.Context, key string, n int) (Lease, error)
}

// noopLease is returned by limiters with nothing to release (bypassed
// partitions, disabled limiters).
type noopLease struct{}

func (noopLease) Release() {}

// Chain asks each of its Limiters in order to lease permits, in the order
// Send was called, and requires all to succeed before the command is
// allowed through. If any stage refuses, all
// previously acquired leases in this call are released atomically and the
// refusal is returned to the caller; no bytes reach the socket.
type Chain struct {
	stages []chainStage
}

type chainStage struct {
	limiter Limiter
	keyFunc func(verb string, args []string, nBytes int) (key string, permits int)
}

// Stage adds a limiter to the end of the chain, paired with the function
// that derives its partition key and permit count from the outbound
// command.
func (c *Chain) Stage(l Limiter, keyFunc func(verb string, args []string, nBytes int) (string, int)) {
	c.stages = append(c.stages, chainStage{limiter: l, keyFunc: keyFunc})
}

// Acquire runs the command through every stage in declared order,
// returning a single Lease covering all of them. Cancelling ctx at any
// await point releases everything acquired so far for this call.
func (c *Chain) Acquire(ctx context.Context, verb string, args []string, nBytes int) (Lease, error) {
	granted := make([]Lease, 0, len(c.stages))
	release := func() {
		for i := len(granted) - 1; i >= 0; i-- {
			granted[i].Release()
		}
	}

	for _, stage := range c.stages {
		key, permits := stage.keyFunc(verb, args, nBytes)
		lease, err := stage.limiter.Acquire(ctx, key, permits)
		if err != nil {
			release()
			return nil, err
		}
		granted = append(granted, lease)
	}

	return chainLease(granted), nil
}

type chainLease []Lease

func (l chainLease) Release() {
	for i := len(l) - 1; i >= 0; i-- {
		l[i].Release()
	}
}
