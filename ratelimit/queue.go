package ratelimit

import (
	"context"
	"sync"
	"time"
)

// waiter is one FIFO-queued acquisition request within a partition.
type waiter struct {
	permits int
	grantCh chan error
}

// partitionQueue is the FIFO wait-list and ticking-refill machinery
// shared by the token-bucket and sliding-window partitions: a full queue
// refuses immediately, otherwise the request waits in arrival order. A
// background goroutine per partition re-evaluates the queue head every
// tick while waiters remain, and is retired once the queue drains.
type partitionQueue struct {
	mu       sync.Mutex
	queueMax int
	waiters  []*waiter
	ticking  bool
}

func newPartitionQueue(queueMax int) *partitionQueue {
	return &partitionQueue{queueMax: queueMax}
}

// tryEnqueue appends w if there is room, reporting whether it was queued.
func (q *partitionQueue) tryEnqueue(w *waiter) bool {
	if len(q.waiters) >= q.queueMax {
		return false
	}
	q.waiters = append(q.waiters, w)
	return true
}

// remove drops w from the queue (used on cancellation).
func (q *partitionQueue) remove(w *waiter) {
	for i, cand := range q.waiters {
		if cand == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// runTicker starts the background satisfaction loop if one isn't already
// running for this partition. tick is called with the mutex held and
// should grant permits to as many queue-head waiters as currently
// available, in order, stopping at the first it cannot satisfy.
func (q *partitionQueue) runTicker(period time.Duration, tick func()) {
	if q.ticking {
		return
	}
	q.ticking = true
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for range t.C {
			q.mu.Lock()
			tick()
			done := len(q.waiters) == 0
			if done {
				q.ticking = false
			}
			q.mu.Unlock()
			if done {
				return
			}
		}
	}()
}

// acquireOrQueue is the common entry point: it refills (via refill, called
// with the mutex held), tries to grant immediately if the queue is
// already empty, otherwise queues and waits for either a grant, a
// queue-full refusal, or ctx cancellation.
func (q *partitionQueue) acquireOrQueue(
	ctx context.Context,
	partitionName, key string,
	permits int,
	refill func(),
	tryGrant func(n int) bool,
	release func(n int), // returns n permits to the underlying counter; no-op for sliding windows
	tickPeriod time.Duration,
) (Lease, error) {
	q.mu.Lock()
	refill()
	if len(q.waiters) == 0 && tryGrant(permits) {
		q.mu.Unlock()
		return releaseFunc(func() {
			q.mu.Lock()
			release(permits)
			q.mu.Unlock()
		}), nil
	}

	w := &waiter{permits: permits, grantCh: make(chan error, 1)}
	if !q.tryEnqueue(w) {
		q.mu.Unlock()
		return nil, &LeaseAcquisitionError{Partition: partitionName, Key: key, Reason: "queue full"}
	}
	q.runTicker(tickPeriod, func() {
		refill()
		for len(q.waiters) > 0 {
			head := q.waiters[0]
			if !tryGrant(head.permits) {
				break
			}
			q.waiters = q.waiters[1:]
			head.grantCh <- nil
		}
	})
	q.mu.Unlock()

	select {
	case err := <-w.grantCh:
		if err != nil {
			return nil, err
		}
		permitsGranted := permits
		return releaseFunc(func() {
			q.mu.Lock()
			release(permitsGranted)
			q.mu.Unlock()
		}), nil
	case <-ctx.Done():
		q.mu.Lock()
		q.remove(w)
		q.mu.Unlock()
		return nil, &LeaseAcquisitionError{Partition: partitionName, Key: key, Reason: "cancelled"}
	}
}

type releaseFunc func()

func (f releaseFunc) Release() { f() }
