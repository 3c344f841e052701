package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucketConfig shapes one token-bucket rate-limit component.
type TokenBucketConfig struct {
	Enabled         bool
	MaxTokens       int
	ReplenishPeriod time.Duration
	ReplenishAmount int
	QueueMax        int
}

type tokenBucketState struct {
	queue      *partitionQueue
	available  float64
	lastRefill time.Time
}

// TokenBucketLimiter implements Limiter with one independent token
// bucket per partition key. A bucket starts full; each acquire first
// refills floor((now-lastRefill)/period)*amount tokens, clamped to max,
// then deducts and grants if enough are available, else enqueues.
type TokenBucketLimiter struct {
	name   string
	cfg    TokenBucketConfig
	mu     sync.Mutex
	states map[string]*tokenBucketState
	now    func() time.Time
}

// NewTokenBucketLimiter builds a TokenBucketLimiter named name (used in
// LeaseAcquisitionError) from cfg. If !cfg.Enabled, Acquire always
// succeeds immediately (disabled limiters bypass).
func NewTokenBucketLimiter(name string, cfg TokenBucketConfig) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		name:   name,
		cfg:    cfg,
		states: map[string]*tokenBucketState{},
		now:    time.Now,
	}
}

func (l *TokenBucketLimiter) Name() string { return l.name }

func (l *TokenBucketLimiter) stateFor(key string) *tokenBucketState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[key]
	if !ok {
		st = &tokenBucketState{
			queue:      newPartitionQueue(l.cfg.QueueMax),
			available:  float64(l.cfg.MaxTokens),
			lastRefill: l.now(),
		}
		l.states[key] = st
	}
	return st
}

func (l *TokenBucketLimiter) Acquire(ctx context.Context, key string, n int) (Lease, error) {
	if !l.cfg.Enabled {
		return noopLease{}, nil
	}
	st := l.stateFor(key)

	refill := func() {
		elapsed := l.now().Sub(st.lastRefill)
		if l.cfg.ReplenishPeriod <= 0 {
			return
		}
		ticks := int(elapsed / l.cfg.ReplenishPeriod)
		if ticks <= 0 {
			return
		}
		st.available += float64(ticks * l.cfg.ReplenishAmount)
		if st.available > float64(l.cfg.MaxTokens) {
			st.available = float64(l.cfg.MaxTokens)
		}
		st.lastRefill = st.lastRefill.Add(time.Duration(ticks) * l.cfg.ReplenishPeriod)
	}

	tryGrant := func(want int) bool {
		if st.available >= float64(want) {
			st.available -= float64(want)
			return true
		}
		return false
	}

	release := func(n int) {
		st.available += float64(n)
		if st.available > float64(l.cfg.MaxTokens) {
			st.available = float64(l.cfg.MaxTokens)
		}
	}

	period := l.cfg.ReplenishPeriod
	if period <= 0 {
		period = time.Second
	}
	return st.queue.acquireOrQueue(ctx, l.name, key, n, refill, tryGrant, release, period)
}
