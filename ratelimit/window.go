package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowConfig shapes one sliding-window rate-limit component.
type SlidingWindowConfig struct {
	Enabled  bool
	Duration time.Duration
	Limit    int
	Segments int // >= 1; 1 degenerates to a fixed window
	QueueMax int
}

type slidingWindowState struct {
	queue    *partitionQueue
	segDur   time.Duration
	curIdx   int64
	curStart time.Time
	counts   map[int64]int
}

// SlidingWindowLimiter implements Limiter with a segmented sliding
// window per partition key: the window is divided into Segments
// sub-windows; the permits counted toward the limit is the sum over the
// last Segments sub-windows, with the oldest of them weighted by the
// elapsed fraction of the current sub-window (the standard two-counter
// sliding-window approximation, generalized to N segments; Segments=1
// collapses the weighted term away and behaves as a plain fixed window).
type SlidingWindowLimiter struct {
	name   string
	cfg    SlidingWindowConfig
	mu     sync.Mutex
	states map[string]*slidingWindowState
	now    func() time.Time
}

// NewSlidingWindowLimiter builds a SlidingWindowLimiter named name from cfg.
func NewSlidingWindowLimiter(name string, cfg SlidingWindowConfig) *SlidingWindowLimiter {
	if cfg.Segments < 1 {
		cfg.Segments = 1
	}
	return &SlidingWindowLimiter{
		name:   name,
		cfg:    cfg,
		states: map[string]*slidingWindowState{},
		now:    time.Now,
	}
}

func (l *SlidingWindowLimiter) Name() string { return l.name }

func (l *SlidingWindowLimiter) stateFor(key string) *slidingWindowState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[key]
	if !ok {
		segDur := l.cfg.Duration / time.Duration(l.cfg.Segments)
		if segDur <= 0 {
			segDur = l.cfg.Duration
		}
		now := l.now()
		idx := now.UnixNano() / int64(segDur)
		st = &slidingWindowState{
			queue:    newPartitionQueue(l.cfg.QueueMax),
			segDur:   segDur,
			curIdx:   idx,
			curStart: time.Unix(0, idx*int64(segDur)),
			counts:   map[int64]int{},
		}
		l.states[key] = st
	}
	return st
}

func (l *SlidingWindowLimiter) Acquire(ctx context.Context, key string, n int) (Lease, error) {
	if !l.cfg.Enabled {
		return noopLease{}, nil
	}
	st := l.stateFor(key)

	rotate := func() {
		now := l.now()
		idx := now.UnixNano() / int64(st.segDur)
		if idx == st.curIdx {
			return
		}
		st.curIdx = idx
		st.curStart = time.Unix(0, idx*int64(st.segDur))
		oldest := idx - int64(l.cfg.Segments)
		for k := range st.counts {
			if k <= oldest {
				delete(st.counts, k)
			}
		}
	}

	weightedTotal := func() float64 {
		total := float64(st.counts[st.curIdx])
		for i := int64(1); i <= int64(l.cfg.Segments)-2; i++ {
			total += float64(st.counts[st.curIdx-i])
		}
		if l.cfg.Segments >= 2 {
			elapsed := l.now().Sub(st.curStart)
			weight := 1 - float64(elapsed)/float64(st.segDur)
			if weight < 0 {
				weight = 0
			}
			total += float64(st.counts[st.curIdx-int64(l.cfg.Segments)+1]) * weight
		}
		return total
	}

	tryGrant := func(want int) bool {
		if weightedTotal()+float64(want) <= float64(l.cfg.Limit) {
			st.counts[st.curIdx] += want
			return true
		}
		return false
	}

	release := func(n int) {
		st.counts[st.curIdx] -= n
		if st.counts[st.curIdx] < 0 {
			st.counts[st.curIdx] = 0
		}
	}

	tick := st.segDur
	if tick <= 0 {
		tick = time.Second
	}
	return st.queue.acquireOrQueue(ctx, l.name, key, n, rotate, tryGrant, release, tick)
}
