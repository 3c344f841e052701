package engine

import (
	"context"
	"sync"

	"github.com/corywalker/ircframe/message"
)

// eventBus is the one-shot, filtered subscription mechanism the Design
// Notes call for in place of "event += handler, handler removes itself":
// callers get an explicit subscription handle, and correlated awaits
// (JOIN/PART, OPER, CHALLENGE) are built on top of it rather than on a
// broad fan-out event field.
type eventBus struct {
	mu   sync.Mutex
	subs map[int]func(*message.Command) bool
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: map[int]func(*message.Command) bool{}}
}

// subscription is a disposable handle; Unsubscribe is safe to call more
// than once and safe to call from within the subscriber's own callback.
type subscription struct {
	bus *eventBus
	id  int
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

// subscribe registers fn, called with every command the bus publishes
// until fn returns true (meaning "consumed, unsubscribe me").
func (b *eventBus) subscribe(fn func(*message.Command) bool) *subscription {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return &subscription{bus: b, id: id}
}

// publish delivers cmd to every current subscriber, removing any that
// report themselves consumed. Subscriber callbacks must not block.
func (b *eventBus) publish(cmd *message.Command) {
	b.mu.Lock()
	snapshot := make(map[int]func(*message.Command) bool, len(b.subs))
	for id, fn := range b.subs {
		snapshot[id] = fn
	}
	b.mu.Unlock()

	for id, fn := range snapshot {
		if fn(cmd) {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		}
	}
}

// watch registers match immediately and returns a wait function, so a
// caller can subscribe before sending the command its reply correlates
// with — otherwise a fast server could answer in the window between the
// send and the subscription and the await would never complete.
func (b *eventBus) watch(match func(*message.Command) bool) func(ctx context.Context, closed <-chan struct{}) (*message.Command, error) {
	result := make(chan *message.Command, 1)
	sub := b.subscribe(func(cmd *message.Command) bool {
		if !match(cmd) {
			return false
		}
		select {
		case result <- cmd:
		default:
		}
		return true
	})
	return func(ctx context.Context, closed <-chan struct{}) (*message.Command, error) {
		defer sub.Unsubscribe()
		select {
		case cmd := <-result:
			return cmd, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-closed:
			return nil, errNetworkClosed
		}
	}
}

// awaitCommand blocks until match returns true for some published
// command, ctx is done, or closed fires (network torn down).
func (b *eventBus) awaitCommand(ctx context.Context, closed <-chan struct{}, match func(*message.Command) bool) (*message.Command, error) {
	return b.watch(match)(ctx, closed)
}
