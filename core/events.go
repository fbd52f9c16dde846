package core

import (
	"sync"

	"github.com/seal-network/gseal/core/types"
)

// ChainEvent is posted after the store accepts a new tip, either by
// append or by wholesale replacement.
type ChainEvent struct {
	Block    *types.Block
	Replaced bool
}

// Subscription is the handle returned by SubscribeChainEvent.
type Subscription struct {
	feed *eventFeed
	ch   chan<- ChainEvent
}

// Unsubscribe removes the channel from the feed. It is safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.feed.remove(s.ch)
}

// eventFeed is a minimal fan-out of chain events to subscribers.
// Deliveries are non-blocking: a subscriber that falls behind misses
// events rather than stalling the writer, which is acceptable because
// consumers converge through CHAIN exchange anyway.
type eventFeed struct {
	mu   sync.Mutex
	subs map[chan<- ChainEvent]struct{}
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[chan<- ChainEvent]struct{})}
}

func (f *eventFeed) subscribe(ch chan<- ChainEvent) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[ch] = struct{}{}
	return &Subscription{feed: f, ch: ch}
}

func (f *eventFeed) remove(ch chan<- ChainEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, ch)
}

func (f *eventFeed) post(ev ChainEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
