// Package observer implements the change-event fan-out: a
// snapshot-then-iterate publish over a registered observer set, modeled
// as plain message passing over channels rather than a shared event loop.
package observer

import (
	"sync"

	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// Subscription is a single observer's bounded, order-preserving queue.
type Subscription struct {
	id      uint64
	ch      chan types.Change
	fanout  *Fanout
	closed  bool
	mutex   sync.Mutex
	dropped uint64
}

// Changes returns the channel the subscriber should range over.
func (s *Subscription) Changes() <-chan types.Change {
	return s.ch
}

// Dropped returns the number of changes dropped on this subscription due to
// queue overflow.
func (s *Subscription) Dropped() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.dropped
}

// Unsubscribe removes this subscription from the fan-out and closes its
// channel. Idempotent and safe concurrent with Publish.
func (s *Subscription) Unsubscribe() {
	s.fanout.remove(s.id)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Fanout is the registry of live subscriptions. Mutation of the set is
// serialized with respect to Publish's snapshot-then-iterate read.
type Fanout struct {
	mutex   sync.RWMutex
	nextID  uint64
	members map[uint64]*Subscription
	depth   int
}

// New builds an empty Fanout whose subscriptions are bounded to depth.
func New(depth int) *Fanout {
	if depth <= 0 {
		depth = 1024
	}
	return &Fanout{
		members: make(map[uint64]*Subscription),
		depth:   depth,
	}
}

// Subscribe creates a new bounded subscription.
func (f *Fanout) Subscribe() *Subscription {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nextID++
	sub := &Subscription{
		id:     f.nextID,
		ch:     make(chan types.Change, f.depth),
		fanout: f,
	}
	f.members[sub.id] = sub
	return sub
}

func (f *Fanout) remove(id uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.members, id)
}

// Publish enqueues change on every live subscription. The enqueue is
// non-blocking and cross-context-safe: on a full queue, the oldest pending
// change is dropped to make room.
func (f *Fanout) Publish(change types.Change) {
	f.mutex.RLock()
	subs := make([]*Subscription, 0, len(f.members))
	for _, s := range f.members {
		subs = append(subs, s)
	}
	f.mutex.RUnlock()

	for _, s := range subs {
		s.deliver(change)
	}
}

func (s *Subscription) deliver(change types.Change) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- change:
		return
	default:
	}
	// Queue full: drop the oldest entry to make room, then retry once.
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- change:
	default:
		s.dropped++
	}
}

// CloseAll unsubscribes and closes every live subscription, used by the
// peer's Close to make all change streams terminate cleanly.
func (f *Fanout) CloseAll() {
	f.mutex.Lock()
	members := f.members
	f.members = make(map[uint64]*Subscription)
	f.mutex.Unlock()

	for _, s := range members {
		s.mutex.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mutex.Unlock()
	}
}
