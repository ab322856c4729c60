// Package testing provides the multi-peer test harness used by the
// package-level integration tests: an in-process broadcast bus instead of
// a real socket, so scenario tests run deterministically without binding
// UDP ports.
package testing

import "sync"

// Bus is an in-memory stand-in for the multicast group: every frame Send
// on any endpoint is delivered to every endpoint's Frames channel,
// including the sender's own — exactly like real IP multicast with
// loopback enabled, so origin filtering still has to do its job.
type Bus struct {
	mutex     sync.Mutex
	endpoints map[*BusEndpoint]struct{}
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{endpoints: make(map[*BusEndpoint]struct{})}
}

// Join attaches a new endpoint to the bus.
func (b *Bus) Join() *BusEndpoint {
	e := &BusEndpoint{
		bus:      b,
		incoming: make(chan []byte, 256),
	}
	b.mutex.Lock()
	b.endpoints[e] = struct{}{}
	b.mutex.Unlock()
	return e
}

func (b *Bus) leave(e *BusEndpoint) {
	b.mutex.Lock()
	delete(b.endpoints, e)
	b.mutex.Unlock()
}

func (b *Bus) broadcast(frame []byte) {
	b.mutex.Lock()
	targets := make([]*BusEndpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		targets = append(targets, e)
	}
	b.mutex.Unlock()

	for _, e := range targets {
		select {
		case e.incoming <- frame:
		default:
			// A slow test endpoint drops rather than blocking the bus,
			// matching real UDP's unreliable delivery.
		}
	}
}

// BusEndpoint implements core.Transport against a shared Bus.
type BusEndpoint struct {
	bus      *Bus
	incoming chan []byte
	once     sync.Once
}

// Send implements core.Transport.
func (e *BusEndpoint) Send(frame []byte) {
	e.bus.broadcast(frame)
}

// Frames implements core.Transport.
func (e *BusEndpoint) Frames() <-chan []byte {
	return e.incoming
}

// Close detaches the endpoint from the bus and closes its channel.
func (e *BusEndpoint) Close() {
	e.once.Do(func() {
		e.bus.leave(e)
		close(e.incoming)
	})
}
