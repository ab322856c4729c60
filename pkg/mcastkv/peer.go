// Package mcastkv implements a small eventually-consistent replicated
// key-value map shared across a local network by peers that discover one
// another without a coordinator. Peer is the public facade: a map-style
// read/write API plus a subscription API returning a change stream.
package mcastkv

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jabolina/mcastkv/pkg/mcastkv/clock"
	"github.com/jabolina/mcastkv/pkg/mcastkv/codec"
	"github.com/jabolina/mcastkv/pkg/mcastkv/core"
	"github.com/jabolina/mcastkv/pkg/mcastkv/logging"
	"github.com/jabolina/mcastkv/pkg/mcastkv/observer"
	"github.com/jabolina/mcastkv/pkg/mcastkv/random"
	"github.com/jabolina/mcastkv/pkg/mcastkv/store"
	"github.com/jabolina/mcastkv/pkg/mcastkv/transport"
	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// ErrClosed is returned by every facade operation once Close has run.
var ErrClosed = errors.New("mcastkv: peer is closed")

// ErrOversizeWrite is returned by Set when the encoded value would exceed
// the configured frame ceiling. The Store is left untouched.
var ErrOversizeWrite = core.ErrOversizeWrite

// ErrDeleteUnsupported is returned by Delete: the protocol never deletes
// entries.
var ErrDeleteUnsupported = errors.New("mcastkv: delete is not supported by the replication protocol")

// Change is one (key, value) notification delivered to a subscription.
type Change = types.Change

// Subscription is a live change stream; see Peer.Subscribe.
type Subscription struct {
	sub *observer.Subscription
}

// Changes returns the channel to range over for incoming changes. It is
// closed when Unsubscribe or the owning Peer's Close runs.
func (s *Subscription) Changes() <-chan Change {
	return s.sub.Changes()
}

// Dropped reports how many changes this subscription has lost to queue
// overflow.
func (s *Subscription) Dropped() uint64 {
	return s.sub.Dropped()
}

// Unsubscribe detaches this subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.sub.Unsubscribe()
}

// Peer is one running instance of the facade, identified by a NodeId
// stable for its lifetime.
type Peer struct {
	id types.NodeId
	cfg Configuration

	closeTransport func() error
	store          *store.Store
	fanout   *observer.Fanout
	rep      *core.Replicator
	invoker  core.Invoker
	log      types.Logger

	closeMutex sync.Mutex
	closed     bool
}

// isClosed reports whether Close has already run, guarding the flag
// against the race between Close and any facade call running concurrently.
func (p *Peer) isClosed() bool {
	p.closeMutex.Lock()
	defer p.closeMutex.Unlock()
	return p.closed
}

// NewPeer constructs a peer bound to cfg's multicast group, seeds its
// initial contents locally (no network traffic), starts the background
// receive task and broadcasts one SYNC_REQ to solicit state from any
// existing peer.
func NewPeer(cfg Configuration) (*Peer, error) {
	cfg = cfg.withDefaults()

	endpoint, err := transport.Listen(transport.Config{
		Port:  cfg.Port,
		Group: cfg.Group,
		TTL:   cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("mcastkv: start peer: %w", err)
	}

	p, err := newPeer(cfg, endpoint)
	if err != nil {
		endpoint.Close()
		return nil, err
	}
	return p, nil
}

// replicatorTransport adapts *transport.Endpoint (and any test fake) to
// core.Transport; both already expose this exact shape.
type replicatorTransport interface {
	Send(frame []byte)
	Frames() <-chan []byte
}

func newPeer(cfg Configuration, trans replicatorTransport) (*Peer, error) {
	id := types.NewNodeId()

	log := cfg.Logger
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	rnd := cfg.Random
	if rnd == nil {
		rnd = random.NewDefault()
	}
	cd := cfg.Codec
	if cd == nil {
		cd = &codec.JSON{MaxBytes: cfg.MaxFrameBytes}
	}

	st := store.New(clk)
	st.Seed(cfg.Seed)

	fanout := observer.New(cfg.ObserverQueueDepth)
	invoker := core.GoInvoker{}

	rep := core.New(id, log, cd, trans, st, fanout, rnd, invoker, core.Config{
		ElectionWindowLo: cfg.ElectionWindowLo,
		ElectionWindowHi: cfg.ElectionWindowHi,
		SnapshotPacing:   cfg.SnapshotPacing,
		HandledSetTTL:    cfg.HandledSetTTL,
	})

	p := &Peer{
		id:     id,
		cfg:    cfg,
		store:  st,
		fanout: fanout,
		rep:    rep,
		invoker: invoker,
		log:    log,
	}
	switch e := trans.(type) {
	case *transport.Endpoint:
		p.closeTransport = e.Close
	case interface{ Close() }:
		p.closeTransport = func() error {
			e.Close()
			return nil
		}
	}

	invoker.Spawn(rep.Run)
	rep.AnnouncePresence()
	return p, nil
}

// ID returns this peer's stable NodeId.
func (p *Peer) ID() string {
	return p.id.String()
}

// Get looks up key, returning ok = false if absent.
func (p *Peer) Get(key string) (json.RawMessage, bool, error) {
	if p.isClosed() {
		return nil, false, ErrClosed
	}
	v, ok := p.store.Get(types.Key(key))
	return v, ok, nil
}

// Contains reports whether key currently has an entry.
func (p *Peer) Contains(key string) (bool, error) {
	if p.isClosed() {
		return false, ErrClosed
	}
	return p.store.Contains(types.Key(key)), nil
}

// Set performs a local write: store, broadcast, notify, in that fixed
// order.
func (p *Peer) Set(key string, value json.RawMessage) error {
	if p.isClosed() {
		return ErrClosed
	}
	return p.rep.Set(types.Key(key), value)
}

// Delete is explicitly not supported by this protocol:
// there are no deletion tombstones, so every call fails.
func (p *Peer) Delete(key string) error {
	if p.isClosed() {
		return ErrClosed
	}
	return ErrDeleteUnsupported
}

// Entry is one (key, value) pair returned by Range.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Range returns a consistent point-in-time copy of every entry.
func (p *Peer) Range() ([]Entry, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	snap := p.store.Snapshot()
	out := make([]Entry, 0, len(snap))
	for _, e := range snap {
		out = append(out, Entry{Key: string(e.Key), Value: e.Value})
	}
	return out, nil
}

// Subscribe returns a change stream plus its handle. Each subscription is
// an independent bounded queue.
func (p *Peer) Subscribe() (*Subscription, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	return &Subscription{sub: p.fanout.Subscribe()}, nil
}

// Close stops the receive task, leaves the multicast group, closes the
// transport and terminates every change stream cleanly. A second call
// does nothing and returns ErrClosed.
func (p *Peer) Close() error {
	p.closeMutex.Lock()
	if p.closed {
		p.closeMutex.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.closeMutex.Unlock()

	p.rep.Stop()
	p.fanout.CloseAll()

	if p.closeTransport != nil {
		return p.closeTransport()
	}
	return nil
}
