// Package core implements the replication engine: the receive loop that
// applies inbound UPDATEs to the Store and drives the join-time Sync
// Election, and the local-write path that stores, broadcasts and notifies
// observers in that fixed order. One long-lived poll goroutine reads from
// the transport; a context+cancel pair drives shutdown, and an Invoker
// seam spawns per-message work.
package core

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jabolina/mcastkv/pkg/mcastkv/codec"
	"github.com/jabolina/mcastkv/pkg/mcastkv/election"
	"github.com/jabolina/mcastkv/pkg/mcastkv/observer"
	"github.com/jabolina/mcastkv/pkg/mcastkv/store"
	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// ErrOversizeWrite is returned by Set when the encoded frame for (k, v)
// would exceed the configured byte ceiling. The Store is left untouched.
var ErrOversizeWrite = errors.New("mcastkv: value too large to replicate")

// Transport is the minimal surface the Replicator needs from the
// multicast endpoint, letting tests substitute an in-memory fake.
type Transport interface {
	Send(frame []byte)
	Frames() <-chan []byte
}

// Config bundles the election/pacing knobs the replicator and its
// elections need.
type Config struct {
	ElectionWindowLo time.Duration
	ElectionWindowHi time.Duration
	SnapshotPacing   time.Duration
	HandledSetTTL    time.Duration
}

// Replicator owns the receive loop and the local-write path for one peer.
type Replicator struct {
	self   types.NodeId
	log    types.Logger
	codec  codec.Codec
	trans  Transport
	store  *store.Store
	fanout *observer.Fanout
	random types.RandomSource
	invoker Invoker

	cfg     Config
	handled *election.HandledSet

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Replicator. It does not start the receive loop; call Run in
// its own goroutine (or via invoker).
func New(self types.NodeId, log types.Logger, c codec.Codec, trans Transport, st *store.Store, fanout *observer.Fanout, random types.RandomSource, invoker Invoker, cfg Config) *Replicator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Replicator{
		self:    self,
		log:     log,
		codec:   c,
		trans:   trans,
		store:   st,
		fanout:  fanout,
		random:  random,
		invoker: invoker,
		cfg:     cfg,
		handled: election.NewHandledSet(cfg.HandledSetTTL),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run processes inbound frames until Stop is called. Intended to be the
// single long-lived receive task for this peer.
func (r *Replicator) Run() {
	sweep := time.NewTicker(r.cfg.HandledSetTTL)
	defer sweep.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-sweep.C:
			r.handled.Sweep()
		case frame, ok := <-r.trans.Frames():
			if !ok {
				return
			}
			r.invoker.Spawn(func() {
				r.handleFrame(frame)
			})
		}
	}
}

// Stop cancels every in-flight election and causes Run to return; the
// transport itself is left for the caller to close.
func (r *Replicator) Stop() {
	r.cancel()
}

func (r *Replicator) handleFrame(frame []byte) {
	message, err := r.codec.Decode(frame)
	if err != nil {
		r.log.Debugf("dropping malformed frame: %v", err)
		return
	}
	if message.OriginId == r.self {
		// Own-origin datagram looped back by the OS; filtered here rather
		// than relying on socket options.
		return
	}

	switch message.Op {
	case types.OpUpdate:
		r.applyUpdate(message)
	case types.OpSyncReq:
		r.invoker.Spawn(func() {
			r.runElection(message.ReqId)
		})
	case types.OpSyncClaim:
		r.handled.Mark(string(message.ReqId))
	default:
		r.log.Warnf("dropping frame with unknown op %v", message.Op)
	}
}

func (r *Replicator) applyUpdate(message types.Message) {
	result := r.store.Merge(message.Key, message.Value, message.Ts, message.OriginId)
	if result == store.Applied {
		r.fanout.Publish(types.Change{Key: message.Key, Value: message.Value})
	}
}

// Set performs the local write path: store, then broadcast, then notify,
// in that fixed order. An oversize write is rejected before the Store is
// touched; any other broadcast failure never rolls back the local write.
func (r *Replicator) Set(k types.Key, v types.Value) error {
	// The trial carries a widest-case timestamp so its size bounds the
	// real frame, whose ts is only known after the Store is written.
	trial := types.Message{Op: types.OpUpdate, Key: k, Value: v, Ts: types.Timestamp(math.MaxFloat64), OriginId: r.self}
	if _, err := r.codec.Encode(trial); err != nil {
		if errors.Is(err, codec.ErrFrameTooLarge) {
			return ErrOversizeWrite
		}
		return err
	}

	ts := r.store.LocalSet(k, v, r.self)

	frame, err := r.codec.Encode(types.Message{
		Op:       types.OpUpdate,
		Key:      k,
		Value:    v,
		Ts:       ts,
		OriginId: r.self,
	})
	if err != nil {
		// The trial encode above already bounds the size; a failure here
		// is some other encode error and does not roll back the write.
		r.log.Errorf("failed encoding update for %s after local write: %v", k, err)
		return nil
	}
	r.trans.Send(frame)
	r.fanout.Publish(types.Change{Key: k, Value: v})
	return nil
}

// AnnouncePresence broadcasts one SYNC_REQ with a fresh RequestId, used
// once at construction time after initial seeding.
func (r *Replicator) AnnouncePresence() {
	reqID := types.NewRequestId()
	frame, err := r.codec.Encode(types.Message{
		Op:       types.OpSyncReq,
		ReqId:    reqID,
		OriginId: r.self,
	})
	if err != nil {
		r.log.Errorf("failed encoding sync request: %v", err)
		return
	}
	r.trans.Send(frame)
}

// runElection implements the WAITING/CLAIMING/SENDING/DONE state machine
// for a single req_id observed from an existing peer.
func (r *Replicator) runElection(reqID types.RequestId) {
	window := r.random.DurationBetween(r.cfg.ElectionWindowLo, r.cfg.ElectionWindowHi)
	timer := time.NewTimer(window)
	defer timer.Stop()

	id := string(reqID)
	select {
	case <-r.ctx.Done():
		// Shutdown mid-election: abandon without broadcasting anything.
		return
	case <-timer.C:
	}

	if r.handled.Contains(id) {
		// Someone else's CLAIM arrived before our timer fired: suppressed.
		r.handled.Discard(id)
		return
	}

	// CLAIMING: broadcast SYNC_CLAIM, then immediately SENDING.
	claim, err := r.codec.Encode(types.Message{
		Op:       types.OpSyncClaim,
		ReqId:    reqID,
		OriginId: r.self,
	})
	if err != nil {
		r.log.Errorf("failed encoding sync claim: %v", err)
		return
	}
	r.trans.Send(claim)

	snapshot := r.store.Snapshot()
	for _, entry := range snapshot {
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		frame, err := r.codec.Encode(types.Message{
			Op:       types.OpUpdate,
			Key:      entry.Key,
			Value:    entry.Value,
			Ts:       entry.Ts,
			OriginId: r.self,
		})
		if err != nil {
			r.log.Warnf("skipping oversize entry %s during sync replay: %v", entry.Key, err)
			continue
		}
		r.trans.Send(frame)
		if r.cfg.SnapshotPacing > 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(r.cfg.SnapshotPacing):
			}
		}
	}
}
