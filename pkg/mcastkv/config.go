package mcastkv

import (
	"net"
	"time"

	"github.com/jabolina/mcastkv/pkg/mcastkv/codec"
	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// Default configuration values.
const (
	DefaultPort             = 55516
	DefaultGroup            = "224.224.224.1"
	DefaultTTL              = 2
	DefaultElectionWindowLo = 100 * time.Millisecond
	DefaultElectionWindowHi = 500 * time.Millisecond
	DefaultSnapshotPacing   = time.Millisecond
	DefaultObserverDepth    = 1024
)

// Configuration is the full enumerated external interface of a peer.
// NewPeer fills zero-valued fields with the defaults; embedders normally
// start from DefaultConfiguration and override only what they need.
type Configuration struct {
	// Port is the UDP port every peer in a deployment binds to.
	Port int
	// Group is the IPv4 multicast address shared by the deployment.
	Group net.IP
	// TTL confines multicast traffic to the local administrative scope.
	TTL int

	// ElectionWindowLo/Hi bound the randomized WAITING timer of the join
	// election.
	ElectionWindowLo time.Duration
	ElectionWindowHi time.Duration

	// SnapshotPacing is the inter-frame delay during the election's
	// SENDING state.
	SnapshotPacing time.Duration

	// HandledSetTTL bounds how long a SYNC_CLAIM's memory is kept before
	// being garbage-collected. Defaults to
	// ElectionWindowHi plus a small slack when left zero.
	HandledSetTTL time.Duration

	// ObserverQueueDepth bounds each subscription's change queue.
	ObserverQueueDepth int

	// MaxFrameBytes hard-limits the encoded frame size.
	MaxFrameBytes int

	// Seed is installed into the Store at construction without emitting
	// any network traffic.
	Seed map[types.Key]types.Value

	// Name is an optional label for this peer. The peer does not read it:
	// log lines carry no peer name, and an empty Name stays empty.
	Name string

	// Logger, Clock, Random and Codec are the externalized collaborators.
	// Each falls back to a concrete default when nil.
	Logger types.Logger
	Clock  types.Clock
	Random types.RandomSource
	Codec  codec.Codec
}

// DefaultConfiguration returns a Configuration with every field set to its
// documented default.
func DefaultConfiguration() Configuration {
	return Configuration{
		Port:               DefaultPort,
		Group:              net.ParseIP(DefaultGroup),
		TTL:                DefaultTTL,
		ElectionWindowLo:   DefaultElectionWindowLo,
		ElectionWindowHi:   DefaultElectionWindowHi,
		SnapshotPacing:     DefaultSnapshotPacing,
		ObserverQueueDepth: DefaultObserverDepth,
		MaxFrameBytes:      codec.MaxFrameBytes,
	}
}

func (c Configuration) withDefaults() Configuration {
	d := DefaultConfiguration()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Group == nil {
		c.Group = d.Group
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.ElectionWindowLo == 0 {
		c.ElectionWindowLo = d.ElectionWindowLo
	}
	if c.ElectionWindowHi == 0 {
		c.ElectionWindowHi = d.ElectionWindowHi
	}
	if c.SnapshotPacing == 0 {
		c.SnapshotPacing = d.SnapshotPacing
	}
	if c.HandledSetTTL == 0 {
		c.HandledSetTTL = c.ElectionWindowHi + 250*time.Millisecond
	}
	if c.ObserverQueueDepth == 0 {
		c.ObserverQueueDepth = d.ObserverQueueDepth
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	return c
}
