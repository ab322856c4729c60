// Package transport implements the multicast datagram endpoint: a bound
// socket with a background poll goroutine feeding a channel, backed by
// plain IP multicast via golang.org/x/net/ipv4 for group membership,
// explicit TTL and loopback control, with SO_REUSEADDR/SO_REUSEPORT set
// through golang.org/x/sys/unix before bind.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	promlog "github.com/prometheus/common/log"
)

// Config bundles the socket settings an endpoint binds with.
type Config struct {
	Port  int
	Group net.IP
	TTL   int
}

// Endpoint is the bound multicast datagram transport. It MUST NOT
// deduplicate or reorder frames, and it loops back own-origin datagrams by
// design — callers filter by origin id.
type Endpoint struct {
	conn *ipv4.PacketConn
	dst  *net.UDPAddr

	incoming chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Listen binds a multicast endpoint per cfg and starts receiving
// immediately. The returned Endpoint's Close stops receiving and leaves
// the multicast group.
func Listen(cfg Config) (*Endpoint, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	raw, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("mcastkv: bind multicast endpoint: %w", err)
	}

	pconn := ipv4.NewPacketConn(raw)
	if err := pconn.JoinGroup(nil, &net.UDPAddr{IP: cfg.Group}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("mcastkv: join multicast group %s: %w", cfg.Group, err)
	}
	if err := pconn.SetMulticastTTL(cfg.TTL); err != nil {
		raw.Close()
		return nil, fmt.Errorf("mcastkv: set multicast ttl: %w", err)
	}
	// Loopback stays enabled: peers rely on origin-id filtering, not on the
	// OS refusing to hand a peer's own datagrams back to it.
	if err := pconn.SetMulticastLoopback(true); err != nil {
		raw.Close()
		return nil, fmt.Errorf("mcastkv: enable multicast loopback: %w", err)
	}

	e := &Endpoint{
		conn:     pconn,
		dst:      &net.UDPAddr{IP: cfg.Group, Port: cfg.Port},
		incoming: make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	go e.receiveLoop()
	return e, nil
}

// Send is a best-effort broadcast to the multicast group. OS errors are
// swallowed and reported as a transport diagnostic, never raised to
// callers.
func (e *Endpoint) Send(frame []byte) {
	if _, err := e.conn.WriteTo(frame, nil, e.dst); err != nil {
		promlog.Debugf("mcastkv transport: send to %s failed: %v", e.dst, err)
	}
}

// Frames returns the channel of raw inbound datagrams. It is closed once
// Close has torn down the receive loop.
func (e *Endpoint) Frames() <-chan []byte {
	return e.incoming
}

// Close stops receiving, leaves the multicast group and releases the
// socket.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.conn.Close()
	})
	return err
}

func (e *Endpoint) receiveLoop() {
	defer close(e.incoming)
	buf := make([]byte, 65535)
	for {
		n, _, _, readErr := e.conn.ReadFrom(buf)
		if readErr != nil {
			select {
			case <-e.done:
				return
			default:
			}
			promlog.Debugf("mcastkv transport: recv failed: %v", readErr)
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case e.incoming <- frame:
		case <-e.done:
			return
		}
	}
}

// reuseAddrControl sets SO_REUSEADDR (and, where available, SO_REUSEPORT)
// on the listening socket before bind so multiple peers may coexist on one
// host.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr == nil {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
