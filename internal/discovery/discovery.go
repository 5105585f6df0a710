// Package discovery implements the UDP presence beacon: a periodic
// broadcast advertising this node's listen port, and a listener that turns
// beacons from other nodes into registry.OnDiscovered calls.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/lanhive/lanhive/internal/peer"
	"github.com/lanhive/lanhive/internal/wire"
)

// OnDiscovered is called for every beacon that doesn't originate from this
// node itself.
type OnDiscovered func(id peer.Id)

// Beacon periodically broadcasts this node's presence on the subnet.
type Beacon struct {
	broadcastPort int
	listenPort    int
	interval      time.Duration

	extra chan struct{}
}

// NewBeacon creates a Beacon advertising listenPort on broadcastPort every
// interval.
func NewBeacon(broadcastPort, listenPort int, interval time.Duration) *Beacon {
	return &Beacon{
		broadcastPort: broadcastPort,
		listenPort:    listenPort,
		interval:      interval,
		extra:         make(chan struct{}, 1),
	}
}

// TriggerExtra schedules one additional out-of-cycle beacon, used when this
// node learns of a previously unknown peer so it doesn't wait a full
// interval to be discovered back.
func (b *Beacon) TriggerExtra() {
	select {
	case b.extra <- struct{}{}:
	default:
	}
}

// Run sends beacons until ctx is canceled.
func (b *Beacon) Run(ctx context.Context) error {
	conn, err := listenBroadcastSocket()
	if err != nil {
		return fmt.Errorf("open broadcast socket: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: b.broadcastPort}
	payload, err := json.Marshal(wire.NewBeacon(uint16(b.listenPort)))
	if err != nil {
		return fmt.Errorf("encode beacon: %w", err)
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	send := func() {
		if _, err := conn.WriteToUDP(payload, dst); err != nil {
			slog.Warn("beacon send failed", "error", err)
		}
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			send()
		case <-b.extra:
			send()
		}
	}
}

// Listener receives beacons on broadcastPort and reports every peer that
// isn't this node; onNewPeer additionally fires for a never-seen peer.
type Listener struct {
	broadcastPort int
	self          peer.Id
	onDiscovered  OnDiscovered
	onNewPeer     func() // invoked for a never-seen-before peer
	seen          map[peer.Id]struct{}
}

// NewListener creates a Listener bound to broadcastPort. self is this
// node's own advertised identity, used to reject self-beacons.
func NewListener(broadcastPort int, self peer.Id, onDiscovered OnDiscovered, onNewPeer func()) *Listener {
	return &Listener{
		broadcastPort: broadcastPort,
		self:          self,
		onDiscovered:  onDiscovered,
		onNewPeer:     onNewPeer,
		seen:          make(map[peer.Id]struct{}),
	}
}

// Run listens for beacons until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.broadcastPort})
	if err != nil {
		return fmt.Errorf("listen for beacons: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read beacon: %w", err)
		}

		var msg wire.Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			slog.Debug("dropped malformed beacon", "from", addr, "error", err)
			continue
		}
		beacon, ok := msg.Data.(wire.Beacon)
		if !ok {
			continue
		}

		id := peer.Id{IP: addr.IP.String(), Port: int(beacon.Port)}
		if id == l.self {
			continue
		}

		if _, known := l.seen[id]; !known {
			l.seen[id] = struct{}{}
			if l.onNewPeer != nil {
				l.onNewPeer()
			}
		}

		l.onDiscovered(id)
	}
}

// listenBroadcastSocket opens a UDP socket with SO_BROADCAST enabled so
// sends to the subnet broadcast address are accepted by the kernel. The
// standard library doesn't expose this socket option directly; no library
// in the example pack wraps it either, so we reach for syscall, the
// narrowest possible stdlib use for a single platform primitive.
func listenBroadcastSocket() (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
