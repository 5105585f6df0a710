// Package registry implements the peer table: the single place that owns
// every live PeerSession, dedups concurrent dials for the same peer, and
// resolves the case where two nodes dial each other at once.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lanhive/lanhive/internal/apply"
	"github.com/lanhive/lanhive/internal/peer"
	"github.com/lanhive/lanhive/internal/session"
	"github.com/lanhive/lanhive/internal/wire"
)

// Registry owns the set of live sessions and is the only component allowed
// to dial, accept, or close a peer connection.
type Registry struct {
	self    peer.Id
	dirs    session.Dirs
	applier *apply.Applier

	dialTimeout   time.Duration
	maxFrameBytes uint64

	mu       sync.Mutex
	sessions map[peer.Id]*session.Session
}

// New creates a Registry for self, dialing and applying against dirs and
// applier for every session it creates.
func New(self peer.Id, dirs session.Dirs, applier *apply.Applier, dialTimeout time.Duration, maxFrameBytes uint64) *Registry {
	return &Registry{
		self:          self,
		dirs:          dirs,
		applier:       applier,
		dialTimeout:   dialTimeout,
		maxFrameBytes: maxFrameBytes,
		sessions:      make(map[peer.Id]*session.Session),
	}
}

// OnDiscovered is the discovery.OnDiscovered callback: it dials id unless a
// session already exists, entirely skipping self-dials. The existence check
// is not held across the dial itself, so two beacons arriving close together
// can start two dials; adopt closes whichever one loses the race.
func (r *Registry) OnDiscovered(id peer.Id) {
	if id == r.self {
		return
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	go r.dial(id)
}

func (r *Registry) dial(id peer.Id) {
	conn, err := net.DialTimeout("tcp", id.String(), r.dialTimeout)
	if err != nil {
		slog.Debug("dial failed", "peer", id, "error", err)
		return
	}
	r.adopt(id, conn)
}

// OnAccepted handles an inbound TCP connection already bound to a known
// remote address. If a session for peerID already exists, the two
// simultaneous connections are resolved by PeerId.Less: the lower id keeps
// the session it dialed, and the inbound socket of the higher id is closed.
func (r *Registry) OnAccepted(conn net.Conn, peerID peer.Id) {
	r.mu.Lock()
	existing, exists := r.sessions[peerID]
	r.mu.Unlock()

	if exists {
		if r.self.Less(peerID) {
			slog.Info("rejecting duplicate inbound session, keeping our outbound dial", "peer", peerID)
			conn.Close()
			return
		}
		slog.Info("duplicate session detected, dropping our outbound dial in favor of inbound", "peer", peerID)
		existing.Close(session.ErrDuplicateSession)
	}

	r.adopt(peerID, conn)
}

func (r *Registry) adopt(id peer.Id, conn net.Conn) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		conn.Close()
		return
	}

	s := session.New(id, conn, r.dirs, r.applier, r.maxFrameBytes, r.onSessionClosed)
	r.sessions[id] = s
	r.mu.Unlock()

	slog.Info("peer session established", "peer", id)
	go func() {
		if err := s.Run(); err != nil {
			slog.Debug("session ended", "peer", id, "error", err)
		}
	}()
}

func (r *Registry) onSessionClosed(id peer.Id, cause error) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	slog.Info("peer session closed", "peer", id, "cause", cause)
}

// Broadcast enqueues msg on every session currently Synchronized, the
// steady-state propagation path for locally observed filesystem changes.
// It snapshots the session table and releases r.mu before calling Enqueue:
// a full send queue makes Enqueue close the session, which calls back into
// onSessionClosed and re-locks r.mu, so the lock must not still be held by
// this goroutine when that happens.
func (r *Registry) Broadcast(msg *wire.Message) {
	r.mu.Lock()
	targets := make([]*session.Session, 0, len(r.sessions))
	ids := make([]peer.Id, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.State() != session.Synchronized {
			continue
		}
		targets = append(targets, s)
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for i, s := range targets {
		slog.Debug("broadcasting update", "peer", ids[i], "type", msg.Type)
		s.Enqueue(msg)
	}
}

// Remove closes and drops the session for id, if any. Idempotent.
func (r *Registry) Remove(id peer.Id) {
	r.mu.Lock()
	s, exists := r.sessions[id]
	r.mu.Unlock()
	if exists {
		s.Close(nil)
	}
}

// Len reports the number of currently tracked sessions, live at any state.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every tracked session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(nil)
	}
}

// Accept runs the TCP accept loop on ln until ctx is canceled, handing each
// inbound connection to OnAccepted once the peer's advertised listen port is
// known. The inbound source port is not the peer's listen port, so the
// registry keys accepted sessions by the connection's remote IP paired with
// the port supplied by the prior beacon (advertisedPortFor); a connection
// from an IP with no recorded beacon is closed.
func (r *Registry) Accept(ctx context.Context, ln net.Listener, advertisedPortFor func(ip string) (int, bool)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}

		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}
		port, known := advertisedPortFor(host)
		if !known {
			slog.Debug("dropping inbound connection from unknown peer", "remote", host)
			conn.Close()
			continue
		}

		id := peer.Id{IP: host, Port: port}
		r.OnAccepted(conn, id)
	}
}
