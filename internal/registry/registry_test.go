package registry

import (
	"net"
	"testing"
	"time"

	"github.com/lanhive/lanhive/internal/apply"
	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/ignoreset"
	"github.com/lanhive/lanhive/internal/peer"
	"github.com/lanhive/lanhive/internal/session"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/stretchr/testify/require"
)

type fakeDirs struct{ root string }

func (f *fakeDirs) Root() string { return f.root }
func (f *fakeDirs) Scan() (dirstate.DirState, error) {
	return dirstate.NewScanner(f.root, dirstate.NewExcludeSet(f.root)).Scan()
}
func (f *fakeDirs) Signatures() *sigstore.Store {
	s, _ := sigstore.Open(f.root + "/.sig")
	return s
}

func newTestRegistry(t *testing.T, self peer.Id) *Registry {
	dir := t.TempDir()
	dirs := &fakeDirs{root: dir}
	scanner := dirstate.NewScanner(dir, dirstate.NewExcludeSet(dir))
	applier := apply.New(dir, dirs.Signatures(), ignoreset.New(ignoreset.DefaultGracePeriod), scanner)
	return New(self, dirs, applier, time.Second, 1<<20)
}

func TestOnDiscovered_SkipsSelf(t *testing.T) {
	self := peer.Id{IP: "127.0.0.1", Port: 6000}
	r := newTestRegistry(t, self)

	r.OnDiscovered(self)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, r.Len())
}

func TestOnDiscovered_ConnectsToNewPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			// accept and leave open; this end never sends a DIR_STATE,
			// so the dialed session stays in Reconciling.
			_ = conn
		}
	}()

	self := peer.Id{IP: "127.0.0.1", Port: 1}
	r := newTestRegistry(t, self)

	addr := ln.Addr().(*net.TCPAddr)
	target := peer.Id{IP: "127.0.0.1", Port: addr.Port}

	r.OnDiscovered(target)
	r.OnDiscovered(target) // a second dial may start before the first is tracked; adopt keeps only one session

	require.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestOnAccepted_DuplicateSession_LowerSelfIdKeepsExistingAndRejectsInbound(t *testing.T) {
	self := peer.Id{IP: "10.0.0.1", Port: 6000} // sorts lower than the peer below
	r := newTestRegistry(t, self)
	peerID := peer.Id{IP: "10.0.0.9", Port: 6000}

	existingConn, remoteEnd := net.Pipe()
	defer remoteEnd.Close()
	existing := session.New(peerID, existingConn, r.dirs, r.applier, r.maxFrameBytes, r.onSessionClosed)
	r.mu.Lock()
	r.sessions[peerID] = existing
	r.mu.Unlock()

	inboundA, inboundB := net.Pipe()
	defer inboundB.Close()

	r.OnAccepted(inboundA, peerID)

	// the existing session must remain tracked and the inbound socket
	// must be closed rather than adopted.
	require.Equal(t, 1, r.Len())
	_, err := inboundB.Write([]byte("x"))
	require.Error(t, err)
}

func TestOnAccepted_DuplicateSession_HigherSelfIdReplacesWithInbound(t *testing.T) {
	self := peer.Id{IP: "10.0.0.9", Port: 6000} // sorts higher than the peer below
	r := newTestRegistry(t, self)
	peerID := peer.Id{IP: "10.0.0.1", Port: 6000}

	existingConn, remoteEnd := net.Pipe()
	existing := session.New(peerID, existingConn, r.dirs, r.applier, r.maxFrameBytes, r.onSessionClosed)
	r.mu.Lock()
	r.sessions[peerID] = existing
	r.mu.Unlock()

	inboundA, inboundB := net.Pipe()
	defer inboundB.Close()
	defer inboundA.Close()

	r.OnAccepted(inboundA, peerID)

	require.Equal(t, session.Closing, existing.State())
	require.Equal(t, 1, r.Len()) // the inbound connection replaced it

	// remoteEnd's pipe partner (existingConn) was closed by the registry.
	_, err := remoteEnd.Write([]byte("x"))
	require.Error(t, err)
}

func TestRemove_IsIdempotent(t *testing.T) {
	self := peer.Id{IP: "127.0.0.1", Port: 6000}
	r := newTestRegistry(t, self)
	peerID := peer.Id{IP: "127.0.0.1", Port: 7000}

	r.Remove(peerID)
	r.Remove(peerID)
	require.Equal(t, 0, r.Len())
}

func TestCloseAll_ClosesEverySession(t *testing.T) {
	self := peer.Id{IP: "127.0.0.1", Port: 6000}
	r := newTestRegistry(t, self)

	for i := 0; i < 3; i++ {
		id := peer.Id{IP: "127.0.0.1", Port: 7000 + i}
		conn, _ := net.Pipe()
		s := session.New(id, conn, r.dirs, r.applier, r.maxFrameBytes, r.onSessionClosed)
		r.mu.Lock()
		r.sessions[id] = s
		r.mu.Unlock()
	}

	r.CloseAll()
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 10*time.Millisecond)
}
