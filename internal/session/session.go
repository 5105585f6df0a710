// Package session implements PeerSession: one persistent bidirectional
// framed channel to a remote peer, its send queue, and the Connecting ->
// Reconciling -> Synchronized -> Closing state machine.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/lanhive/lanhive/internal/apply"
	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/peer"
	"github.com/lanhive/lanhive/internal/reconcile"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/lanhive/lanhive/internal/wire"
)

// State is one of the four points in a PeerSession's lifecycle.
type State int

const (
	Connecting State = iota
	Reconciling
	Synchronized
	Closing
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Reconciling:
		return "Reconciling"
	case Synchronized:
		return "Synchronized"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// sendQueueBound is the FIFO depth enqueue will accept before a session is
// considered backpressured and closed.
const sendQueueBound = 256

// ErrBackpressure reports that a session's send queue overflowed.
var ErrBackpressure = errors.New("session: send queue backpressure")

// ErrDuplicateSession reports that a session was superseded by the
// registry's tie-break between two simultaneous dials.
var ErrDuplicateSession = errors.New("session: duplicate session")

// Dirs provides the directory snapshot and signature access a session
// needs to run reconciliation, decoupling session from any particular
// scanner implementation.
type Dirs interface {
	Root() string
	Scan() (dirstate.DirState, error)
	Signatures() *sigstore.Store
}

// Session owns one socket, a bounded outbound queue, and the apply path for
// inbound messages. It never talks to the registry except through the
// onClose capability passed at construction, breaking the session<->registry
// reference cycle.
type Session struct {
	ID   peer.Id
	conn net.Conn
	codec *wire.Codec
	dirs  Dirs

	send    chan *wire.Message
	applier *apply.Applier

	mu     sync.Mutex
	state  State
	closed bool

	onClose func(peer.Id, error)

	remoteDirState map[dirstate.RelPath]reconcile.RemoteFile
	sentOwnState   bool
}

// New wraps conn for peer id, ready to run reconciliation and steady-state
// message exchange once Run is called.
func New(id peer.Id, conn net.Conn, dirs Dirs, applier *apply.Applier, maxFrameBytes uint64, onClose func(peer.Id, error)) *Session {
	return &Session{
		ID:      id,
		conn:    conn,
		codec:   wire.NewCodecWithLimit(conn, maxFrameBytes),
		dirs:    dirs,
		applier: applier,
		send:    make(chan *wire.Message, sendQueueBound),
		state:   Connecting,
		onClose: onClose,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Enqueue schedules msg for sending. It is non-blocking: a full queue closes
// the session with ErrBackpressure instead of blocking the caller. The send
// itself happens under s.mu so it can never race Close's close(s.send): a
// session already marked closed drops msg instead of touching the channel.
func (s *Session) Enqueue(msg *wire.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	select {
	case s.send <- msg:
		s.mu.Unlock()
		return
	default:
	}
	s.mu.Unlock()

	s.Close(ErrBackpressure)
}

// Run drives the session to completion: it starts the send loop, sends this
// node's DIR_STATE, then blocks in the receive loop until the socket closes
// or a fatal protocol error occurs. Run always returns once the session has
// reached Closing.
func (s *Session) Run() error {
	s.setState(Reconciling)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sendLoop()
	}()

	if err := s.sendOwnDirState(); err != nil {
		s.Close(err)
	}

	err := s.receiveLoop()
	wg.Wait()
	return err
}

func (s *Session) sendOwnDirState() error {
	state, err := s.dirs.Scan()
	if err != nil {
		return fmt.Errorf("scan local dirstate: %w", err)
	}
	msg, err := reconcile.LocalDirState(s.dirs.Root(), state, s.dirs.Signatures())
	if err != nil {
		return fmt.Errorf("build local dirstate: %w", err)
	}
	s.Enqueue(msg)
	s.mu.Lock()
	s.sentOwnState = true
	s.mu.Unlock()
	return nil
}

func (s *Session) sendLoop() {
	for msg := range s.send {
		if err := s.codec.WriteMessage(msg); err != nil {
			slog.Warn("session write failed", "peer", s.ID, "error", err)
			s.Close(err)
			return
		}
	}
}

func (s *Session) receiveLoop() error {
	for {
		msg, err := s.codec.ReadMessage()
		if err != nil {
			s.Close(err)
			return err
		}

		if err := s.dispatch(msg); err != nil {
			slog.Warn("session dispatch failed", "peer", s.ID, "type", msg.Type, "msg_id", msg.ID, "error", err)
		}
	}
}

func (s *Session) dispatch(msg *wire.Message) error {
	switch msg.Type {
	case wire.TypeDirState:
		return s.handleDirState(msg.Data.(wire.DirState))
	case wire.TypeCreate, wire.TypeModify, wire.TypeDelete, wire.TypeRename:
		return s.applier.Apply(msg)
	default:
		return fmt.Errorf("unexpected message on session: %s", msg.Type)
	}
}

func (s *Session) handleDirState(remote wire.DirState) error {
	files := make(map[dirstate.RelPath]reconcile.RemoteFile, len(remote.Files))
	for _, f := range remote.Files {
		rel, ok := dirstate.ParseRelPath(f.Path)
		if !ok {
			continue
		}
		files[rel] = reconcile.RemoteFile{
			Stat: dirstate.FileStat{Path: rel, Mtime: f.Mtime, Exists: true, Size: f.Size},
			Sig:  f.Sig,
		}
	}

	s.mu.Lock()
	s.remoteDirState = files
	s.mu.Unlock()

	local, err := s.dirs.Scan()
	if err != nil {
		return fmt.Errorf("scan local dirstate for reconciliation: %w", err)
	}

	plan, err := reconcile.Run(s.dirs.Root(), local, files, s.dirs.Signatures())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, msg := range plan.Messages {
		s.Enqueue(msg)
	}

	s.setState(Synchronized)
	return nil
}

// Close transitions the session to Closing, closes the socket, and invokes
// onClose exactly once. Safe to call multiple times. The closed flag is set
// under s.mu before the socket or send channel are touched, so a concurrent
// Enqueue either completes its send before this runs or observes closed
// and returns without ever sending on a channel this is about to close.
func (s *Session) Close(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = Closing
	s.mu.Unlock()

	s.conn.Close()
	close(s.send)

	if s.onClose != nil {
		s.onClose(s.ID, cause)
	}
}
