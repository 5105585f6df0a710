// Package supervisor wires every synchronization component — discovery,
// the peer registry, the directory scanner, the event router, and the TCP
// accept loop — into one node and owns its startup and shutdown sequence.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/lanhive/lanhive/internal/apply"
	"github.com/lanhive/lanhive/internal/config"
	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/discovery"
	"github.com/lanhive/lanhive/internal/ignoreset"
	"github.com/lanhive/lanhive/internal/peer"
	"github.com/lanhive/lanhive/internal/registry"
	"github.com/lanhive/lanhive/internal/router"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/lanhive/lanhive/internal/watch"
)

// scannerDirs adapts a dirstate.Scanner to the narrow session.Dirs
// capability, pairing it with the signature store every session needs to
// build and consume DIR_STATE payloads.
type scannerDirs struct {
	scanner *dirstate.Scanner
	sigs    *sigstore.Store
}

func (d *scannerDirs) Root() string                    { return d.scanner.Root() }
func (d *scannerDirs) Scan() (dirstate.DirState, error) { return d.scanner.Scan() }
func (d *scannerDirs) Signatures() *sigstore.Store      { return d.sigs }

// Supervisor owns every long-lived goroutine a running node needs: the
// beacon, the beacon listener, the TCP accept loop, and the filesystem
// watcher/router pipeline.
type Supervisor struct {
	cfg *config.Config
	id  peer.Id

	exclude *dirstate.ExcludeSet
	scanner *dirstate.Scanner
	sigs    *sigstore.Store
	ignore  *ignoreset.Set
	applier *apply.Applier

	registry *registry.Registry
	beacon   *discovery.Beacon
	listener *discovery.Listener
	watcher  *watch.Watcher
	router   *router.Router

	mu            sync.Mutex
	advertisedPorts map[string]int
}

// New builds a Supervisor for cfg, resolving the node's own advertised
// identity from the machine's outbound-facing IP.
func New(cfg *config.Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	exclude := dirstate.NewExcludeSet(cfg.MonitoredDir)
	exclude.Load()
	scanner := dirstate.NewScanner(cfg.MonitoredDir, exclude)

	sigs, err := sigstore.Open(cfg.SignatureDir)
	if err != nil {
		return nil, fmt.Errorf("open signature store: %w", err)
	}

	ignore := ignoreset.New(cfg.IgnoreGrace)
	applier := apply.New(cfg.MonitoredDir, sigs, ignore, scanner)

	self := peer.Id{IP: outboundIP(), Port: cfg.ListenPort}

	dirs := &scannerDirs{scanner: scanner, sigs: sigs}
	reg := registry.New(self, dirs, applier, cfg.ConnectTimeout, cfg.MaxFrameBytes)

	beacon := discovery.NewBeacon(cfg.BroadcastPort, cfg.ListenPort, cfg.BeaconInterval)

	s := &Supervisor{
		cfg:             cfg,
		id:              self,
		exclude:         exclude,
		scanner:         scanner,
		sigs:            sigs,
		ignore:          ignore,
		applier:         applier,
		registry:        reg,
		beacon:          beacon,
		advertisedPorts: make(map[string]int),
	}

	s.listener = discovery.NewListener(cfg.BroadcastPort, self, s.onDiscovered, beacon.TriggerExtra)

	w, err := watch.New(cfg.MonitoredDir)
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	s.watcher = w
	s.router = router.New(cfg.MonitoredDir, sigs, ignore, exclude, reg)

	return s, nil
}

// onDiscovered records the peer's advertised listen port by its IP, so the
// TCP accept loop can pair an inbound connection (which only knows the
// peer's ephemeral source port) back to the port it beaconed, then forwards
// the discovery to the registry.
func (s *Supervisor) onDiscovered(id peer.Id) {
	s.mu.Lock()
	s.advertisedPorts[id.IP] = id.Port
	s.mu.Unlock()

	s.registry.OnDiscovered(id)
}

func (s *Supervisor) advertisedPortFor(ip string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	port, ok := s.advertisedPorts[ip]
	return port, ok
}

// Run starts every subsystem and blocks until ctx is canceled, then stops
// everything in reverse order.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("lanhive starting", "dir", s.cfg.MonitoredDir, "self", s.id, "broadcast_port", s.cfg.BroadcastPort, "listen_port", s.cfg.ListenPort)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen on tcp port %d: %w", s.cfg.ListenPort, err)
	}

	var wg sync.WaitGroup
	runAndLog := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				slog.Error("subsystem exited", "component", name, "error", err)
			}
		}()
	}

	runAndLog("beacon", func() error { return s.beacon.Run(ctx) })
	runAndLog("beacon-listener", func() error { return s.listener.Run(ctx) })
	runAndLog("accept-loop", func() error { return s.registry.Accept(ctx, ln, s.advertisedPortFor) })
	runAndLog("watcher", func() error { return s.watcher.Start(ctx) })
	runAndLog("router", func() error { s.router.Run(s.watcher.Events()); return nil })

	<-ctx.Done()
	slog.Info("lanhive stopping")

	s.registry.CloseAll()
	s.watcher.Close()

	wg.Wait()
	slog.Info("lanhive stopped")
	return nil
}

// outboundIP returns the local address the OS would use to reach the LAN,
// without sending any packet. Falling back to loopback keeps a single-host
// test setup (several nodes on 127.0.0.1) working the same way a real LAN
// deployment does.
func outboundIP() string {
	conn, err := net.Dial("udp4", "255.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
