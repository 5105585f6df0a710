package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lanhive/lanhive/internal/config"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func freeUDPPort(t *testing.T) int {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MonitoredDir = "/does/not/exist"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestNew_BuildsSupervisorForValidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MonitoredDir = t.TempDir()
	cfg.SignatureDir = t.TempDir()
	cfg.BroadcastPort = freeUDPPort(t)
	cfg.ListenPort = freePort(t)

	s, err := New(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, s.id.IP)
	require.Equal(t, cfg.ListenPort, s.id.Port)
}

func TestTwoSupervisors_DiscoverAndSyncAFile(t *testing.T) {
	broadcastPort := freeUDPPort(t)

	dirA := t.TempDir()
	dirB := t.TempDir()

	cfgA := config.Default()
	cfgA.MonitoredDir = dirA
	cfgA.SignatureDir = t.TempDir()
	cfgA.BroadcastPort = broadcastPort
	cfgA.ListenPort = freePort(t)
	cfgA.BeaconInterval = 50 * time.Millisecond

	cfgB := config.Default()
	cfgB.MonitoredDir = dirB
	cfgB.SignatureDir = t.TempDir()
	cfgB.BroadcastPort = broadcastPort
	cfgB.ListenPort = freePort(t)
	cfgB.BeaconInterval = 50 * time.Millisecond

	require.NoError(t, os.WriteFile(filepath.Join(dirA, "shared.txt"), []byte("from A"), 0o644))

	supA, err := New(cfgA)
	require.NoError(t, err)
	supB, err := New(cfgB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go supA.Run(ctx)
	go supB.Run(ctx)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dirB, "shared.txt"))
		return err == nil && string(data) == "from A"
	}, 4*time.Second, 50*time.Millisecond)
}
