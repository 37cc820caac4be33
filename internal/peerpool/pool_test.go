package peerpool

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"

	"github.com/p2p-failover/failoverd/internal/config"
)

var errFakeDial = errors.New("fake dial failure")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePeerServer speaks just enough of the wire protocol for pool tests.
func fakePeerServer(t *testing.T, configYAML string) (port uint32, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimSpace(line)
					switch {
					case line == "PING":
						conn.Write([]byte("PONG\n"))
					case strings.HasPrefix(line, "GET CONFIG"):
						escaped := strings.ReplaceAll(configYAML, "\n", `\n`)
						conn.Write([]byte(escaped + "\n"))
					}
				}
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return uint32(addr.Port), func() { ln.Close() }
}

func testPeer(port uint32) config.Peer {
	return config.Peer{Name: "peer", IP: "127.0.0.1", Port: port, Preference: 1, Priority: 1}
}

func TestOpenAndPing(t *testing.T) {
	port, stop := fakePeerServer(t, "")
	defer stop()

	p := New(testLogger(), nil)
	peer := testPeer(port)

	if !p.Open(context.Background(), peer) {
		t.Fatal("Open should succeed against a listening peer")
	}
	if !p.Ping(context.Background(), peer) {
		t.Error("Ping should succeed and reuse the open connection")
	}
}

func TestPingOpensConnectionLazily(t *testing.T) {
	port, stop := fakePeerServer(t, "")
	defer stop()

	p := New(testLogger(), nil)
	peer := testPeer(port)

	if !p.Ping(context.Background(), peer) {
		t.Fatal("Ping should open a connection on demand")
	}
}

func TestPingFailsWithNoListener(t *testing.T) {
	p := New(testLogger(), nil)
	peer := testPeer(1) // nothing listens on port 1
	if p.Ping(context.Background(), peer) {
		t.Error("Ping should fail when the peer is unreachable")
	}
}

func TestFetchConfigParsesEscapedResponse(t *testing.T) {
	const yaml = "nodes:\n  - name: a\n    ip: 127.0.0.1\n    port: 9001\n    preference: 1\n    priority: 1\n    last_updated: \"2024-03-20T00:00:00Z\"\nconfig_metadata:\n  name: a\n  last_updated: \"2024-03-20T00:00:00Z\"\nexecution:\n  instructions: /bin/true\n  last_updated: \"2024-03-20T00:00:00Z\"\n"
	port, stop := fakePeerServer(t, yaml)
	defer stop()

	p := New(testLogger(), nil)
	peer := testPeer(port)

	cfg, err := p.FetchConfig(context.Background(), peer)
	if err != nil {
		t.Fatalf("FetchConfig: %v", err)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].Name != "a" {
		t.Errorf("unexpected fetched config: %+v", cfg)
	}
}

func TestLastConnErrorRecordsDialFailure(t *testing.T) {
	p := New(testLogger(), nil)
	peer := testPeer(1) // nothing listens on port 1

	if msg, at := p.LastConnError(peer.Name); msg != "" || !at.IsZero() {
		t.Fatalf("expected no recorded error before dialing, got %q at %v", msg, at)
	}

	if p.Open(context.Background(), peer) {
		t.Fatal("Open should fail against an unreachable port")
	}

	msg, at := p.LastConnError(peer.Name)
	if msg == "" {
		t.Error("expected LastConnError to record the dial failure")
	}
	if at.IsZero() {
		t.Error("expected LastConnError to record a timestamp")
	}
}

func TestLastConnErrorClearedOnSuccessfulOpen(t *testing.T) {
	port, stop := fakePeerServer(t, "")
	defer stop()

	p := New(testLogger(), nil)
	peer := testPeer(port)

	// Seed a failure against the same slot, then succeed.
	p.recordConnErr(peer.Name, errFakeDial)
	if !p.Open(context.Background(), peer) {
		t.Fatal("Open should succeed against a listening peer")
	}

	if msg, _ := p.LastConnError(peer.Name); msg != "" {
		t.Errorf("expected LastConnError to clear after a successful Open, got %q", msg)
	}
}

func TestRemoveClosesConnection(t *testing.T) {
	port, stop := fakePeerServer(t, "")
	defer stop()

	p := New(testLogger(), nil)
	peer := testPeer(port)

	if !p.Open(context.Background(), peer) {
		t.Fatal("Open should succeed")
	}
	p.Remove(peer.Name)
	if p.Get(peer.Name) {
		t.Error("Get should report no usable connection after Remove")
	}
}
