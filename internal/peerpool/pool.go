// Package peerpool maintains one long-lived TCP connection per configured
// peer and speaks the liveness/config-pull protocol over it (§4.4).
package peerpool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/p2p-failover/failoverd/internal/config"
	"github.com/p2p-failover/failoverd/internal/metrics"
	"github.com/p2p-failover/failoverd/pkg/wireproto"
)

const (
	dialTimeout = 500 * time.Millisecond
	pingTimeout = 2 * time.Second
)

// slot holds the connection state for exactly one peer. Each slot is
// independently lockable so a probe against one peer never blocks a probe
// against another (§5 — the pool's records are individually protected).
type slot struct {
	mu            sync.Mutex
	conn          net.Conn
	reader        *bufio.Reader
	lastConnErr   string
	lastConnErrAt time.Time
}

// Pool is the shared peer connection table.
type Pool struct {
	mu       sync.RWMutex
	slots    map[string]*slot
	resolver *Resolver
	logger   *slog.Logger
}

// New returns an empty Pool.
func New(logger *slog.Logger, resolver *Resolver) *Pool {
	return &Pool{
		slots:    make(map[string]*slot),
		resolver: resolver,
		logger:   logger,
	}
}

func (p *Pool) slotFor(name string) *slot {
	p.mu.RLock()
	s, ok := p.slots[name]
	p.mu.RUnlock()
	if ok {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[name]; ok {
		return s
	}
	s = &slot{}
	p.slots[name] = s
	return s
}

// Get reports whether name currently has a usable connection, without
// attempting to open one.
func (p *Pool) Get(name string) bool {
	p.mu.RLock()
	s, ok := p.slots[name]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usable()
}

// Remove closes and forgets name's connection, if any.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	s, ok := p.slots[name]
	delete(p.slots, name)
	p.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	metrics.PoolConnectionsOpen.Set(float64(p.count()))
}

// Open dials peer and installs the resulting connection into its slot,
// replacing any previous one. A refused connection is expected (the peer is
// simply down) and logged at most at debug; any other dial failure is
// logged at warn (§4.4).
func (p *Pool) Open(ctx context.Context, peer config.Peer) bool {
	target := peer.Target()
	if peer.Preference == 0 && p.resolver != nil {
		resolved, err := p.resolver.Lookup(ctx, target)
		if err != nil {
			p.logger.Debug("ddns resolution failed", "peer", peer.Name, "host", target, "error", err)
			metrics.PoolDials.WithLabelValues("resolve_error").Inc()
			p.recordConnErr(peer.Name, err)
			return false
		}
		target = resolved
	}

	addr := fmt.Sprintf("%s:%d", target, peer.Port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			metrics.PoolDials.WithLabelValues("refused").Inc()
		} else {
			p.logger.Warn("dialing peer failed", "peer", peer.Name, "addr", addr, "error", err)
			metrics.PoolDials.WithLabelValues("error").Inc()
		}
		p.recordConnErr(peer.Name, err)
		return false
	}

	s := p.slotFor(peer.Name)
	s.mu.Lock()
	s.closeLocked()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.lastConnErr = ""
	s.lastConnErrAt = time.Time{}
	s.mu.Unlock()

	metrics.PoolDials.WithLabelValues("connected").Inc()
	metrics.PoolConnectionsOpen.Set(float64(p.count()))
	return true
}

// recordConnErr stashes the most recent dial failure for name, surfaced via
// LastConnError.
func (p *Pool) recordConnErr(name string, err error) {
	s := p.slotFor(name)
	s.mu.Lock()
	s.lastConnErr = err.Error()
	s.lastConnErrAt = time.Now()
	s.mu.Unlock()
}

// LastConnError returns the most recent outbound connection error recorded
// for name and when it occurred, or "" and the zero time if none is on
// record (mirroring the teacher's ha.Peer.LastConnError).
func (p *Pool) LastConnError(name string) (string, time.Time) {
	p.mu.RLock()
	s, ok := p.slots[name]
	p.mu.RUnlock()
	if !ok {
		return "", time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConnErr, s.lastConnErrAt
}

func (p *Pool) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, s := range p.slots {
		s.mu.Lock()
		if s.conn != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// usable performs the cheap zero-byte-write liveness check: a broken pipe
// means the peer is gone, any other outcome (including success) means the
// stream is still worth trying.
func (s *slot) usable() bool {
	if s.conn == nil {
		return false
	}
	if _, err := s.conn.Write(nil); err != nil && errors.Is(err, syscall.EPIPE) {
		return false
	}
	return true
}

func (s *slot) closeLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
}

// Ping sends PING over peer's connection (opening one first if needed) and
// reports whether PONG came back within the protocol deadline (§4.4.1).
func (p *Pool) Ping(ctx context.Context, peer config.Peer) bool {
	s := p.slotFor(peer.Name)

	s.mu.Lock()
	if !s.usable() {
		s.closeLocked()
		s.mu.Unlock()
		if !p.Open(ctx, peer) {
			return false
		}
		s.mu.Lock()
	}
	conn := s.conn
	reader := s.reader
	s.mu.Unlock()

	if conn == nil {
		return false
	}

	if _, err := conn.Write([]byte(wireproto.Ping + "\n")); err != nil {
		p.Remove(peer.Name)
		metrics.ProbesTotal.WithLabelValues("write_error").Inc()
		return false
	}

	conn.SetReadDeadline(time.Now().Add(pingTimeout))
	line, err := reader.ReadString('\n')
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		p.Remove(peer.Name)
		metrics.ProbesTotal.WithLabelValues("timeout").Inc()
		return false
	}

	alive := strings.TrimSpace(line) == wireproto.Pong
	if alive {
		metrics.ProbesTotal.WithLabelValues("alive").Inc()
	} else {
		metrics.ProbesTotal.WithLabelValues("bad_reply").Inc()
	}
	return alive
}

// FetchConfig pulls the peer's raw config document over its connection,
// unescaping the wire form back into real newlines and parsing it (§4.4.2).
func (p *Pool) FetchConfig(ctx context.Context, peer config.Peer) (config.Config, error) {
	s := p.slotFor(peer.Name)

	s.mu.Lock()
	usable := s.usable()
	s.mu.Unlock()
	if !usable {
		if !p.Open(ctx, peer) {
			return config.Config{}, fmt.Errorf("fetching config from %s: no connection", peer.Name)
		}
	}

	s.mu.Lock()
	conn := s.conn
	reader := s.reader
	s.mu.Unlock()
	if conn == nil {
		return config.Config{}, fmt.Errorf("fetching config from %s: no connection", peer.Name)
	}

	if _, err := conn.Write([]byte(wireproto.GetConfigPrefix + "\n")); err != nil {
		p.Remove(peer.Name)
		return config.Config{}, fmt.Errorf("fetching config from %s: %w", peer.Name, err)
	}

	conn.SetReadDeadline(time.Now().Add(pingTimeout))
	line, err := reader.ReadString('\n')
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		p.Remove(peer.Name)
		return config.Config{}, fmt.Errorf("fetching config from %s: %w", peer.Name, err)
	}

	raw := wireproto.UnescapeNewlines(strings.TrimSpace(line))
	if raw == "" {
		return config.Config{}, fmt.Errorf("fetching config from %s: empty response", peer.Name)
	}

	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		return config.Config{}, fmt.Errorf("parsing config from %s: %w", peer.Name, err)
	}
	return cfg, nil
}
