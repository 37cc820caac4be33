// Package heartbeat runs the periodic liveness probe and the
// activation/preemption decision it drives (§4.7, §4.7.1).
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p2p-failover/failoverd/internal/child"
	"github.com/p2p-failover/failoverd/internal/config"
	"github.com/p2p-failover/failoverd/internal/events"
	"github.com/p2p-failover/failoverd/internal/metrics"
	"github.com/p2p-failover/failoverd/internal/peerpool"
)

// DefaultInterval is the tick period the original implementation uses.
const DefaultInterval = time.Second

// Engine owns this node's activation state and drives the child supervisor
// based on the liveness and configured priority of its peers.
type Engine struct {
	store  *config.Store
	pool   *peerpool.Pool
	child  *child.Supervisor
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	alive     bool
	peerAlive map[string]bool
}

// New builds an Engine. bus may be nil if event publication is not wanted.
func New(store *config.Store, pool *peerpool.Pool, sup *child.Supervisor, bus *events.Bus, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		pool:      pool,
		child:     sup,
		bus:       bus,
		logger:    logger,
		peerAlive: make(map[string]bool),
	}
}

// Run ticks every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs exactly one heartbeat: probe every peer, then apply the
// activation/preemption rule (§4.7.1).
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.HeartbeatsTotal.Inc()
		metrics.HeartbeatDuration.Observe(time.Since(start).Seconds())
	}()

	cfg := e.store.Snapshot()
	self, selfIdx, ok := cfg.Self()
	if !ok {
		e.logger.Warn("heartbeat skipped: local name not present in peer list")
		return
	}

	aliveCount, alives := e.checkHosts(ctx, cfg, selfIdx)
	e.publishPeerTransitions(cfg, alives)

	localPriority := self.Priority

	e.mu.Lock()
	wasAlive := e.alive
	e.mu.Unlock()

	noSuperiorAlive := true
	for i, p := range cfg.Peers {
		if i == selfIdx {
			continue
		}
		if alives[i] && p.Priority > localPriority {
			noSuperiorAlive = false
			break
		}
	}

	if !wasAlive && (aliveCount == 0 || noSuperiorAlive) {
		e.activate(cfg)
		return
	}

	// A peer with a higher *configured* priority preempts regardless of
	// whether that peer is currently observed alive — preserved as-is from
	// the original decision rule.
	anySuperiorConfigured := false
	for i, p := range cfg.Peers {
		if i == selfIdx {
			continue
		}
		if p.Priority > localPriority {
			anySuperiorConfigured = true
			break
		}
	}

	if e.child.Running() && anySuperiorConfigured {
		e.deactivate()
	}
}

// checkHosts probes every peer but self concurrently and returns the count
// of reachable peers plus a per-index liveness slice the same length as
// cfg.Peers (§4.7, §5 — probes fan out via errgroup and join before the
// decision is made).
func (e *Engine) checkHosts(ctx context.Context, cfg config.Config, selfIdx int) (int, []bool) {
	alives := make([]bool, len(cfg.Peers))

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range cfg.Peers {
		if i == selfIdx {
			continue
		}
		i, peer := i, peer
		g.Go(func() error {
			alives[i] = e.pool.Ping(gctx, peer)
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for i, alive := range alives {
		if i == selfIdx {
			continue
		}
		metrics.PeerAlive.WithLabelValues(cfg.Peers[i].Name).Set(boolToFloat(alive))
		if alive {
			count++
		}
	}
	return count, alives
}

func (e *Engine) publishPeerTransitions(cfg config.Config, alives []bool) {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range cfg.Peers {
		if p.Name == cfg.Metadata.Name {
			continue
		}
		alive := alives[i]
		if prev, seen := e.peerAlive[p.Name]; seen && prev == alive {
			continue
		}
		e.peerAlive[p.Name] = alive
		e.bus.Publish(events.Event{
			Type:      events.EventPeerStateChanged,
			Timestamp: time.Now(),
			Peer:      &events.PeerData{Name: p.Name, Alive: alive, Priority: p.Priority},
		})
	}
}

func (e *Engine) activate(cfg config.Config) {
	e.logger.Info("node switching to alive")

	// Spawn failure has no sensible fallback — the node cannot claim to be
	// active without a child handle, so this is fatal to the heartbeat
	// (§4.3), matching the original's Process::new().expect() panic.
	if err := e.child.Spawn(cfg.Execution.Instructions); err != nil {
		panic(fmt.Sprintf("heartbeat: failed to spawn child on activation: %v", err))
	}

	e.mu.Lock()
	e.alive = true
	e.mu.Unlock()

	metrics.Active.Set(1)
	metrics.ChildRestarts.Inc()
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.EventActivated,
			Timestamp: time.Now(),
			Node:      &events.NodeData{Alive: true},
		})
	}
}

func (e *Engine) deactivate() {
	e.mu.Lock()
	e.alive = false
	e.mu.Unlock()

	e.logger.Info("node preempted by a higher-priority peer, switching to inactive")
	e.child.Kill()
	metrics.Active.Set(0)
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.EventDeactivated,
			Timestamp: time.Now(),
			Node:      &events.NodeData{Alive: false},
			Reason:    "preempted by higher-priority peer",
		})
	}
}

// Alive reports whether this node currently believes it is the active one.
func (e *Engine) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
