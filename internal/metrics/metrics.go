// Package metrics defines all Prometheus metrics for the failover supervisor.
// All metrics use the "p2p_failover_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "p2p_failover"

// --- Heartbeat & probe metrics ---

var (
	// HeartbeatsTotal counts completed heartbeat ticks.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeats_total",
		Help:      "Total number of heartbeat ticks run.",
	})

	// HeartbeatDuration tracks how long a full heartbeat tick takes, including
	// probe fan-out and the activation decision.
	HeartbeatDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "heartbeat_duration_seconds",
		Help:      "Heartbeat tick duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	// ProbesTotal counts peer liveness probes that got as far as sending PING,
	// by outcome. Probes that cannot connect are counted by PoolDials instead.
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_total",
		Help:      "Total peer probes, by result (alive, write_error, timeout, bad_reply).",
	}, []string{"result"})

	// PeerAlive is a gauge of the last-observed liveness of each peer (0 or 1).
	PeerAlive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peer_alive",
		Help:      "Last observed liveness of each peer (1=alive, 0=dead).",
	}, []string{"peer"})
)

// --- Activation metrics ---

var (
	// Active is 1 if this node is currently serving as the active peer.
	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active",
		Help:      "1 if this node currently holds the managed child process, else 0.",
	})

	// ChildRestarts counts how many times the managed child has been spawned.
	ChildRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "child_restarts_total",
		Help:      "Total number of times the managed child process was spawned.",
	})
)

// --- Config metrics ---

var (
	// ConfigMerges counts config merge attempts, by outcome.
	ConfigMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_merges_total",
		Help:      "Total config merge attempts, by outcome (applied, discarded).",
	}, []string{"outcome"})

	// ConfigPersistErrors counts failures to write the config file to disk.
	ConfigPersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_persist_errors_total",
		Help:      "Total failures persisting the config file to disk.",
	})

	// ConfigReloadsTotal counts file-watcher-triggered reloads, by outcome.
	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "Total config file reloads triggered by the file watcher, by outcome.",
	}, []string{"outcome"})
)

// --- Connection pool metrics ---

var (
	// PoolConnectionsOpen is a gauge of currently open peer connections.
	PoolConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connections_open",
		Help:      "Number of currently open peer connections in the pool.",
	})

	// PoolDials counts outbound dial attempts, by outcome.
	PoolDials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_dials_total",
		Help:      "Total outbound peer dial attempts, by outcome (connected, refused, error, resolve_error).",
	}, []string{"outcome"})
)

// --- Event bus metrics ---

var (
	// EventsPublished counts events published to the bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published to the event bus, by type.",
	}, []string{"type"})

	// EventBufferDrops counts events dropped because the bus buffer was full.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped because the event bus buffer was full.",
	})
)

// --- Wire server metrics ---

var (
	// WireRequests counts inbound wire commands, by command.
	WireRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wire_requests_total",
		Help:      "Total inbound wire protocol requests, by command (ping, get_config, unknown).",
	}, []string{"command"})
)
