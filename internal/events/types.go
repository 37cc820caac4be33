// Package events provides the non-blocking event bus for the failover supervisor.
package events

import "time"

// EventType identifies a failover lifecycle event.
type EventType string

const (
	// EventActivated fires when this node transitions to active and spawns its child.
	EventActivated EventType = "node.activated"
	// EventDeactivated fires when this node is preempted and kills its child.
	EventDeactivated EventType = "node.deactivated"
	// EventPeerStateChanged fires when a probed peer's liveness flips.
	EventPeerStateChanged EventType = "peer.state_changed"
	// EventConfigMerged identifies a config merge outcome. Neither the config
	// store nor the reloader publishes it; merges are visible only through
	// logs and the config_merges_total metric.
	EventConfigMerged EventType = "config.merged"
)

// Event is the payload passed through the event bus.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason,omitempty"`
	Node      *NodeData     `json:"node,omitempty"`
	Peer      *PeerData     `json:"peer,omitempty"`
	ConfigOp  *ConfigOpData `json:"config_op,omitempty"`
}

// NodeData carries this node's own activation state in an event.
type NodeData struct {
	Alive bool `json:"alive"`
}

// PeerData carries a single peer's liveness change.
type PeerData struct {
	Name     string `json:"name"`
	Alive    bool   `json:"alive"`
	Priority uint32 `json:"priority"`
}

// ConfigOpData carries the outcome of a config merge attempt.
type ConfigOpData struct {
	Source  string `json:"source"`
	Applied bool   `json:"applied"`
	Discard string `json:"discard_reason,omitempty"`
}
