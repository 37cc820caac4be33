// Package config holds the YAML configuration for the failover supervisor:
// the peer list, this node's own identity, and the child process to manage.
package config

import (
	"fmt"
	"net"

	"github.com/p2p-failover/failoverd/internal/timestamp"
	"gopkg.in/yaml.v3"
)

// Peer describes one member of the failover group.
type Peer struct {
	Name        string              `yaml:"name"`
	DDNS        string              `yaml:"ddns"`
	IP          string              `yaml:"ip"`
	Port        uint32              `yaml:"port"`
	Preference  uint8               `yaml:"preference"`
	Priority    uint32              `yaml:"priority"`
	LastUpdated timestamp.Timestamp `yaml:"last_updated"`
}

// Target returns the connect address this peer should be reached at:
// its DNS hostname when Preference is 0, otherwise its IPv4 address.
func (p Peer) Target() string {
	if p.Preference == 0 {
		return p.DDNS
	}
	return p.IP
}

// Metadata identifies the local peer and arbitrates config merges.
type Metadata struct {
	Name        string              `yaml:"name"`
	LastUpdated timestamp.Timestamp `yaml:"last_updated"`
}

// Execution holds the whitespace-delimited argv for the managed child.
type Execution struct {
	Instructions string              `yaml:"instructions"`
	LastUpdated  timestamp.Timestamp `yaml:"last_updated"`
}

// Config is the full configuration: the peer list, this node's own
// identity, and the child process to manage.
type Config struct {
	Peers     []Peer    `yaml:"-"`
	Metadata  Metadata  `yaml:"config_metadata"`
	Execution Execution `yaml:"execution"`
}

// yamlConfig mirrors Config's wire shape so we can accept either the
// canonical "nodes" key or the legacy "ddns" key for the peer sequence
// (§6, §9 — the original source wrote the struct field as `ddns` but its
// own fixtures used `nodes`; this implementation accepts both and always
// persists under `nodes`).
type yamlConfig struct {
	Nodes       []Peer    `yaml:"nodes"`
	LegacyNodes []Peer    `yaml:"ddns"`
	Metadata    Metadata  `yaml:"config_metadata"`
	Execution   Execution `yaml:"execution"`
}

// UnmarshalYAML implements the nodes/ddns key alias.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var aux yamlConfig
	if err := node.Decode(&aux); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	c.Peers = aux.Nodes
	if len(c.Peers) == 0 {
		c.Peers = aux.LegacyNodes
	}
	c.Metadata = aux.Metadata
	c.Execution = aux.Execution
	return nil
}

// MarshalYAML always emits the peer sequence under the canonical "nodes" key.
func (c Config) MarshalYAML() (interface{}, error) {
	return yamlConfig{
		Nodes:     c.Peers,
		Metadata:  c.Metadata,
		Execution: c.Execution,
	}, nil
}

// Clone returns a deep copy of the config, safe to hand to a caller that
// will read it outside any lock.
func (c Config) Clone() Config {
	peers := make([]Peer, len(c.Peers))
	copy(peers, c.Peers)
	return Config{
		Peers:     peers,
		Metadata:  c.Metadata,
		Execution: c.Execution,
	}
}

// Self returns this node's own peer entry and its index, or false if the
// configured local name is absent from the peer list (a degenerate config).
func (c Config) Self() (Peer, int, bool) {
	for i, p := range c.Peers {
		if p.Name == c.Metadata.Name {
			return p, i, true
		}
	}
	return Peer{}, -1, false
}

// SelfPriority returns the local priority, or 0 if the local name is
// missing from the peer list (§4.7.1).
func (c Config) SelfPriority() uint32 {
	if self, _, ok := c.Self(); ok {
		return self.Priority
	}
	return 0
}

// Parse decodes a YAML document into a Config and validates it.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal serializes a Config to its canonical YAML form.
func Marshal(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}
	return data, nil
}

// Validate checks the invariants in §3/§4.2b: the local name must appear
// exactly once in the peer list, peer names must be unique, ports must be
// valid u16 wire ports, and preference must be 0 or 1.
func Validate(cfg Config) error {
	if cfg.Metadata.Name == "" {
		return fmt.Errorf("validating config: config_metadata.name is empty")
	}

	seen := make(map[string]int, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if p.Name == "" {
			return fmt.Errorf("validating config: a peer entry has an empty name")
		}
		seen[p.Name]++
		if seen[p.Name] > 1 {
			return fmt.Errorf("validating config: duplicate peer name %q", p.Name)
		}
		if p.Port == 0 || p.Port > 65535 {
			return fmt.Errorf("validating config: peer %q has out-of-range port %d", p.Name, p.Port)
		}
		if p.Preference > 1 {
			return fmt.Errorf("validating config: peer %q has invalid preference %d (want 0 or 1)", p.Name, p.Preference)
		}
		if p.Preference != 0 {
			if net.ParseIP(p.IP) == nil {
				return fmt.Errorf("validating config: peer %q has invalid ip %q", p.Name, p.IP)
			}
		}
	}

	if seen[cfg.Metadata.Name] != 1 {
		return fmt.Errorf("validating config: config_metadata.name %q must match exactly one peer entry", cfg.Metadata.Name)
	}

	return nil
}
