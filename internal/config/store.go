package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/p2p-failover/failoverd/internal/metrics"
	"github.com/p2p-failover/failoverd/internal/timestamp"
)

// EnvConfigPath is the environment variable naming the config file location.
const EnvConfigPath = "P2P_CONFIG_PATH"

// DefaultConfigPath is used when EnvConfigPath is unset.
const DefaultConfigPath = "p2p-failover.config.yaml"

// PathFromEnv resolves the config file path from P2P_CONFIG_PATH, falling
// back to DefaultConfigPath.
func PathFromEnv() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Store is the in-memory configuration shared by every component, plus the
// verbatim text of the last-loaded or last-merged document — the Wire
// Server must be able to echo bytes that peers can parse back (§4.2).
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	raw    string
	path   string
	logger *slog.Logger
}

// Load reads, parses, and validates the config file at path, creating it
// with empty contents if it does not yet exist (§4.8). A parse or
// validation failure on initial load is fatal — returned to the caller,
// who is expected to terminate the process.
func Load(path string, logger *slog.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("opening config file %s: %w", path, err)
		}
		if cerr := os.WriteFile(path, nil, 0644); cerr != nil {
			return nil, fmt.Errorf("creating config file %s: %w", path, cerr)
		}
		data = nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return &Store{
		cfg:    cfg,
		raw:    string(data),
		path:   path,
		logger: logger,
	}, nil
}

// Snapshot returns a deep copy of the current configuration, safe to read
// without holding any lock.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// RawText returns the verbatim text of the last-loaded or last-merged
// configuration, used by the Wire Server to answer GET CONFIG.
func (s *Store) RawText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw
}

// Mutate runs fn with exclusive access to the structured configuration.
func (s *Store) Mutate(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

// ReplaceFromFile installs a freshly re-read config file, replacing both the
// structured and verbatim forms atomically — used by the file watcher on a
// modify event (§4.6 path 1). A parse failure leaves the store untouched.
func (s *Store) ReplaceFromFile(data []byte) error {
	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.raw = string(data)
	s.mu.Unlock()
	return nil
}

// Merge applies the monotone merge rule (§4.6 path 2) to an incoming
// config pulled or pushed from a peer. Returns true if the incoming config
// was applied, false if it was discarded as stale. Persists on success.
func (s *Store) Merge(incoming Config) (bool, error) {
	s.mu.Lock()
	if s.cfg.Metadata.LastUpdated.After(incoming.Metadata.LastUpdated) {
		s.mu.Unlock()
		metrics.ConfigMerges.WithLabelValues("discarded").Inc()
		return false, nil
	}

	s.cfg.Execution.Instructions = incoming.Execution.Instructions
	s.cfg.Execution.LastUpdated = incoming.Execution.LastUpdated

	selfName := s.cfg.Metadata.Name
	existing := make(map[string]bool, len(s.cfg.Peers))
	for _, p := range s.cfg.Peers {
		existing[p.Name] = true
	}
	for _, p := range incoming.Peers {
		if p.Name == selfName || existing[p.Name] {
			continue
		}
		s.cfg.Peers = append(s.cfg.Peers, p)
		existing[p.Name] = true
	}

	s.cfg.Metadata.LastUpdated = incoming.Metadata.LastUpdated
	for i := range s.cfg.Peers {
		if s.cfg.Peers[i].Name == selfName {
			s.cfg.Peers[i].LastUpdated = timestamp.Now()
			break
		}
	}

	cfgCopy := s.cfg.Clone()
	s.mu.Unlock()

	metrics.ConfigMerges.WithLabelValues("applied").Inc()

	if err := s.persistLocked(cfgCopy); err != nil {
		s.logger.Error("failed to persist merged config", "error", err)
		metrics.ConfigPersistErrors.Inc()
	}
	return true, nil
}

// Persist writes the current configuration to disk as YAML, atomically,
// updating the verbatim text to match. A write failure is returned to the
// caller and leaves the in-memory configuration in place (§4.2, §7).
func (s *Store) Persist() error {
	cfg := s.Snapshot()
	return s.persistLocked(cfg)
}

// persistLocked marshals and writes cfg without assuming the caller holds s.mu.
func (s *Store) persistLocked(cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := atomicWriteFile(s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.raw = string(data)
	s.mu.Unlock()
	return nil
}

// atomicWriteFile writes data to path via a temp file in the same directory
// plus a rename, so readers never observe a partially written config.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "p2p-failover-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming config file into place: %w", err)
	}
	return nil
}
