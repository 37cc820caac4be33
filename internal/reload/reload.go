// Package reload keeps a config.Store current via two independent paths:
// a filesystem watch on the config file itself, and periodic config pulls
// from peers merged in with the monotone merge rule (§4.6).
package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/p2p-failover/failoverd/internal/config"
	"github.com/p2p-failover/failoverd/internal/metrics"
	"github.com/p2p-failover/failoverd/internal/peerpool"
)

// Watcher re-reads the config file on write/create events and feeds the
// result into a Store.
type Watcher struct {
	store  *config.Store
	path   string
	logger *slog.Logger
}

// NewWatcher builds a Watcher for path, whose changes are applied to store.
func NewWatcher(store *config.Store, path string, logger *slog.Logger) *Watcher {
	return &Watcher{store: store, path: path, logger: logger}
}

// Run watches path's containing directory (fsnotify does not support
// watching a single file reliably across editors that rename-and-replace)
// until ctx is done, applying every write/create event targeting path.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	abs, err := filepath.Abs(w.path)
	if err != nil {
		abs = w.path
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			eventAbs, err := filepath.Abs(event.Name)
			if err != nil {
				eventAbs = event.Name
			}
			if eventAbs != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("re-reading config file after change", "error", err)
		metrics.ConfigReloadsTotal.WithLabelValues("read_error").Inc()
		return
	}
	if err := w.store.ReplaceFromFile(data); err != nil {
		w.logger.Warn("reloading config file", "error", err)
		metrics.ConfigReloadsTotal.WithLabelValues("parse_error").Inc()
		return
	}
	w.logger.Info("config reloaded from disk")
	metrics.ConfigReloadsTotal.WithLabelValues("ok").Inc()
}

// Puller periodically pulls every peer's config and merges it into the
// local store via the monotone merge rule.
type Puller struct {
	store  *config.Store
	pool   *peerpool.Pool
	logger *slog.Logger
}

// NewPuller builds a Puller.
func NewPuller(store *config.Store, pool *peerpool.Pool, logger *slog.Logger) *Puller {
	return &Puller{store: store, pool: pool, logger: logger}
}

// Run pulls and merges every peer's config once per interval until ctx is
// done.
func (p *Puller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pullAll(ctx)
		}
	}
}

func (p *Puller) pullAll(ctx context.Context) {
	cfg := p.store.Snapshot()
	self, _, ok := cfg.Self()
	if !ok {
		return
	}

	for _, peer := range cfg.Peers {
		if peer.Name == self.Name {
			continue
		}
		incoming, err := p.pool.FetchConfig(ctx, peer)
		if err != nil {
			p.logger.Debug("pulling config from peer failed", "peer", peer.Name, "error", err)
			continue
		}
		applied, err := p.store.Merge(incoming)
		if err != nil {
			p.logger.Warn("merging config from peer", "peer", peer.Name, "error", err)
			continue
		}
		if applied {
			p.logger.Info("merged config from peer", "peer", peer.Name)
		}
	}
}
