// failoverd — a peer-to-peer failover supervisor. Each node in the peer
// list probes its siblings, activates its managed child process when no
// higher-priority peer is alive, and steps aside the moment one outranks
// it.
package main

import (
	"context"
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p2p-failover/failoverd/internal/child"
	"github.com/p2p-failover/failoverd/internal/config"
	"github.com/p2p-failover/failoverd/internal/events"
	"github.com/p2p-failover/failoverd/internal/heartbeat"
	"github.com/p2p-failover/failoverd/internal/logging"
	"github.com/p2p-failover/failoverd/internal/peerpool"
	"github.com/p2p-failover/failoverd/internal/reload"
	"github.com/p2p-failover/failoverd/internal/wireserver"
)

// EnvMetricsAddr names the address the /metrics endpoint binds to.
const EnvMetricsAddr = "METRICS_ADDR"

// DefaultMetricsAddr is used when EnvMetricsAddr is unset (§6).
const DefaultMetricsAddr = ":9090"

func main() {
	configPath := flag.String("config", "", "path to the config file (overrides P2P_CONFIG_PATH)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.PathFromEnv()
	}

	logger := logging.Setup(logging.LevelFromEnv().String(), os.Stderr)
	logger.Info("failoverd starting", "config", path)

	store, err := config.Load(path, logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	self, _, ok := store.Snapshot().Self()
	if !ok {
		logger.Error("local node name is not present in the peer list", "name", store.Snapshot().Metadata.Name)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(10000, logger)
	go bus.Start()

	resolver := peerpool.ResolverFromEnv()
	pool := peerpool.New(logger, resolver)
	sup := child.New(logger)

	wireSrv := wireserver.New(store, logger)
	go func() {
		if err := wireSrv.ListenAndServe(self.Port); err != nil {
			logger.Error("wire server failed", "error", err)
			os.Exit(1)
		}
	}()

	watcher := reload.NewWatcher(store, path, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	puller := reload.NewPuller(store, pool, logger)
	go puller.Run(ctx, 5*time.Second)

	metricsAddr := os.Getenv(EnvMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = DefaultMetricsAddr
	}
	mux := nethttp.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	go func() {
		if err := nethttp.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", metricsAddr)

	engine := heartbeat.New(store, pool, sup, bus, logger)
	go engine.Run(ctx, heartbeat.DefaultInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	sup.Kill()
	bus.Stop()
	fmt.Fprintln(os.Stderr, "failoverd shut down")
}
