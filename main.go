// netguardd is the host-level policy filter daemon: it validates and
// compiles policy documents, reconciles them against the kernel's installed
// filter state, persists the last-known-good policy for fail-open startup,
// and serves an administrative Unix-socket control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"netguardd/config"
	"netguardd/engine"
	"netguardd/ipc"
	"netguardd/lifecycle"
	"netguardd/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the daemon TOML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netguardd: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.NewLogger(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	}))

	if err := run(cfg); err != nil {
		logging.Error("netguardd exiting", "error", err)
		os.Exit(1)
	}
}

// loadConfig loads the TOML file at path if present, falling back silently
// to Default() when the default path doesn't exist (an explicit --config
// that doesn't exist is still an error).
func loadConfig(path string) (config.Config, error) {
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// run opens the filter engine (fail-open on error, per I7), wires the
// lifecycle orchestrator, binds the control socket, and serves until a
// termination signal arrives. A bind failure is the one startup error that
// exits non-zero (spec.md §6.4); everything after that point is reported
// over IPC and audit while the process keeps running.
func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var adapter engine.Adapter
	nft, err := engine.OpenEngine()
	if err != nil {
		logging.Warn("filter engine unavailable at startup, continuing fail-open", "error", err)
	} else {
		adapter = nft
		defer nft.Close()
	}

	fs := afero.NewOsFs()
	orch := lifecycle.New(cfg, fs, adapter)
	orch.Startup(ctx)

	srv := ipc.NewServer(ipc.Config{
		SocketPath:            cfg.SocketPath,
		MaxFrameBytes:         cfg.MaxFrameBytes,
		RateLimitBucketSize:   cfg.RateLimitBucketSize,
		RateLimitRefillPerSec: cfg.RateLimitRefillPerSec,
	}, orch)

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case <-ctx.Done():
		logging.Info("netguardd shutting down")
	case err := <-serveErr:
		if err != nil {
			logging.Error("ipc server stopped unexpectedly", "error", err)
		}
	}

	orch.Shutdown(context.Background())
	return srv.Close(5 * time.Second)
}
