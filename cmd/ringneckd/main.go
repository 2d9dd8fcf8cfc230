// Command ringneckd is the supervisor: a long-lived daemon that owns the
// cache directory and IPC socket, normally launched by ringneck itself
// rather than run by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/blob79/ringneck/internal/cachestore"
	"github.com/blob79/ringneck/internal/ipc"
	"github.com/blob79/ringneck/internal/ringconfig"
	"github.com/blob79/ringneck/internal/ringlog"
	"github.com/blob79/ringneck/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		ringlog.Error("ringneckd exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cacheDir, err := ringconfig.CacheDir()
	if err != nil {
		return fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := ringconfig.EnsureCacheDir(cacheDir); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	cfg, err := ringconfig.Load(cacheDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logPath := filepath.Join(cacheDir, "supervisor.log")
	if err := ringlog.Init(cfg.LogLevel, os.Stderr, logPath); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	store, err := cachestore.Open(cacheDir)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}

	sockPath, err := ringconfig.SocketPath()
	if err != nil {
		return fmt.Errorf("resolve socket path: %w", err)
	}
	ln, err := ipc.Listen(sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sockPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(store, cfg, ln)
	ringlog.Info("ringneckd listening", "socket", sockPath, "cache", cacheDir)
	return sup.Run(ctx)
}
