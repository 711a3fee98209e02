// Command dlmand is the background daemon process: it owns the
// persistence store, runs the queue scheduler, and serves the local
// control API that dlman and any frontend talk to.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/novincode/dlman-sub000/internal/daemon"
	"github.com/novincode/dlman-sub000/internal/scheduler"
	"github.com/novincode/dlman-sub000/internal/server"
	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dlmand: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir, err := dlcore.ResolveDataDir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	logger := log.New(os.Stderr, "dlmand ", log.LstdFlags)

	store, err := dlcore.Open(filepath.Join(dataDir, "dlman.db"), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	bus := dlcore.NewEventBus()
	mgr, err := dlcore.NewManager(store, bus)
	if err != nil {
		return fmt.Errorf("init manager: %w", err)
	}

	if err := mgr.Recover(); err != nil {
		logger.Printf("recovery scan: %v", err)
	}

	sched := scheduler.New(mgr, logger)

	port := mgr.Settings().BrowserIntegrationPort
	if v := os.Getenv(dlcore.PortEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	srv := server.New(logger, mgr, port)

	r := daemon.New(nil, func(ctx context.Context) error {
		sched.Start(ctx)
		defer sched.Stop()
		return srv.Start(ctx)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return r.Start(ctx)
}
