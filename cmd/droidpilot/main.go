// Droidpilot engine - drives device automation sessions over agent streams
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/droidpilot/droidpilot/internal/assets"
	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/popup"
	"github.com/droidpilot/droidpilot/internal/session"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if len(cfg.DeviceAddrs) == 0 {
		slog.Error("no devices configured, set DEVICE_ADDRS")
		os.Exit(1)
	}

	catalog, err := assets.Load(cfg.AssetDir)
	if err != nil {
		slog.Error("failed to load catalog", "dir", cfg.AssetDir, "error", err)
		os.Exit(1)
	}
	loaded, failed := catalog.Warmup()
	slog.Info("templates warmed", "loaded", loaded, "failed", failed)

	engine := session.NewEngine(cfg, catalog)
	defer engine.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, addr := range cfg.DeviceAddrs {
		sess, err := engine.Connect(ctx, addr)
		if err != nil {
			slog.Error("device connect failed", "addr", addr, "error", err)
			continue
		}
		slog.Info("session started", "addr", addr, "session", sess.ID())

		wg.Add(1)
		go func(addr string, s *session.Session) {
			defer wg.Done()
			defer func() { _ = s.Close() }()
			if err := s.Run(ctx, session.DefaultObserveInterval); err != nil {
				if errors.Is(err, popup.ErrFatal) {
					slog.Error("session hit fatal popup", "addr", addr, "error", err)
					return
				}
				slog.Error("session error", "addr", addr, "error", err)
			}
		}(addr, sess)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()
	wg.Wait()
	slog.Info("shutdown complete")
}
