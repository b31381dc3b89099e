package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ladder_go/internal/app"
	"ladder_go/internal/domain"
	"ladder_go/internal/engine"
	"ladder_go/internal/infra"
)

func main() {
	configPath := flag.String("config", infra.ResolveConfigPath(), "path to config.yaml")
	flag.Parse()

	os.Exit(run(*configPath))
}

func run(configPath string) int {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return 1
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap.Notifier.Start(ctx)
	if bootstrap.LadderChanged {
		bootstrap.Notifier.Notify("Ladder configuration changed since the last run")
	}

	// 3. Metrics / health endpoint
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: infra.NewMetricsHandler(infra.GlobalMetrics)}
		go func() {
			slog.Info("📈 Metrics server started", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 4. Engine: load or create the ladder position
	eng := engine.New(engine.Config{
		Ladder:   cfg.Ladder,
		Gateway:  bootstrap.Gateway,
		Store:    bootstrap.States,
		Notifier: bootstrap.Notifier,
		Recorder: bootstrap.Journal,
	})
	if err := eng.Start(ctx); err != nil {
		if errors.Is(err, domain.ErrLadderComplete) {
			slog.Info("✨ Ladder already complete, nothing to do")
			return 0
		}
		slog.Error("❌ Engine start failed", slog.Any("error", err))
		return 1
	}

	// 5. Sequencer + feed. The feed is connected before reconciling so that
	// nothing published during reconciliation is missed; events wait in the inbox.
	seq := engine.NewSequencer(1024, eng)
	seq.DumpPath = filepath.Join(cfg.App.DataDir, "panic_dump.json")

	var nextSeq uint64
	if feed := bootstrap.NewFeed(seq.Inbox(), &nextSeq); feed != nil {
		eng.SetFeed(feed)
		if err := feed.Connect(ctx); err != nil {
			slog.Error("❌ Feed connect failed", slog.Any("error", err))
			return 1
		}
		defer feed.Disconnect()
	}

	// 6. Catch up with what happened while we were down
	if err := eng.Reconcile(ctx); err != nil {
		slog.Error("❌ Reconcile failed", slog.Any("error", err))
		return 1
	}

	slog.InfoContext(ctx, "✨ Ladder running. Press Ctrl+C to exit.",
		slog.Int("step", int(eng.State().CurrentStep)),
		slog.String("market", cfg.DYDX.Market))

	// 7. Single consumer loop until completion, shutdown or a fatal error
	if err := seq.Run(ctx); err != nil {
		slog.Error("❌ Sequencer halted", slog.Any("error", err))
		return 1
	}

	if eng.Done() {
		slog.Info("✨ Ladder complete")
	} else {
		slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	}
	return 0
}
