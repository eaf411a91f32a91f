package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/occi-cad/occi-server/internal/batch"
	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/cachestore"
	"github.com/occi-cad/occi-server/internal/catalog"
	"github.com/occi-cad/occi-server/internal/config"
	"github.com/occi-cad/occi-server/internal/dispatch"
	"github.com/occi-cad/occi-server/internal/httpapi"
	"github.com/occi-cad/occi-server/internal/metrics"
	"github.com/occi-cad/occi-server/internal/script"
)

// runServe loads configuration, wires the catalog/cache/broker/dispatcher
// stack, and serves HTTP until SIGINT/SIGTERM, the same graceful-shutdown
// shape as the teacher's cmd/cie/serve.go (signal.Notify + context-based
// server.Shutdown), adapted to hand the cancellation context to
// httpapi.Serve instead of inlining the shutdown goroutine here.
func runServe(args []string, globals GlobalFlags) int {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error loading config: %v", err))
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: verboseLevel(globals.Verbose),
	}))

	if _, err := config.EnsurePassphrase(cfg, func(p string) {
		logger.Warn("admin passphrase was not configured; generated one for this run", "passphrase", p)
	}); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error generating admin passphrase: %v", err))
		return 1
	}

	cat := catalog.New(cfg.CatalogRoot, logger)
	if err := cat.Reload(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error loading catalog: %v", err))
		return 1
	}

	cache := cachestore.New(cfg.CacheRoot, logger)
	if removed, err := cache.Sweep(); err != nil {
		logger.Warn("cache sweep failed", "err", err)
	} else if removed > 0 {
		logger.Info("cache sweep removed stale in-flight markers", "count", removed)
	}

	if cfg.Broker.Kind != "embedded" {
		fmt.Fprintln(os.Stderr, color.RedString("broker kind %q is not implemented; only \"embedded\" is available in this build", cfg.Broker.Kind))
		return 1
	}
	brk := broker.NewEmbeddedBroker()
	brk.RegisterEngine(string(script.EngineCadQuery), cfg.Workers.CadQueryConcurrency, stubCompute)
	brk.RegisterEngine(string(script.EngineArchiyou), cfg.Workers.ArchiyouConcurrency, stubCompute)
	brk.RegisterEngine(string(script.EngineOpenSCAD), cfg.Workers.ArchiyouConcurrency, stubCompute)

	m := metrics.New()

	disp := dispatch.New(cat, cache, brk, m, logger)
	coord := batch.New(cache, brk, m, logger)
	coord.Concurrency = cfg.Workers.BatchConcurrency

	srv := httpapi.New(cat, disp, coord, cfg, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("occi-server starting", "addr", cfg.HTTP.Addr, "catalog_root", cfg.CatalogRoot, "cache_root", cfg.CacheRoot)
	if err := srv.Serve(ctx, cfg.HTTP.Addr); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("server error: %v", err))
		return 1
	}
	return 0
}

// stubCompute stands in for the real CAD engine invocation, which spec §6
// explicitly scopes out ("Worker broker contract: out of scope to
// implement, contract to consume"). It synthesizes a deterministic,
// inspectable placeholder result so the dispatcher/cache/batch pipeline is
// exercisable end to end without a real cadquery/archiyou/openscad worker.
func stubCompute(ctx context.Context, req broker.Request) broker.Result {
	start := time.Now()
	params, _ := json.Marshal(req.Params)
	payload := fmt.Sprintf("OCCI-PLACEHOLDER script=%s params=%s", req.ScriptID, params)
	return broker.Result{
		Success:    true,
		DurationMs: time.Since(start).Milliseconds(),
		Models: map[broker.Format]string{
			req.Format: broker.EncodeModel(req.Format, []byte(payload)),
		},
		Messages: []string{"computed by the embedded placeholder worker, not a real CAD engine"},
	}
}

func verboseLevel(v int) slog.Level {
	switch {
	case v >= 2:
		return slog.LevelDebug
	case v >= 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
