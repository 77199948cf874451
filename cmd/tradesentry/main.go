package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tradesentry/tradesentry/internal/api"
	"github.com/tradesentry/tradesentry/internal/collector"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/escalate"
	"github.com/tradesentry/tradesentry/internal/health"
	"github.com/tradesentry/tradesentry/internal/manager"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/notify"
	"github.com/tradesentry/tradesentry/internal/rules"
	"github.com/tradesentry/tradesentry/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("tradesentry starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"sources", len(cfg.Collector.Sources),
		"rules", len(cfg.Alerts.Rules),
		"channels", len(cfg.Channels),
		"http_port", cfg.Server.HTTPPort,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metric store with background flush and retention compaction.
	store, err := metrics.Open(cfg.Store.Path, cfg.Store.Retention)
	if err != nil {
		slog.Error("failed to open metric store", "path", cfg.Store.Path, "err", err)
		os.Exit(1)
	}
	defer store.Close()
	go store.Run(ctx)

	// Build one adapter per configured source; a bad source is skipped,
	// not fatal.
	var adapters []collector.ProcessAdapter
	for _, src := range cfg.Collector.Sources {
		a, err := collector.NewAdapter(src)
		if err != nil {
			slog.Error("skipping source — could not build adapter", "source", src.ID, "err", err)
			continue
		}
		adapters = append(adapters, a)
		slog.Info("registered source", "id", src.ID, "type", src.Type)
	}
	if len(adapters) == 0 {
		slog.Warn("no sources configured — collector will idle")
	}
	coll := collector.New(store, adapters, cfg.Collector.Interval, cfg.Collector.Timeout)
	go coll.Run(ctx)

	// Notification channel registry from config; endpoints resolve from
	// the environment, never from the config file itself.
	registry, err := notify.BuildRegistry(cfg.Channels)
	if err != nil {
		slog.Error("failed to build channel registry", "err", err)
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(registry, store)

	catalog := rules.FromConfig(cfg.Alerts)
	engine := rules.New(catalog)
	tracker := escalate.New(escalate.PolicyFromConfig(cfg.Escalation))

	// Health checker writes its verdicts back into the store so rules
	// can alert on them.
	checker := health.NewChecker(
		health.BuiltinChecks(cfg.Health, store, nil),
		store,
		cfg.Health.Interval,
		cfg.Health.Timeout,
	)
	go checker.Run(ctx)

	allChannels := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		allChannels = append(allChannels, ch.ID)
	}
	mgr := manager.New(store, engine, tracker, dispatcher, checker,
		catalog, cfg.Alerts.Interval, allChannels)
	go mgr.Run(ctx)

	// Hot-reload the rule catalog on config file changes. Sources and
	// channels keep their boot-time configuration.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			mgr.SetRules(rules.FromConfig(updated.Alerts))
			slog.Info("rule catalog hot-reloaded", "rules", len(updated.Alerts.Rules))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Dashboard stream.
	hub := ws.New(mgr, cfg.Server.StreamInterval)
	go hub.Run(ctx)

	// Combined HTTP server: REST API + WebSocket stream.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.NewServer(mgr, store).Router())
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("tradesentry shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
