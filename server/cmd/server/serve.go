package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/alertengine/server/internal/alerts"
	"github.com/obsidianstack/alertengine/server/internal/api"
	"github.com/obsidianstack/alertengine/server/internal/auth"
	"github.com/obsidianstack/alertengine/server/internal/clock"
	"github.com/obsidianstack/alertengine/server/internal/config"
	"github.com/obsidianstack/alertengine/server/internal/dispatch"
	"github.com/obsidianstack/alertengine/server/internal/notifier"
	"github.com/obsidianstack/alertengine/server/internal/receiver"
	"github.com/obsidianstack/alertengine/server/internal/samples"
	"github.com/obsidianstack/alertengine/server/internal/store"
	"github.com/obsidianstack/alertengine/server/internal/store/sqlite"
	"github.com/obsidianstack/alertengine/server/internal/telemetry"
	"github.com/obsidianstack/alertengine/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation loop and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, cmd.Flags().Changed("log-level"))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	return cmd
}

func serve(configPath string, levelFromFlag bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !levelFromFlag {
		lvl, err := parseLevel(cfg.Server.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
	}

	slog.Info("alertengine starting",
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Server.Storage.Driver,
		"workspaces", len(cfg.Workspaces),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repos, closeStore, err := openStore(ctx, cfg.Server.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	// Samples arrive by push and by scrape; the scraper loop also evicts.
	buf := samples.NewBuffer(cfg.Scrape.Retention)
	go samples.NewScraper(buf, cfg.Scrape.ScrapeTargets()).Run(ctx, cfg.Scrape.Interval)

	metrics := telemetry.New()
	hub := ws.New()
	go hub.Run(ctx)

	d := dispatch.New(dispatch.Config{
		MaxAttempts: cfg.Engine.Delivery.MaxAttempts,
		BaseDelay:   cfg.Engine.Delivery.BaseDelay,
		MaxDelay:    cfg.Engine.Delivery.MaxDelay,
		SendTimeout: cfg.Engine.Delivery.Timeout,
	}, cfg.Channels, notifier.NewRegistry(nil), repos, clock.Real())
	d.SetObserver(metrics)

	engine := alerts.New(repos, buf, d, alerts.Options{
		Workers:         cfg.Engine.Workers,
		DefaultCooldown: cfg.Engine.DefaultCooldown,
		Observer:        metrics,
	})
	defer engine.Close()
	engine.Subscribe(hub)
	engine.Subscribe(metrics)

	for _, w := range cfg.Workspaces {
		if err := engine.Sync(ctx, workspaceOf(w, nil)); err != nil {
			return fmt.Errorf("workspace %q: %w", w.ID, err)
		}
	}
	if err := engine.Resume(ctx); err != nil {
		return fmt.Errorf("resume escalations: %w", err)
	}
	go engine.Run(ctx, cfg.Engine.TickInterval)

	current := cfg
	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			d.SetChannels(next.Channels)
			removed := config.RemovedRules(current, next)
			for _, w := range next.Workspaces {
				if err := engine.Sync(ctx, workspaceOf(w, removed[w.ID])); err != nil {
					slog.Error("config reload: workspace sync failed", "workspace", w.ID, "err", err)
				}
			}
			current = next
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	router := mux.NewRouter()
	router.Use(auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health", "/metrics",
	))
	api.NewHandler(engine).RegisterRoutes(router)
	receiver.New(buf).RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler())
	router.Handle("/ws/events", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("alertengine shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return httpSrv.Shutdown(shutdownCtx)
}

// openStore returns the configured repositories and a func releasing them.
func openStore(ctx context.Context, sc config.StorageConfig) (store.Repositories, func(), error) {
	switch sc.Driver {
	case "sqlite":
		st, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %q: %w", sc.Path, err)
		}
		slog.Info("sqlite store opened", "path", st.Path())
		go st.Run(ctx, sc.WindowRetention)
		return st, func() {
			if err := st.Close(); err != nil {
				slog.Warn("sqlite close failed", "err", err)
			}
		}, nil
	default:
		m := store.NewMemory(sc.WindowRetention)
		go m.Run(ctx)
		return m, func() {}, nil
	}
}

func workspaceOf(w config.Workspace, removed []string) alerts.Workspace {
	return alerts.Workspace{
		ID:       w.ID,
		Rules:    w.AlertRules(),
		Policies: w.EscalationPolicies,
		Windows:  w.Suppressions,
		Removed:  removed,
	}
}
