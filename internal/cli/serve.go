package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelgate/modelgate/internal/api"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/executor"
	log "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/orchestrator"
	"github.com/modelgate/modelgate/internal/usage"
	"github.com/modelgate/modelgate/internal/wire"
)

func runServe(ctx context.Context) error {
	log.SetupBaseLogger()

	if wd, err := os.Getwd(); err == nil {
		if err := godotenv.Load(filepath.Join(wd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("serve: loading .env failed: %v", err)
		}
	}

	configPath := cfgFile
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnvOverrides()

	if cfg.LoggingToFile {
		if err := log.ConfigureLogOutput(filepath.Join("logs", "modelgate.log")); err != nil {
			log.Warnf("serve: file logging unavailable: %v", err)
		}
	}

	executor.Register(&executor.OpenAIExecutor{})
	executor.Register(&executor.ClaudeExecutor{})
	executor.Register(&executor.GeminiExecutor{})
	executor.Register(&executor.GeminiCLIExecutor{})
	executor.Register(&executor.AntigravityExecutor{})

	store, err := connpool.OpenSQLiteStore(filepath.Join("data", "connections.db"))
	if err != nil {
		log.Warnf("serve: connection store unavailable, state will not survive restarts: %v", err)
		store = nil
	}

	var poolStore connpool.Store
	if store != nil {
		poolStore = store
	}
	pool := buildPool(cfg, poolStore)
	if store != nil {
		if records, lerr := store.Load(); lerr == nil {
			pool.Rehydrate(records)
		} else {
			log.Warnf("serve: rehydrating connection state failed: %v", lerr)
		}
	}

	backend, err := usage.NewBackend(usage.BackendConfig{
		DSN:           cfg.Usage.DSN,
		BatchSize:     cfg.Usage.BatchSize,
		FlushInterval: cfg.Usage.FlushInterval,
		RetentionDays: cfg.Usage.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("usage backend: %w", err)
	}
	if backend != nil {
		if err := backend.Start(); err != nil {
			return fmt.Errorf("usage backend start: %w", err)
		}
	}
	tracker := usage.NewTracker(backend)

	refresher := executor.NewRefreshManager()
	orch := orchestrator.New(orchestrator.Options{
		Pool:      pool,
		Refresher: refresher,
		Tracker:   tracker,
		Routes:    buildRoutes(cfg),
	})

	server := api.NewServer(api.Options{
		Orchestrator: orch,
		Pool:         pool,
		Tracker:      tracker,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go executor.NewWarmer(pool, refresher).Run(ctx)

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			next.ApplyEnvOverrides()
			applyReload(pool, orch, next)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("serve: config watcher stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("serve: listening on :%d", cfg.Port)
		serveErr <- server.Run(cfg.Port)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Infof("serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("serve: shutdown incomplete: %v", err)
	}
	tracker.Close(shutdownCtx)
	if store != nil {
		_ = store.Close()
	}
	return nil
}

func buildPool(cfg *config.Config, store connpool.Store) *connpool.Pool {
	pool := connpool.New(connpool.Options{
		Strategy:    connpool.Strategy(cfg.Settings.FallbackStrategy),
		StickyLimit: cfg.Settings.StickyLimit,
		Store:       store,
	})
	for _, conn := range cfg.Connections {
		pool.Upsert(toPoolConnection(conn))
	}
	return pool
}

func toPoolConnection(conn config.Connection) connpool.Connection {
	kind := connpool.AuthAPIKey
	if conn.APIKey == "" {
		kind = connpool.AuthOAuth
	}
	return connpool.Connection{
		ID:           conn.ID,
		Backend:      conn.Backend,
		Label:        conn.Label,
		AuthKind:     kind,
		APIKey:       conn.APIKey,
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenExpiry:  conn.TokenExpiry,
		ProjectID:    conn.ProjectID,
		Priority:     conn.Priority,
		Disabled:     conn.Disabled,
		ProxyURL:     conn.ProxyURL,
	}
}

func buildRoutes(cfg *config.Config) map[string]orchestrator.Route {
	routes := make(map[string]orchestrator.Route, len(cfg.ModelRoutes))
	for model, route := range cfg.ModelRoutes {
		r := orchestrator.Route{Backend: route.Backend, Model: route.Model}
		if route.Format != "" {
			r.Format = wire.FromString(route.Format)
		}
		routes[model] = r
	}
	return routes
}

// applyReload pushes a freshly loaded config into the running components.
// Connections removed from the file stay in the pool until restart; hot
// removal would strand their in-flight requests' bookkeeping.
func applyReload(pool *connpool.Pool, orch *orchestrator.Orchestrator, cfg *config.Config) {
	for _, conn := range cfg.Connections {
		pool.Upsert(toPoolConnection(conn))
	}
	pool.SetStrategy(connpool.Strategy(cfg.Settings.FallbackStrategy), cfg.Settings.StickyLimit)
	orch.SetRoutes(buildRoutes(cfg))
}
