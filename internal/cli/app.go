package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artificer-ai/artificer/internal/config"
	"github.com/artificer-ai/artificer/internal/logger"
	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/builtins"
	"github.com/artificer-ai/artificer/pkg/engine"
	"github.com/artificer-ai/artificer/pkg/orchestrator"
	"github.com/artificer-ai/artificer/pkg/provider"
	"github.com/artificer-ai/artificer/pkg/registry"
	"github.com/artificer-ai/artificer/pkg/security"
	"github.com/artificer-ai/artificer/pkg/session"
	"github.com/artificer-ai/artificer/pkg/toolstore"
)

// App holds the assembled core: every component wired and ready.
type App struct {
	Config       *config.Config
	Store        *toolstore.Store
	Security     *security.Manager
	Registry     *registry.Registry
	Engine       *engine.Engine
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Cleanup      *session.Cleanup

	log     *logger.Logger
	watcher *config.Watcher
	metrics *http.Server
}

// newApp loads configuration and wires the full component graph.
// requireCredentials is false for commands that only touch local state
// (tool and session management).
func newApp(requireCredentials bool) (*App, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if requireCredentials {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logCfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	lg, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	if err := tracing.InitOpenTelemetry("artificer"); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	if err := observability.InitAuditLogger(cfg.Observability.AuditFile); err != nil {
		log.Warn().Err(err).Str("file", cfg.Observability.AuditFile).Msg("Audit trail disabled")
	}

	app := &App{Config: cfg, log: lg}

	app.Store, err = toolstore.Open(cfg.Store.Path)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Security, err = security.NewManager(cfg.Security)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Registry = registry.New(app.Store)
	if err := builtins.RegisterAll(app.Registry, builtins.Deps{
		Store:    app.Store,
		Security: app.Security,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}); err != nil {
		app.Close()
		return nil, err
	}

	app.Engine = engine.New(app.Registry, app.Security, engine.Options{
		BuiltinTimeout: time.Duration(cfg.Engine.BuiltinTimeoutSeconds) * time.Second,
		DynamicTimeout: time.Duration(cfg.Engine.DynamicTimeoutSeconds) * time.Second,
		MaxOutputBytes: cfg.Engine.MaxOutputBytes,
	})

	app.Sessions, err = session.NewManager(cfg.Sessions.Dir)
	if err != nil {
		app.Close()
		return nil, err
	}

	if requireCredentials {
		app.Orchestrator, err = orchestrator.New(
			app.Engine, app.Registry, app.Sessions, app.Security, &provider.Factory{},
			orchestrator.Config{
				Model:        cfg.Model.Default,
				SystemPrompt: cfg.Model.SystemPrompt,
				Temperature:  cfg.Model.Temperature,
				MaxTokens:    cfg.Model.MaxTokens,
				MaxSteps:     cfg.Model.MaxSteps,
				AuthProfiles: cfg.AI.Profiles,
			})
		if err != nil {
			app.Close()
			return nil, err
		}

		retention := time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour
		app.Cleanup = session.NewCleanup(app.Sessions, retention)
		if cfg.Sessions.MaxTurns > 0 {
			app.Cleanup.SetMaxTurns(cfg.Sessions.MaxTurns)
		}
		if err := app.Cleanup.Start(); err != nil {
			log.Warn().Err(err).Msg("Session cleanup disabled")
			app.Cleanup = nil
		}

		// Security policy edits apply without a restart.
		app.watcher, err = config.NewWatcher(loader, app.Security, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("Policy hot-reload disabled")
		}

		if addr := cfg.Observability.MetricsAddr; addr != "" {
			app.metrics = &http.Server{Addr: addr, Handler: observability.MetricsHandler()}
			go func() {
				if err := app.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
				}
			}()
		}
	}

	return app, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *App) Close() {
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.Cleanup != nil {
		a.Cleanup.Stop()
	}
	if a.Store != nil {
		a.Store.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		log.Debug().Err(err).Msg("Tracing shutdown failed")
	}

	if a.log != nil {
		a.log.Close()
	}
}
