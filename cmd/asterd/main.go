// Command asterd runs the agent server: the streaming chat surface around
// the aster core, with SQLite session persistence and the built-in sandboxed
// tools.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	aster "github.com/corven/aster"
	"github.com/corven/aster/eventstore"
	"github.com/corven/aster/internal/config"
	"github.com/corven/aster/internal/server"
	"github.com/corven/aster/observer"
	"github.com/corven/aster/provider/anthropic"
	"github.com/corven/aster/session/sqlite"
	filetools "github.com/corven/aster/tools/file"
	shelltools "github.com/corven/aster/tools/shell"
	webtools "github.com/corven/aster/tools/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("asterd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "aster.toml", "path to the TOML config file")
	flag.Parse()

	// A local .env is optional; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	var provider aster.Provider = anthropic.New(anthropic.Config{
		APIKey:              cfg.Provider.APIKey,
		Model:               cfg.Provider.Model,
		MaxTokens:           cfg.Provider.MaxTokens,
		Timeout:             cfg.Provider.Timeout(),
		EnablePromptCaching: cfg.Provider.EnablePromptCaching,
	}, anthropic.WithLogger(logger))
	if inst != nil {
		provider = observer.WrapProvider(provider, cfg.Provider.Model, inst)
	}
	provider = aster.WithRetry(provider,
		aster.RetryMax(cfg.Provider.MaxRetries),
		aster.RetryInitialDelay(cfg.Provider.RetryDelay()),
		aster.RetryLogger(logger),
	)

	if err := os.MkdirAll(cfg.Sandbox.Dir, 0o755); err != nil {
		return err
	}

	registry := aster.NewToolRegistry(
		aster.WithLockProvider(aster.NewKeyLock()),
		aster.WithRegistryLogger(logger),
	)
	if err := filetools.New(cfg.Sandbox.Dir).Register(registry); err != nil {
		return err
	}
	if err := webtools.New().Register(registry); err != nil {
		return err
	}
	if err := shelltools.New(cfg.Sandbox.Dir).Register(registry); err != nil {
		return err
	}
	var tools aster.ToolExecutor = registry
	if inst != nil {
		tools = observer.WrapTools(tools, inst)
	}

	skills := aster.NewSkillRegistry(aster.WithSkillLogger(logger))

	sessions, err := sqlite.New(cfg.Storage.SessionDBPath, sqlite.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sessions.Close()

	events := eventstore.New(eventstore.WithTTL(cfg.Storage.EventStoreTTL()))

	srv := server.New(cfg, provider, tools, skills, sessions, events, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("asterd listening", "addr", cfg.Server.ListenAddr, "model", cfg.Provider.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("asterd shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
