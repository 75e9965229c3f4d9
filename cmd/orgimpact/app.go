package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/orgimpact/internal/engine"
	"github.com/rendis/orgimpact/internal/logging"
	"github.com/rendis/orgimpact/internal/roles"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/internal/validation"
)

// app is the set of long-lived components shared by serve and mcp.
type app struct {
	cfg      Config
	level    *slog.LevelVar
	logger   *slog.Logger
	store    *store.LibSQLStore
	hub      *streaming.MemoryHub
	executor *engine.Executor
}

func newLogger(w io.Writer, cfg Config) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	return logging.New(w, level, cfg.LogFormat), level, nil
}

// openStore opens and migrates the database at cfg.DBPath.
func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func loadCatalog(path string) (*roles.Catalog, error) {
	if path == "" {
		return roles.BuiltinCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open role catalog: %w", err)
	}
	defer f.Close()
	return roles.LoadCatalog(f)
}

// newApp wires store, hub and executor. Logs go to logOut.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger, level, err := newLogger(logOut, cfg)
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	validator, err := validation.NewReportValidator()
	if err != nil {
		s.Close()
		return nil, err
	}
	gen, err := engine.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorTimeout.D())
	if err != nil {
		s.Close()
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	exec, err := engine.NewExecutor(engine.Deps{
		Store:     s,
		Generator: gen,
		Validator: validator,
		Enricher:  roles.NewEnricher(s, catalog, logger),
		Hub:       hub,
		Logger:    logger,
	}, engine.Config{
		PoolSize:       cfg.PoolSize,
		RunTimeout:     cfg.RunTimeout.D(),
		Retry:          cfg.retryPolicy(),
		CircuitBreaker: cfg.breakerConfig(),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("orgimpact ready",
		"db", cfg.DBPath,
		"generator", gen.Name(),
		"pool_size", cfg.PoolSize,
		"catalog_roles", catalog.Len(),
	)
	return &app{
		cfg:      cfg,
		level:    level,
		logger:   logger,
		store:    s,
		hub:      hub,
		executor: exec,
	}, nil
}

// close drains the executor, then closes the store.
func (a *app) close(ctx context.Context) {
	a.executor.Shutdown(ctx)
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
