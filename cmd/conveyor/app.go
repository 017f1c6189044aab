package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/store"
)

// app is the wiring shared by every subcommand.
type app struct {
	settings settings
	config   conveyor.Config
	logger   *slog.Logger
	store    store.Store
	cleanup  func()
	eng      *engine.Engine
}

// newApp loads configuration and connects the store.
func newApp(ctx context.Context) (*app, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	logger := newLogger(s, os.Stderr)
	slog.SetDefault(logger)

	cfg, err := conveyor.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	st, cleanup, err := openStore(ctx, s, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store connected", "backend", s.StoreBackend)

	return &app{
		settings: s,
		config:   cfg,
		logger:   logger,
		store:    st,
		cleanup:  cleanup,
	}, nil
}

// build creates the engine over the connected store.
func (a *app) build(opts ...engine.Option) (*engine.Engine, error) {
	c, err := conveyor.New(
		conveyor.WithStore(a.store),
		conveyor.WithConfig(a.config),
		conveyor.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	eng, err := engine.Build(c, opts...)
	if err != nil {
		return nil, err
	}
	a.eng = eng
	return eng, nil
}

// close stops the engine, which closes the store, then releases the
// backend connection.
func (a *app) close(ctx context.Context) {
	if a.eng != nil {
		if err := a.eng.Stop(ctx); err != nil {
			a.logger.Error("engine stop", "error", err)
		}
	} else if err := a.store.Close(); err != nil {
		a.logger.Error("store close", "error", err)
	}
	a.cleanup()
}
