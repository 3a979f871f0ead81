// Package app wires config, logging, storage and the engine for the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"khatma/internal/config"
	"khatma/internal/engine"
	"khatma/internal/logging"
	"khatma/internal/store"
)

// Overrides replace config file values when non-empty. They carry flag and
// environment settings.
type Overrides struct {
	Locale      string
	Policy      string
	Driver      string
	StoragePath string
	Addr        string
	BasePath    string
	LogLevel    string
	LogFormat   string
}

func (o Overrides) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Locale, o.Locale)
	set(&cfg.Policy, o.Policy)
	set(&cfg.Storage.Driver, o.Driver)
	set(&cfg.Storage.Path, o.StoragePath)
	set(&cfg.Server.Addr, o.Addr)
	set(&cfg.Server.BasePath, o.BasePath)
	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Format, o.LogFormat)
}

// App is a ready-to-use engine with the resources behind it.
type App struct {
	Workspace string
	Config    *config.Config
	Log       logging.Logger
	Store     store.Store
	Engine    engine.Engine
}

// ResolveConfig loads khatma.yml from workspace when present, falls back to
// the defaults, then applies overrides and validates the result.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Open resolves config and opens the store. Logs go to logOut, or stderr
// when nil. Callers must Close the App.
func Open(ctx context.Context, workspace string, o Overrides, logOut io.Writer) (*App, error) {
	cfg, err := ResolveConfig(workspace, o)
	if err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	log, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, cfg, workspace)
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, "store opened", "driver", cfg.Storage.Driver, "path", cfg.StoragePath(workspace))
	return &App{
		Workspace: workspace,
		Config:    cfg,
		Log:       log,
		Store:     s,
		Engine:    engine.New(s, cfg, log),
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
