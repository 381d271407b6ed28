package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/emit"
	"github.com/dshills/opsflow/workflow/pack"
	"github.com/dshills/opsflow/workflow/store"
)

// app is one command invocation's wiring.
type app struct {
	cfg      Config
	logger   *zap.Logger
	catalog  *pack.Catalog
	store    workflow.Store
	engine   *workflow.Engine
	registry *prometheus.Registry
	metrics  *workflow.PrometheusMetrics
	out      io.Writer
}

func buildCatalog(cfg Config) (*pack.Catalog, error) {
	catalog, err := pack.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("load built-in packs: %w", err)
	}
	if cfg.Packs.Dir == "" {
		return catalog, nil
	}
	extra, err := pack.LoadDir(cfg.Packs.Dir)
	if err != nil {
		return nil, fmt.Errorf("load packs from %s: %w", cfg.Packs.Dir, err)
	}
	return catalog.With(extra...), nil
}

func newEmitter(format string, w io.Writer) emit.Emitter {
	switch format {
	case "json":
		return emit.NewLogEmitter(w, true)
	case "none":
		return emit.NewNullEmitter()
	default:
		return emit.NewLogEmitter(w, false)
	}
}

func newApp(cfg Config, out, events io.Writer) (*app, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewPrometheusMetrics(registry)

	opts := append(cfg.engineOptions(),
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics))
	engine, err := workflow.New(st, catalog, newEmitter(cfg.Emit.Format, events), opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	logger.Debug("engine ready",
		zap.String("driver", cfg.Store.Driver),
		zap.Strings("packs", catalog.Keys()))
	return &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		store:    st,
		engine:   engine,
		registry: registry,
		metrics:  metrics,
		out:      out,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) org() (string, error) {
	if a.cfg.Org == "" {
		return "", errors.New("--org (or OPSFLOW_ORG) is required")
	}
	return a.cfg.Org, nil
}

func (a *app) actor() (string, error) {
	if a.cfg.Actor == "" {
		return "", errors.New("--actor (or OPSFLOW_ACTOR) is required")
	}
	return a.cfg.Actor, nil
}

// runner builds the app for one command and tears it down afterwards.
type runner struct {
	v          *viper.Viper
	configFile string
}

func (r *runner) run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(r.v, r.configFile)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, args)
	}
}
