package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lucasnoah/campaignflow/internal/checks"
	"github.com/lucasnoah/campaignflow/internal/config"
	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/continuity"
	"github.com/lucasnoah/campaignflow/internal/db"
	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/logging"
	"github.com/lucasnoah/campaignflow/internal/metrics"
	"github.com/lucasnoah/campaignflow/internal/orchestrator"
	"github.com/lucasnoah/campaignflow/internal/schema"
	"github.com/lucasnoah/campaignflow/internal/web"
)

// storage is an opened backend. events and history are nil for backends
// without an event table.
type storage struct {
	gw      gateway.Gateway
	events  orchestrator.EventLog
	history web.History
	close   func() error
}

// sqlStore is what both SQL backends offer beyond the gateway.
type sqlStore interface {
	gateway.Gateway
	orchestrator.EventLog
	web.History
}

func fromSQL(s sqlStore, closeFn func() error) *storage {
	return &storage{gw: s, events: s, history: s, close: closeFn}
}

// openStorage opens the configured backend and applies migrations.
func openStorage(ctx context.Context, cfg config.Storage) (*storage, error) {
	switch cfg.Backend {
	case "memory":
		return &storage{gw: gateway.NewMemoryGateway(), close: func() error { return nil }}, nil
	case "file", "":
		var (
			fg  *gateway.FileGateway
			err error
		)
		if cfg.Dir != "" {
			fg = gateway.NewFileGateway(cfg.Dir)
		} else if fg, err = gateway.DefaultFileGateway(); err != nil {
			return nil, err
		}
		return &storage{gw: fg, close: func() error { return nil }}, nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			var err error
			if path, err = db.DefaultDBPath(); err != nil {
				return nil, fmt.Errorf("db path: %w", err)
			}
		}
		d, err := db.Open(path)
		if err != nil {
			return nil, err
		}
		if err := d.Migrate(); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return fromSQL(d, d.Close), nil
	case "postgres":
		pg, err := db.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return fromSQL(pg, pg.Close), nil
	}
	return nil, fmt.Errorf("unrecognized storage backend %q", cfg.Backend)
}

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg      *config.Config
	store    *storage
	orch     *orchestrator.Orchestrator
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	logger   *zap.Logger
}

func (a *app) Close() {
	if err := a.store.close(); err != nil {
		a.logger.Warn("close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// newApp loads and validates configuration, opens storage and wires the
// orchestrator. Logs go to the command's stderr.
func newApp(ctx context.Context, errOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}

	logger, err := logging.New(cfg.LoggingConfig(), errOut)
	if err != nil {
		return nil, err
	}
	registry, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orch := orchestrator.NewOrchestrator(store.gw, registry,
		appctx.NewBuilder(cfg.BuilderOptions()),
		checks.New(registry, cfg.CheckerOptions()),
		continuity.New(cfg.Thresholds()),
		orchestrator.Options{
			Events:  store.events,
			Metrics: m,
			Logger:  logger,
		},
	)
	return &app{cfg: cfg, store: store, orch: orch, metrics: m, registry: reg, logger: logger}, nil
}
