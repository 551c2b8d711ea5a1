package main

import (
  "context"
  "fmt"
  "strings"
  "time"

  "github.com/jackc/pgx/v5/pgxpool"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/prometheus/client_golang/prometheus/collectors"
  "go.uber.org/zap"

  "lightning-autofee/internal/autofee"
  "lightning-autofee/internal/automation"
  "lightning-autofee/internal/chanstats"
  "lightning-autofee/internal/config"
  "lightning-autofee/internal/feetool"
  "lightning-autofee/internal/lndclient"
  "lightning-autofee/internal/logging"
  "lightning-autofee/internal/notify"
)

// app is everything one process needs, wired from the config file.
type app struct {
  cfg *config.Config
  logger *zap.Logger
  reader chanstats.Reader
  audit autofee.AuditLog
  exclusions *autofee.Exclusions
  engine *autofee.Engine
  service *autofee.Service
  registry *prometheus.Registry
  closers []func()
}

func (a *app) Close() {
  for i := len(a.closers) - 1; i >= 0; i-- {
    a.closers[i]()
  }
}

// buildApp fails on anything a cycle could never recover from: bad config,
// an unreachable store or a metrics table with the wrong shape.
func buildApp(ctx context.Context, path string) (*app, error) {
  cfg, err := config.Load(path)
  if err != nil {
    return nil, fmt.Errorf("config load failed: %w", err)
  }
  logger, err := logging.New(cfg.Log)
  if err != nil {
    return nil, err
  }
  a := &app{cfg: cfg, logger: logger}
  a.closers = append(a.closers, func() { _ = logger.Sync() })

  if err := a.openStore(ctx); err != nil {
    a.Close()
    return nil, err
  }

  a.exclusions = autofee.NewExclusions(cfg.Exclusion.Path, logger.Named("exclusions"))

  lnd := lndclient.New(cfg.LND, logging.Std(logger, "lnd"))
  tool, err := feetool.New(cfg.FeeTool, lnd, logging.Std(logger, "feetool"))
  if err != nil {
    a.Close()
    return nil, err
  }

  a.registry = prometheus.NewRegistry()
  a.registry.MustRegister(
    collectors.NewGoCollector(),
    collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
  )

  a.engine = autofee.NewEngine(cfg.Autofee, autofee.EngineDeps{
    Reader: a.reader,
    Exclusions: a.exclusions,
    Audit: a.audit,
    Tool: tool,
    Notifier: notify.FromConfig(cfg.Telegram, logger),
    NodeAlias: nodeAlias(ctx, cfg, lnd, logger),
    Logger: logger.Named("autofee"),
    Metrics: autofee.NewMetrics(a.registry),
  })
  if err := a.engine.Verify(ctx); err != nil {
    a.Close()
    return nil, err
  }

  // only the gRPC tool depends on the node being synced
  var syncer autofee.SyncChecker
  if cfg.FeeTool.Kind == "lnd" {
    syncer = lnd
  }
  a.service = autofee.NewService(a.engine, automation.NewToken(), a.audit, syncer, cfg.Autofee, logging.Std(logger, "scheduler"))
  return a, nil
}

func (a *app) openStore(ctx context.Context) error {
  dsn, err := a.cfg.ResolveStoreDSN()
  if err != nil {
    return err
  }
  period := a.cfg.MetricsStore.PeriodDays

  switch a.cfg.MetricsStore.Driver {
  case "postgres":
    connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    pool, err := pgxpool.New(connectCtx, dsn)
    if err != nil {
      return fmt.Errorf("failed to connect to postgres: %w", err)
    }
    a.closers = append(a.closers, pool.Close)
    a.reader = chanstats.NewPGStore(pool, period)
    a.audit = autofee.NewPGAudit(pool)
  case "sqlite":
    db, err := chanstats.OpenSQLite(dsn)
    if err != nil {
      return err
    }
    a.closers = append(a.closers, func() { _ = db.Close() })
    a.reader = chanstats.NewSQLiteStore(db, period)
    a.audit = autofee.NewSQLiteAudit(db)
  default:
    return fmt.Errorf("metrics_store.driver %q not supported", a.cfg.MetricsStore.Driver)
  }

  schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
  defer cancel()
  if err := a.audit.EnsureSchema(schemaCtx); err != nil {
    return fmt.Errorf("failed to init audit schema: %w", err)
  }
  return nil
}

// nodeAlias asks the node first and falls back to the configured name.
func nodeAlias(ctx context.Context, cfg *config.Config, lnd *lndclient.Client, logger *zap.Logger) string {
  aliasCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
  defer cancel()
  alias, err := lnd.Alias(aliasCtx)
  if err == nil && strings.TrimSpace(alias) != "" {
    return alias
  }
  if configured := strings.TrimSpace(cfg.NodeAlias); configured != "" {
    return configured
  }
  logger.Warn("node alias unavailable", zap.Error(err))
  return "lightning node"
}
