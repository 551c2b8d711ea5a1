package autofee

import (
  "context"
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
  "go.uber.org/zap"

  "lightning-autofee/internal/chanstats"
  "lightning-autofee/internal/config"
)

// ExclusionSource is the exclusion registry as the engine sees it: reloaded
// at the top of every cycle.
type ExclusionSource interface {
  Excluder
  Refresh() error
}

type EngineDeps struct {
  Reader chanstats.Reader
  Exclusions ExclusionSource
  Audit AuditLog
  Tool FeeTool
  Notifier Notifier
  NodeAlias string
  Logger *zap.Logger
  Metrics *Metrics
}

// Report is what one cycle did.
type Report struct {
  RunID string
  Reason string
  DryRun bool
  At time.Time
  Summary LogItem
  Entries []LogEntry
}

// Engine runs one sweep over every open channel: classify, propose, guard,
// emit.
type Engine struct {
  cfg config.Autofee
  reader chanstats.Reader
  exclusions ExclusionSource
  audit AuditLog
  classifier Classifier
  policy *Policy
  guard *Guard
  emitter *Emitter
  logger *zap.Logger
  metrics *Metrics

  now func() time.Time
  newRunID func() string
}

func NewEngine(cfg config.Autofee, deps EngineDeps) *Engine {
  logger := deps.Logger
  if logger == nil {
    logger = zap.NewNop()
  }
  var excluder Excluder
  if deps.Exclusions != nil {
    excluder = deps.Exclusions
  }
  var changes LastChanger
  if deps.Audit != nil {
    changes = deps.Audit
  }
  return &Engine{
    cfg: cfg,
    reader: deps.Reader,
    exclusions: deps.Exclusions,
    audit: deps.Audit,
    classifier: NewClassifier(cfg),
    policy: NewPolicy(cfg),
    guard: NewGuard(excluder, changes, cfg.Interval(), cfg.MinDeltaPct),
    emitter: NewEmitter(deps.Tool, deps.Notifier, deps.Audit, cfg.InboundDiscount, deps.NodeAlias, logger, deps.Metrics),
    logger: logger,
    metrics: deps.Metrics,
    now: time.Now,
    newRunID: func() string { return uuid.NewString() },
  }
}

// Verify checks the metrics store layout. A failure here is fatal at startup.
func (e *Engine) Verify(ctx context.Context) error {
  if e.reader == nil {
    return &ConfigError{Op: "metrics store", Err: errors.New("not configured")}
  }
  if err := e.reader.Verify(ctx); err != nil {
    return &ConfigError{Op: "verify metrics store", Err: err}
  }
  return nil
}

// Cycle runs one full sweep. Per-channel failures are recorded in the report;
// only configuration problems abort the cycle.
func (e *Engine) Cycle(ctx context.Context, dryRun bool, reason string) (Report, error) {
  started := e.now()
  report := Report{RunID: e.newRunID(), Reason: reason, DryRun: dryRun, At: started}

  if e.exclusions != nil {
    if err := e.exclusions.Refresh(); err != nil {
      e.abort(started, err)
      return report, err
    }
  }
  if e.reader == nil {
    err := &ConfigError{Op: "metrics store", Err: errors.New("not configured")}
    e.abort(started, err)
    return report, err
  }

  channels, err := e.reader.Snapshot(ctx)
  if err != nil {
    var schemaErr *chanstats.SchemaError
    if errors.As(err, &schemaErr) {
      err = &ConfigError{Op: "read metrics store", Err: err}
    } else {
      err = fmt.Errorf("read metrics store: %w", err)
    }
    e.abort(started, err)
    return report, err
  }
  e.metrics.snapshot(len(channels))

  summary := runSummary{}
  decisions := make([]*decision, 0, len(channels))
  for _, ch := range channels {
    d := e.evaluate(ctx, report.RunID, ch, started, dryRun)
    summary.add(d)
    decisions = append(decisions, d)
    e.metrics.decision(d.Tag, d.category())
  }

  report.Entries = buildRunEntries(report.RunID, reason, dryRun, started, summary, decisions)
  if len(report.Entries) > 1 && report.Entries[1].Payload != nil {
    report.Summary = *report.Entries[1].Payload
  }
  if e.audit != nil {
    if err := e.audit.AppendRunLog(ctx, report.RunID, started, report.Entries); err != nil {
      e.logger.Error("run log insert failed", zap.String("run_id", report.RunID), zap.Error(err))
    }
  }

  finished := e.now()
  e.metrics.cycle("ok", finished.Sub(started).Seconds(), float64(finished.Unix()))
  e.logger.Info("autofee cycle done",
    zap.String("run_id", report.RunID),
    zap.String("reason", reason),
    zap.Bool("dry_run", dryRun),
    zap.Int("channels", summary.total),
    zap.Int("up", summary.up),
    zap.Int("down", summary.down),
    zap.Int("errors", summary.errors),
  )
  return report, nil
}

func (e *Engine) abort(started time.Time, err error) {
  finished := e.now()
  e.metrics.cycle("aborted", finished.Sub(started).Seconds(), float64(finished.Unix()))
  e.logger.Error("autofee cycle aborted", zap.Error(err))
}

func (e *Engine) evaluate(ctx context.Context, runID string, ch chanstats.Channel, now time.Time, dryRun bool) *decision {
  in, out, daysOpen := ch.Volumes()
  tag := e.classifier.Classify(in, out, daysOpen)
  d := &decision{Channel: ch, Tag: tag, Proposal: Proposal{Fee: ch.Fee()}}

  skip, err := e.guard.Admit(ctx, ch, tag, now)
  if err != nil {
    d.Err = fmt.Errorf("read change log: %w", err)
    e.logger.Error("change log lookup failed", zap.String("chan_id", ch.ChanID), zap.Error(err))
    return d
  }
  if skip != "" {
    d.Skip = skip
    e.logSkip(d, missingFields(ch))
    return d
  }

  proposal, err := e.policy.Propose(tag, ch, now)
  d.Proposal = proposal
  if err != nil {
    d.Skip = SkipUnknownTag
    e.logSkip(d, nil)
    return d
  }

  if !e.guard.Significant(ch.Fee(), proposal.Fee) {
    d.Skip = SkipBelowDelta
    e.logSkip(d, nil)
    return d
  }

  d.Apply = true
  if dryRun {
    if value, ok := InboundDiscount(e.cfg.InboundDiscount, tag, proposal.Fee, ch); ok {
      d.InboundDiscount = &value
    }
    return d
  }

  discount, err := e.emitter.Apply(ctx, Change{
    RunID: runID,
    Channel: ch,
    Tag: tag,
    Rule: proposal.Rule,
    NewPpm: proposal.Fee,
  }, now)
  if err != nil {
    d.Err = err
    return d
  }
  d.InboundDiscount = discount
  e.logger.Info("fee updated",
    zap.String("chan_id", ch.ChanID),
    zap.String("alias", ch.Alias),
    zap.String("tag", tag.String()),
    zap.String("rule", proposal.Rule),
    zap.Int64("old_ppm", ch.Fee()),
    zap.Int64("new_ppm", proposal.Fee),
  )
  return d
}

func (e *Engine) logSkip(d *decision, missing []string) {
  fields := []zap.Field{
    zap.String("chan_id", d.Channel.ChanID),
    zap.String("alias", d.Channel.Alias),
    zap.String("tag", d.Tag.String()),
    zap.String("reason", string(d.Skip)),
  }
  switch d.Skip {
  case SkipMissingData:
    dataErr := &DataError{ChanID: d.Channel.ChanID, Fields: missing}
    e.logger.Warn("channel skipped", append(fields, zap.Error(dataErr))...)
  case SkipBelowDelta:
    e.logger.Debug("channel skipped", append(fields,
      zap.Int64("old_ppm", d.Channel.Fee()),
      zap.Int64("new_ppm", d.Proposal.Fee),
    )...)
  default:
    e.logger.Info("channel skipped", fields...)
  }
}
