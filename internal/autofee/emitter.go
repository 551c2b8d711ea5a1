package autofee

import (
  "context"
  "fmt"
  "time"

  "go.uber.org/zap"

  "lightning-autofee/internal/chanstats"
  "lightning-autofee/internal/config"
)

// FeeTool pushes fee commands to the node. Implementations identify the
// channel by the remote peer's pubkey.
type FeeTool interface {
  SetOutboundFee(ctx context.Context, pubkey string, ppm int64) error
  SetInboundDiscount(ctx context.Context, pubkey string, ppm int64) error
}

type Notifier interface {
  Notify(ctx context.Context, text string) error
}

// Change is a fee update the guard let through.
type Change struct {
  RunID string
  Channel chanstats.Channel
  Tag Tag
  Rule string
  NewPpm int64
}

// Emitter turns an admitted change into fee tool calls, a notification and
// an audit record.
type Emitter struct {
  tool FeeTool
  notifier Notifier
  audit AuditLog
  inbound config.InboundDiscount
  nodeAlias string
  logger *zap.Logger
  metrics *Metrics
}

func NewEmitter(tool FeeTool, notifier Notifier, audit AuditLog, inbound config.InboundDiscount, nodeAlias string, logger *zap.Logger, metrics *Metrics) *Emitter {
  if logger == nil {
    logger = zap.NewNop()
  }
  return &Emitter{
    tool: tool,
    notifier: notifier,
    audit: audit,
    inbound: inbound,
    nodeAlias: nodeAlias,
    logger: logger,
    metrics: metrics,
  }
}

// Apply sets the outbound fee and, for sink and router channels, the inbound
// discount. The returned discount is nil when none was pushed. A failed
// outbound call leaves no audit record, so the next cycle sees the channel
// as untouched.
func (e *Emitter) Apply(ctx context.Context, c Change, now time.Time) (*int64, error) {
  ch := c.Channel
  old := ch.Fee()

  err := e.tool.SetOutboundFee(ctx, ch.Pubkey, c.NewPpm)
  e.metrics.command("set_outbound_fee", err)
  if err != nil {
    callErr := &ExternalCallError{Op: "set outbound fee", Peer: ch.Pubkey, Err: err}
    e.logger.Warn("fee command failed",
      zap.String("chan_id", ch.ChanID),
      zap.String("alias", ch.Alias),
      zap.Int64("old_ppm", old),
      zap.Int64("new_ppm", c.NewPpm),
      zap.Error(err),
    )
    return nil, callErr
  }

  var discount *int64
  if value, ok := InboundDiscount(e.inbound, c.Tag, c.NewPpm, ch); ok {
    err := e.tool.SetInboundDiscount(ctx, ch.Pubkey, value)
    e.metrics.command("set_inbound_discount", err)
    if err != nil {
      e.logger.Warn("inbound discount failed",
        zap.String("chan_id", ch.ChanID),
        zap.String("alias", ch.Alias),
        zap.Int64("discount_ppm", value),
        zap.Error(err),
      )
    } else {
      discount = &value
    }
  }

  if e.notifier != nil {
    text := FormatFeeNotification(e.nodeAlias, ch.Label(), old, c.NewPpm)
    if err := e.notifier.Notify(ctx, text); err != nil {
      e.logger.Warn("fee notification failed", zap.String("chan_id", ch.ChanID), zap.Error(err))
    }
  }

  if e.audit != nil {
    rec := ChangeRecord{
      At: now,
      RunID: c.RunID,
      ChanID: ch.ChanID,
      Pubkey: ch.Pubkey,
      Alias: ch.Alias,
      Tag: c.Tag,
      Rule: c.Rule,
      OldPpm: old,
      NewPpm: c.NewPpm,
      InboundDiscount: discount,
    }
    if err := e.audit.RecordChange(ctx, rec); err != nil {
      e.logger.Error("audit record failed", zap.String("chan_id", ch.ChanID), zap.Error(err))
    }
  }
  return discount, nil
}

// InboundDiscount is the discount to push along with a new outbound fee.
// ok is false when no inbound command should be sent at all.
func InboundDiscount(cfg config.InboundDiscount, tag Tag, newPpm int64, ch chanstats.Channel) (int64, bool) {
  if !cfg.Enabled {
    return 0, false
  }
  var fraction float64
  switch tag {
  case TagSink:
    fraction = cfg.SinkFraction
  case TagRouter:
    fraction = cfg.RouterFraction
  default:
    return 0, false
  }
  margin := newPpm - maxInt64(ch.RebalRate, ch.CostPpm)
  if margin <= 0 {
    return 0, true
  }
  return int64(float64(margin) * fraction), true
}

func FormatFeeNotification(nodeAlias, alias string, oldPpm, newPpm int64) string {
  variation := "new"
  if oldPpm != 0 {
    variation = fmt.Sprintf("%.2f%%", deltaPct(oldPpm, newPpm))
  }
  return fmt.Sprintf("Node: %s\nFee for channel %s updated: %d ppm ➡️ %d ppm | %s", nodeAlias, alias, oldPpm, newPpm, variation)
}
