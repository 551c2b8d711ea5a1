package autofee

import (
  "fmt"
  "time"

  "lightning-autofee/internal/chanstats"
  "lightning-autofee/internal/config"
)

// Proposal is the fee a policy wants for a channel and the rule that chose it.
type Proposal struct {
  Fee int64
  Rule string
  Floor int64
}

// Policy maps a tag and the channel's current signals to a candidate fee.
// It never talks to the node and holds no state between calls.
type Policy struct {
  cfg config.Autofee
}

func NewPolicy(cfg config.Autofee) *Policy {
  return &Policy{cfg: cfg}
}

func (p *Policy) Propose(tag Tag, ch chanstats.Channel, now time.Time) (Proposal, error) {
  switch tag {
  case TagNewChannel:
    return p.newChannel(ch), nil
  case TagSink, TagRouter:
    return p.costBased(tag, ch, now), nil
  case TagSource:
    return p.source(ch), nil
  default:
    return Proposal{Fee: ch.Fee(), Rule: "unknown-tag"}, fmt.Errorf("%w: %d", ErrUnknownTag, int(tag))
  }
}

func (p *Policy) newChannel(ch chanstats.Channel) Proposal {
  fee := ch.Fee()
  if ch.DaysOpen < p.cfg.NewChannelMinDays {
    return Proposal{Fee: fee, Rule: "nc-young"}
  }
  up := int64(100 + p.cfg.NewChannelIncreasePct)
  down := int64(100 - p.cfg.NewChannelDecreasePct)
  switch {
  case ch.OutboundPct == 0 && ch.LastIncoming == nil && ch.LastRebalance == nil:
    // capped, but a fee already above the cap is not pulled down here
    raised := maxInt64(fee, minInt64(fee*up/100, int64(p.cfg.MaxFeeThreshold)))
    return Proposal{Fee: raised, Rule: "nc-untouched"}
  case ch.OutboundPct > 45 && ch.OutboundPct < 55 && ch.LastOutgoing == nil:
    return Proposal{Fee: fee * down / 100, Rule: "nc-balanced-idle"}
  case ch.OutboundPct >= 99 && ch.LastOutgoing == nil:
    return Proposal{Fee: fee * down / 100, Rule: "nc-full-idle"}
  }
  return Proposal{Fee: fee, Rule: "nc-hold"}
}

func (p *Policy) costBased(tag Tag, ch chanstats.Channel, now time.Time) Proposal {
  cfg := p.cfg
  cur := ch.Fee()
  maxFee := int64(cfg.MaxFeeThreshold)
  floor := maxInt64(ch.CostPpm, ch.RebalRate)

  ceiling := int64(cfg.RouterCeilingPpm)
  staleDays := cfg.RouterStaleRebalanceDays
  step := int64(cfg.IncreasePpm)
  if tag == TagSink {
    ceiling = int64(cfg.SinkCeilingPpm)
    staleDays = cfg.SinkStaleRebalanceDays
    step = int64(cfg.SinkIncreasePpm)
  }

  // decreases stop at the replenishment cost, even below a ceiling or the cap
  out := func(fee int64, rule string) Proposal {
    if fee < cur {
      fee = maxInt64(fee, minInt64(cur, floor))
    }
    return Proposal{Fee: fee, Rule: rule, Floor: floor}
  }

  sinceRebal, rebalanced := ch.SinceRebalance(now)
  if rebalanced && sinceRebal > days(staleDays) && ch.OutboundPct < cfg.CeilingOutboundPct {
    return out(minInt64(ceiling, maxFee), "ceiling")
  }
  if floor == 0 && rebalanced && sinceRebal <= hours(cfg.RecentRebalanceHours) {
    return out(minInt64(int64(cfg.FreeRebalanceFeePpm), maxFee), "rebal-free")
  }
  if floor > 0 && floor < int64(cfg.LowCostPpm) {
    return out(minInt64(floor*2, maxFee), "low-cost")
  }
  if ch.OutboundPct < cfg.LowOutboundPct {
    if (!rebalanced || sinceRebal >= hours(cfg.RebalanceStaleHours)) && cur < maxFee {
      return out(minInt64(cur+step, maxFee), "drain")
    }
  } else {
    sinceOut, routed := ch.SinceOutgoing(now)
    if !routed || sinceOut >= hours(cfg.OutgoingIdleHours) {
      return out(maxInt64(cur-int64(cfg.DecreasePpm), floor), "idle")
    }
  }
  if marginFloor := floor * int64(100+cfg.FloorMarginPct) / 100; cur < marginFloor {
    return out(minInt64(marginFloor, maxFee), "cost-floor")
  }
  return out(cur, "hold")
}

func (p *Policy) source(ch chanstats.Channel) Proposal {
  if ch.TotalRoutedOut > 0 {
    return Proposal{Fee: int64(p.cfg.SourceFeePpm), Rule: "source-routed"}
  }
  return Proposal{Fee: 0, Rule: "source-idle"}
}

func days(n int) time.Duration {
  return time.Duration(n) * 24 * time.Hour
}

func hours(h float64) time.Duration {
  return time.Duration(h * float64(time.Hour))
}

func maxInt64(a, b int64) int64 {
  if a > b {
    return a
  }
  return b
}

func minInt64(a, b int64) int64 {
  if a < b {
    return a
  }
  return b
}

func absInt64(v int64) int64 {
  if v < 0 {
    return -v
  }
  return v
}
