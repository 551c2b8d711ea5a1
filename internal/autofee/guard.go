package autofee

import (
  "context"
  "math"
  "time"

  "lightning-autofee/internal/chanstats"
)

type SkipReason string

const (
  SkipExcluded SkipReason = "excluded"
  SkipMissingData SkipReason = "missing_data"
  SkipCooldown SkipReason = "cooldown"
  SkipBelowDelta SkipReason = "below_delta"
  SkipUnknownTag SkipReason = "unknown_tag"
)

// LastChanger reports when the fee of a channel was last changed by us.
type LastChanger interface {
  LastChange(ctx context.Context, chanID string) (time.Time, bool, error)
}

// Guard decides whether a proposed fee may be pushed. Gates run in order:
// exclusion, required data, cool-down, minimum relative change.
type Guard struct {
  exclusions Excluder
  changes LastChanger
  cooldown time.Duration
  minDeltaPct float64
}

func NewGuard(exclusions Excluder, changes LastChanger, cooldown time.Duration, minDeltaPct float64) *Guard {
  return &Guard{
    exclusions: exclusions,
    changes: changes,
    cooldown: cooldown,
    minDeltaPct: minDeltaPct,
  }
}

// Admit runs the gates that do not depend on the proposal. A non-nil error
// means the change log could not be read.
func (g *Guard) Admit(ctx context.Context, ch chanstats.Channel, tag Tag, now time.Time) (SkipReason, error) {
  if g.exclusions != nil && ch.Pubkey != "" && g.exclusions.Contains(ch.Pubkey) {
    return SkipExcluded, nil
  }
  if missing := missingFields(ch); len(missing) > 0 {
    return SkipMissingData, nil
  }
  if !tag.Valid() {
    return SkipUnknownTag, nil
  }
  if g.changes != nil && g.cooldown > 0 {
    last, ok, err := g.changes.LastChange(ctx, ch.ChanID)
    if err != nil {
      return "", err
    }
    if ok && now.Sub(last) < g.cooldown {
      return SkipCooldown, nil
    }
  }
  return "", nil
}

// Significant is the last gate: the relative change must exceed the
// configured minimum.
func (g *Guard) Significant(current, proposed int64) bool {
  return exceedsMinDelta(float64(current), float64(proposed), g.minDeltaPct)
}

// ShouldApply runs every gate.
func (g *Guard) ShouldApply(ctx context.Context, ch chanstats.Channel, tag Tag, proposed int64, now time.Time) (bool, SkipReason, error) {
  reason, err := g.Admit(ctx, ch, tag, now)
  if err != nil || reason != "" {
    return false, reason, err
  }
  if !g.Significant(ch.Fee(), proposed) {
    return false, SkipBelowDelta, nil
  }
  return true, "", nil
}

func exceedsMinDelta(current, proposed, minPct float64) bool {
  if proposed == current {
    return false
  }
  if current == 0 {
    return true
  }
  return math.Abs(proposed-current)/current*100 > minPct
}

func missingFields(ch chanstats.Channel) []string {
  missing := append([]string{}, ch.Missing...)
  if ch.ChanID == "" && !containsString(missing, "chan_id") {
    missing = append(missing, "chan_id")
  }
  if ch.Pubkey == "" && !containsString(missing, "pubkey") {
    missing = append(missing, "pubkey")
  }
  if ch.Alias == "" && !containsString(missing, "alias") {
    missing = append(missing, "alias")
  }
  if ch.LocalFeeRate == nil && !containsString(missing, "local_fee_rate") {
    missing = append(missing, "local_fee_rate")
  }
  return missing
}

func containsString(items []string, want string) bool {
  for _, item := range items {
    if item == want {
      return true
    }
  }
  return false
}
