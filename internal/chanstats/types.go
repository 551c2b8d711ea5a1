package chanstats

import (
  "fmt"
  "time"
)

// TimeLayout is how the stats collector writes activity timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Channel is one open channel as the stats collector last saw it.
type Channel struct {
  ChanID string
  Pubkey string
  Alias string
  StoredTag string

  Capacity int64
  OutboundPct float64
  InboundPct float64
  DaysOpen int

  CostPpm int64
  RebalRate int64
  LocalFeeRate *int64

  TotalRoutedOut int64
  TotalRoutedIn int64

  LifetimeRoutedOut *int64
  LifetimeRoutedIn *int64
  LifetimeDaysOpen *int

  LastOutgoing *time.Time
  LastIncoming *time.Time
  LastRebalance *time.Time

  // Missing names required columns that were NULL for this row.
  Missing []string
}

func (c Channel) Label() string {
  if c.Alias != "" {
    return c.Alias
  }
  if c.ChanID != "" {
    return "chan-" + c.ChanID
  }
  return c.Pubkey
}

// Volumes returns the counters the role classifier should look at:
// lifetime figures when the collector keeps them, the window otherwise.
func (c Channel) Volumes() (in int64, out int64, daysOpen int) {
  in, out, daysOpen = c.TotalRoutedIn, c.TotalRoutedOut, c.DaysOpen
  if c.LifetimeRoutedIn != nil && c.LifetimeRoutedOut != nil {
    in, out = *c.LifetimeRoutedIn, *c.LifetimeRoutedOut
    if c.LifetimeDaysOpen != nil {
      daysOpen = *c.LifetimeDaysOpen
    }
  }
  return in, out, daysOpen
}

func (c Channel) Fee() int64 {
  if c.LocalFeeRate == nil {
    return 0
  }
  return *c.LocalFeeRate
}

// SinceRebalance is the time elapsed since the last rebalance; ok is false
// when the channel was never rebalanced.
func (c Channel) SinceRebalance(now time.Time) (time.Duration, bool) {
  return since(c.LastRebalance, now)
}

func (c Channel) SinceOutgoing(now time.Time) (time.Duration, bool) {
  return since(c.LastOutgoing, now)
}

func since(ts *time.Time, now time.Time) (time.Duration, bool) {
  if ts == nil || ts.IsZero() {
    return 0, false
  }
  d := now.Sub(*ts)
  if d < 0 {
    d = 0
  }
  return d, true
}

// TableName returns the per-window table, e.g. opened_channels_7d.
func TableName(periodDays int) string {
  return fmt.Sprintf("opened_channels_%dd", periodDays)
}

const LifetimeTable = "opened_channels_lifetime"
