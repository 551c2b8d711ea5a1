package autofee

import (
  "fmt"
  "math"
  "strings"
  "time"

  "lightning-autofee/internal/chanstats"
)

type LogEntry struct {
  Line string
  Payload *LogItem
}

// LogItem is the structured twin of a run log line.
type LogItem struct {
  Kind string `json:"kind"`
  Category string `json:"category,omitempty"`
  Reason string `json:"reason,omitempty"`
  DryRun bool `json:"dry_run,omitempty"`
  Timestamp string `json:"timestamp,omitempty"`
  RunID string `json:"run_id,omitempty"`

  Total int `json:"total,omitempty"`
  Up int `json:"up,omitempty"`
  Down int `json:"down,omitempty"`
  Kept int `json:"kept,omitempty"`
  Excluded int `json:"excluded,omitempty"`
  Missing int `json:"missing,omitempty"`
  Cooldown int `json:"cooldown,omitempty"`
  Small int `json:"small,omitempty"`
  Unknown int `json:"unknown,omitempty"`
  InboundDisc int `json:"inbound_disc,omitempty"`
  Err int `json:"err,omitempty"`

  Alias string `json:"alias,omitempty"`
  ChanID string `json:"chan_id,omitempty"`
  Pubkey string `json:"pubkey,omitempty"`
  Tag string `json:"tag,omitempty"`
  Rule string `json:"rule,omitempty"`
  LocalPpm int64 `json:"local_ppm,omitempty"`
  NewPpm int64 `json:"new_ppm,omitempty"`
  Floor int64 `json:"floor,omitempty"`
  OutboundPct float64 `json:"outbound_pct,omitempty"`
  InboundDiscount *int64 `json:"inbound_discount,omitempty"`
  SkipReason string `json:"skip_reason,omitempty"`
  Error string `json:"error,omitempty"`
  Delta int64 `json:"delta,omitempty"`
  DeltaPct float64 `json:"delta_pct,omitempty"`
}

// decision is what one cycle concluded for one channel.
type decision struct {
  Channel chanstats.Channel
  Tag Tag
  Proposal Proposal
  Apply bool
  Skip SkipReason
  InboundDiscount *int64
  Err error
}

func (d *decision) LocalPpm() int64 {
  return d.Channel.Fee()
}

func (d *decision) NewPpm() int64 {
  if d.Apply {
    return d.Proposal.Fee
  }
  return d.Channel.Fee()
}

func (d *decision) category() string {
  switch {
  case d.Err != nil:
    return "error"
  case d.Apply:
    return "changed"
  case d.Skip != "" && d.Skip != SkipBelowDelta:
    return "skipped"
  default:
    return "kept"
  }
}

type runSummary struct {
  total int
  up int
  down int
  kept int
  excluded int
  missing int
  cooldown int
  small int
  unknown int
  inboundDisc int
  errors int
}

func (s *runSummary) add(d *decision) {
  s.total++
  if d.Err != nil {
    s.errors++
    return
  }
  if d.InboundDiscount != nil && *d.InboundDiscount > 0 {
    s.inboundDisc++
  }
  if d.Apply {
    if d.Proposal.Fee > d.LocalPpm() {
      s.up++
    } else {
      s.down++
    }
    return
  }
  switch d.Skip {
  case SkipExcluded:
    s.excluded++
  case SkipMissingData:
    s.missing++
  case SkipCooldown:
    s.cooldown++
  case SkipBelowDelta:
    if d.Proposal.Fee != d.LocalPpm() {
      s.small++
    }
    s.kept++
  case SkipUnknownTag:
    s.unknown++
  default:
    s.kept++
  }
}

func deltaPct(oldPpm, newPpm int64) float64 {
  if oldPpm == 0 {
    return 0
  }
  return float64(newPpm-oldPpm) / float64(oldPpm) * 100.0
}

func formatDecisionLine(d *decision, dryRun bool) string {
  alias := d.Channel.Label()
  local := d.LocalPpm()
  proposed := d.Proposal.Fee

  dir := "➡️"
  if proposed > local {
    dir = "🔺"
  } else if proposed < local {
    dir = "🔻"
  }

  action := ""
  prefix := "🫤"
  switch d.category() {
  case "error":
    action = fmt.Sprintf("error: %v", d.Err)
    prefix = "❌"
  case "changed":
    verb := "set"
    if dryRun {
      verb = "DRY set"
    }
    action = fmt.Sprintf("%s %d→%d ppm", verb, local, proposed)
    prefix = "✅" + dir
  case "skipped":
    action = fmt.Sprintf("keep %d ppm (%s)", local, d.Skip)
    switch d.Skip {
    case SkipCooldown:
      prefix = "⏭️⏳"
    case SkipExcluded:
      prefix = "⏭️🚫"
    default:
      prefix = "⏭️"
    }
  default:
    action = fmt.Sprintf("keep %d ppm", local)
    if d.Skip == SkipBelowDelta && proposed != local {
      action = fmt.Sprintf("keep %d ppm (wanted %d, below delta)", local, proposed)
      prefix = "⏭️🧊"
    }
  }

  deltaStr := ""
  if d.category() == "changed" && local > 0 && proposed != local {
    delta := proposed - local
    deltaStr = fmt.Sprintf(" (%+d, %.1f%%)", delta, math.Abs(deltaPct(local, proposed)))
  }

  parts := []string{
    fmt.Sprintf("%s %s: %s%s", prefix, alias, action, deltaStr),
    "tag " + d.Tag.String(),
  }
  if d.Proposal.Rule != "" {
    parts = append(parts, "rule "+d.Proposal.Rule)
  }
  parts = append(parts, fmt.Sprintf("out %.1f%%", d.Channel.OutboundPct))
  if d.Proposal.Floor > 0 {
    parts = append(parts, fmt.Sprintf("floor≥%d", d.Proposal.Floor))
  }
  if d.InboundDiscount != nil {
    parts = append(parts, fmt.Sprintf("↘️inb-%d", *d.InboundDiscount))
  }
  return strings.Join(parts, " | ")
}

func buildChannelLogEntry(d *decision, runID string, dryRun bool) LogEntry {
  local := d.LocalPpm()
  item := &LogItem{
    Kind: "channel",
    Category: d.category(),
    DryRun: dryRun,
    RunID: runID,
    Alias: d.Channel.Alias,
    ChanID: d.Channel.ChanID,
    Pubkey: d.Channel.Pubkey,
    Tag: d.Tag.String(),
    Rule: d.Proposal.Rule,
    LocalPpm: local,
    NewPpm: d.Proposal.Fee,
    Floor: d.Proposal.Floor,
    OutboundPct: d.Channel.OutboundPct,
    InboundDiscount: d.InboundDiscount,
    SkipReason: string(d.Skip),
    Delta: d.Proposal.Fee - local,
    DeltaPct: deltaPct(local, d.Proposal.Fee),
  }
  if d.Err != nil {
    item.Error = d.Err.Error()
  }
  return LogEntry{Line: formatDecisionLine(d, dryRun), Payload: item}
}

func buildRunEntries(runID string, reason string, dryRun bool, at time.Time, summary runSummary, decisions []*decision) []LogEntry {
  header := fmt.Sprintf("⚡ Autofee %s | %s", strings.ToUpper(reason), at.UTC().Format(time.RFC3339))
  if dryRun {
    header += " (dry-run)"
  }
  summaryText := fmt.Sprintf(
    "📊 channels %d | up %d | down %d | flat %d | excluded %d | missing %d | cooldown %d | small %d | unknown %d | inb_disc %d | errors %d",
    summary.total, summary.up, summary.down, summary.kept, summary.excluded, summary.missing,
    summary.cooldown, summary.small, summary.unknown, summary.inboundDisc, summary.errors,
  )

  entries := []LogEntry{
    {Line: header, Payload: &LogItem{Kind: "header", Reason: reason, DryRun: dryRun, RunID: runID, Timestamp: at.UTC().Format(time.RFC3339)}},
    {Line: summaryText, Payload: &LogItem{
      Kind: "summary",
      RunID: runID,
      Total: summary.total,
      Up: summary.up,
      Down: summary.down,
      Kept: summary.kept,
      Excluded: summary.excluded,
      Missing: summary.missing,
      Cooldown: summary.cooldown,
      Small: summary.small,
      Unknown: summary.unknown,
      InboundDisc: summary.inboundDisc,
      Err: summary.errors,
    }},
  }

  sections := []struct {
    category string
    marker string
  }{
    {"changed", "✅"},
    {"kept", "🫤"},
    {"skipped", "⏭️"},
    {"error", "❌"},
  }
  for _, section := range sections {
    var lines []LogEntry
    for _, d := range decisions {
      if d.category() == section.category {
        lines = append(lines, buildChannelLogEntry(d, runID, dryRun))
      }
    }
    if len(lines) == 0 {
      continue
    }
    entries = append(entries, LogEntry{Line: section.marker, Payload: &LogItem{Kind: "section", Category: section.category}})
    entries = append(entries, lines...)
  }
  return entries
}
