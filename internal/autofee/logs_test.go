package autofee

import (
  "errors"
  "testing"
  "time"

  "github.com/stretchr/testify/assert"

  "lightning-autofee/internal/chanstats"
)

func TestFormatDecisionLine(t *testing.T) {
  base := chanstats.Channel{ChanID: "1", Alias: "alice", LocalFeeRate: feePtr(400), OutboundPct: 12.5}
  discount := int64(30)
  tests := []struct {
    name string
    d decision
    dryRun bool
    want string
  }{
    {
      name: "applied increase",
      d: decision{Channel: base, Tag: TagRouter, Proposal: Proposal{Fee: 450, Rule: "drain", Floor: 300}, Apply: true, InboundDiscount: &discount},
      want: "✅🔺 alice: set 400→450 ppm (+50, 12.5%) | tag router | rule drain | out 12.5% | floor≥300 | ↘️inb-30",
    },
    {
      name: "dry decrease",
      d: decision{Channel: base, Tag: TagSink, Proposal: Proposal{Fee: 300, Rule: "idle"}, Apply: true},
      dryRun: true,
      want: "✅🔻 alice: DRY set 400→300 ppm (-100, 25.0%) | tag sink | rule idle | out 12.5%",
    },
    {
      name: "cooldown",
      d: decision{Channel: base, Tag: TagSink, Proposal: Proposal{Fee: 400}, Skip: SkipCooldown},
      want: "⏭️⏳ alice: keep 400 ppm (cooldown) | tag sink | out 12.5%",
    },
    {
      name: "below delta",
      d: decision{Channel: base, Tag: TagRouter, Proposal: Proposal{Fee: 401, Rule: "cost-floor"}, Skip: SkipBelowDelta},
      want: "⏭️🧊 alice: keep 400 ppm (wanted 401, below delta) | tag router | rule cost-floor | out 12.5%",
    },
    {
      name: "hold",
      d: decision{Channel: base, Tag: TagRouter, Proposal: Proposal{Fee: 400, Rule: "hold"}, Skip: SkipBelowDelta},
      want: "🫤 alice: keep 400 ppm | tag router | rule hold | out 12.5%",
    },
    {
      name: "tool error",
      d: decision{Channel: base, Tag: TagRouter, Proposal: Proposal{Fee: 450, Rule: "drain"}, Apply: true, Err: errors.New("boom")},
      want: "❌ alice: error: boom | tag router | rule drain | out 12.5%",
    },
  }
  for _, tc := range tests {
    tc := tc
    t.Run(tc.name, func(t *testing.T) {
      d := tc.d
      assert.Equal(t, tc.want, formatDecisionLine(&d, tc.dryRun))
    })
  }
}

func TestRunSummaryCounts(t *testing.T) {
  base := chanstats.Channel{LocalFeeRate: feePtr(100)}
  discount := int64(5)
  var s runSummary
  for _, d := range []*decision{
    {Channel: base, Proposal: Proposal{Fee: 200}, Apply: true, InboundDiscount: &discount},
    {Channel: base, Proposal: Proposal{Fee: 50}, Apply: true},
    {Channel: base, Proposal: Proposal{Fee: 100}, Skip: SkipBelowDelta},
    {Channel: base, Proposal: Proposal{Fee: 100}, Skip: SkipExcluded},
    {Channel: base, Proposal: Proposal{Fee: 100}, Skip: SkipCooldown},
    {Channel: base, Proposal: Proposal{Fee: 100}, Skip: SkipMissingData},
    {Channel: base, Proposal: Proposal{Fee: 100}, Skip: SkipUnknownTag},
    {Channel: base, Proposal: Proposal{Fee: 150}, Apply: true, Err: errors.New("x")},
  } {
    s.add(d)
  }
  assert.Equal(t, runSummary{
    total: 8, up: 1, down: 1, kept: 1, excluded: 1, missing: 1,
    cooldown: 1, small: 0, unknown: 1, inboundDisc: 1, errors: 1,
  }, s)
}

func TestBuildRunEntriesSections(t *testing.T) {
  base := chanstats.Channel{Alias: "a", LocalFeeRate: feePtr(100)}
  decisions := []*decision{
    {Channel: base, Tag: TagSink, Proposal: Proposal{Fee: 100}, Skip: SkipExcluded},
    {Channel: base, Tag: TagSink, Proposal: Proposal{Fee: 200}, Apply: true},
  }
  var s runSummary
  for _, d := range decisions {
    s.add(d)
  }
  at := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
  entries := buildRunEntries("r", "scheduled", false, at, s, decisions)

  var kinds []string
  for _, e := range entries {
    kinds = append(kinds, e.Payload.Kind+":"+e.Payload.Category)
  }
  assert.Equal(t, []string{"header:", "summary:", "section:changed", "channel:changed", "section:skipped", "channel:skipped"}, kinds)
  assert.Equal(t, "⚡ Autofee SCHEDULED | 2026-05-20T12:00:00Z", entries[0].Line)
}
