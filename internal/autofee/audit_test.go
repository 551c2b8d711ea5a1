package autofee

import (
  "context"
  "encoding/json"
  "path/filepath"
  "testing"
  "time"

  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"

  "lightning-autofee/internal/chanstats"
)

func auditBackends(t *testing.T) map[string]AuditLog {
  t.Helper()
  db, err := chanstats.OpenSQLite(filepath.Join(t.TempDir(), "audit.sqlite3"))
  require.NoError(t, err)
  t.Cleanup(func() { _ = db.Close() })

  sqlite := NewSQLiteAudit(db)
  require.NoError(t, sqlite.EnsureSchema(context.Background()))
  // twice, as on every start
  require.NoError(t, sqlite.EnsureSchema(context.Background()))

  return map[string]AuditLog{
    "memory": NewMemoryAudit(),
    "sqlite": sqlite,
  }
}

func TestAuditLastChange(t *testing.T) {
  for name, audit := range auditBackends(t) {
    audit := audit
    t.Run(name, func(t *testing.T) {
      ctx := context.Background()
      _, ok, err := audit.LastChange(ctx, "100")
      require.NoError(t, err)
      assert.False(t, ok)

      first := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
      second := first.Add(90 * time.Minute)
      discount := int64(25)
      require.NoError(t, audit.RecordChange(ctx, ChangeRecord{At: first, RunID: "r1", ChanID: "100", Tag: TagSink, OldPpm: 100, NewPpm: 200}))
      require.NoError(t, audit.RecordChange(ctx, ChangeRecord{At: second, RunID: "r2", ChanID: "100", Tag: TagSink, OldPpm: 200, NewPpm: 300, InboundDiscount: &discount}))
      require.NoError(t, audit.RecordChange(ctx, ChangeRecord{At: second.Add(time.Hour), RunID: "r3", ChanID: "200", Tag: TagRouter, OldPpm: 10, NewPpm: 20}))

      last, ok, err := audit.LastChange(ctx, "100")
      require.NoError(t, err)
      require.True(t, ok)
      assert.True(t, last.Equal(second), "got %s", last)
    })
  }
}

func TestSQLiteAuditUnreadableChangeTime(t *testing.T) {
  db, err := chanstats.OpenSQLite(filepath.Join(t.TempDir(), "audit.sqlite3"))
  require.NoError(t, err)
  t.Cleanup(func() { _ = db.Close() })
  audit := NewSQLiteAudit(db)
  ctx := context.Background()
  require.NoError(t, audit.EnsureSchema(ctx))

  _, err = db.ExecContext(ctx, `insert into autofee_changes (occurred_at, chan_id) values ('20/05/2026 10:00', '300')`)
  require.NoError(t, err)

  _, ok, err := audit.LastChange(ctx, "300")
  require.Error(t, err)
  assert.False(t, ok)
  assert.Contains(t, err.Error(), "unreadable change time")

  // the guard must not treat it as "never changed"
  g := NewGuard(nil, audit, time.Hour, 0.5)
  ch := guardChannel()
  ch.ChanID = "300"
  _, err = g.Admit(ctx, ch, TagSink, policyNow)
  assert.Error(t, err)
}

func TestAuditRunLog(t *testing.T) {
  for name, audit := range auditBackends(t) {
    audit := audit
    t.Run(name, func(t *testing.T) {
      ctx := context.Background()
      _, ok := audit.LastRun(ctx)
      assert.False(t, ok)

      at := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
      entries := []LogEntry{
        {Line: "⚡ Autofee SCHEDULED", Payload: &LogItem{Kind: "header", Reason: "scheduled"}},
        {Line: "📊 channels 1", Payload: &LogItem{Kind: "summary", Total: 1}},
        {Line: "✅"},
      }
      require.NoError(t, audit.AppendRunLog(ctx, "run-1", at, entries))
      require.NoError(t, audit.AppendRunLog(ctx, "run-0", at.Add(-time.Hour), entries[:1]))

      last, ok := audit.LastRun(ctx)
      require.True(t, ok)
      assert.True(t, last.Equal(at))

      lines, err := audit.RecentLines(ctx, 3)
      require.NoError(t, err)
      require.Len(t, lines, 3)
      assert.Equal(t, "run-1", lines[0].RunID)
      assert.Equal(t, 0, lines[0].Seq)
      assert.Equal(t, "⚡ Autofee SCHEDULED", lines[0].Line)
      assert.Nil(t, lines[2].Payload)

      var item LogItem
      require.NoError(t, json.Unmarshal(lines[1].Payload, &item))
      assert.Equal(t, "summary", item.Kind)
      assert.Equal(t, 1, item.Total)
    })
  }
}

func TestClampLimit(t *testing.T) {
  assert.Equal(t, 200, clampLimit(0))
  assert.Equal(t, 50, clampLimit(50))
  assert.Equal(t, 1000, clampLimit(5000))
}
