package autofee

import (
  "context"
  "database/sql"
  "errors"
  "fmt"
  "time"
)

const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// SQLiteAudit keeps the audit tables next to the LNDg metrics tables.
type SQLiteAudit struct {
  db *sql.DB
}

func NewSQLiteAudit(db *sql.DB) *SQLiteAudit {
  return &SQLiteAudit{db: db}
}

func (a *SQLiteAudit) EnsureSchema(ctx context.Context) error {
  if a.db == nil {
    return errors.New("db not configured")
  }
  _, err := a.db.ExecContext(ctx, `
create table if not exists autofee_changes (
  id integer primary key autoincrement,
  occurred_at text not null,
  run_id text,
  chan_id text not null,
  pubkey text,
  alias text,
  tag text,
  rule text,
  old_ppm integer,
  new_ppm integer,
  inbound_discount_ppm integer
);
create index if not exists autofee_changes_chan_idx on autofee_changes (chan_id, occurred_at);

create table if not exists autofee_logs (
  id integer primary key autoincrement,
  occurred_at text not null,
  run_id text,
  seq integer,
  line text not null,
  payload text
);
create index if not exists autofee_logs_occurred_at_idx on autofee_logs (occurred_at);
`)
  return err
}

func formatSQLiteTime(t time.Time) string {
  return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) (time.Time, bool) {
  t, err := time.ParseInLocation(sqliteTimeLayout, raw, time.UTC)
  if err != nil {
    return time.Time{}, false
  }
  return t, true
}

func (a *SQLiteAudit) LastChange(ctx context.Context, chanID string) (time.Time, bool, error) {
  var raw sql.NullString
  err := a.db.QueryRowContext(ctx, `select max(occurred_at) from autofee_changes where chan_id = ?`, chanID).Scan(&raw)
  if err != nil {
    return time.Time{}, false, err
  }
  if !raw.Valid {
    return time.Time{}, false, nil
  }
  ts, ok := parseSQLiteTime(raw.String)
  if !ok {
    return time.Time{}, false, fmt.Errorf("channel %s: unreadable change time %q", chanID, raw.String)
  }
  return ts, true, nil
}

func (a *SQLiteAudit) RecordChange(ctx context.Context, rec ChangeRecord) error {
  _, err := a.db.ExecContext(ctx, `
insert into autofee_changes (occurred_at, run_id, chan_id, pubkey, alias, tag, rule, old_ppm, new_ppm, inbound_discount_ppm)
values (?,?,?,?,?,?,?,?,?,?)
`, formatSQLiteTime(rec.At), rec.RunID, rec.ChanID, rec.Pubkey, rec.Alias, rec.Tag.String(), rec.Rule, rec.OldPpm, rec.NewPpm, nullableInt64(rec.InboundDiscount))
  return err
}

func (a *SQLiteAudit) AppendRunLog(ctx context.Context, runID string, at time.Time, entries []LogEntry) error {
  if len(entries) == 0 {
    return nil
  }
  tx, err := a.db.BeginTx(ctx, nil)
  if err != nil {
    return err
  }
  defer func() { _ = tx.Rollback() }()

  stmt, err := tx.PrepareContext(ctx, `insert into autofee_logs (occurred_at, run_id, seq, line, payload) values (?,?,?,?,?)`)
  if err != nil {
    return err
  }
  defer stmt.Close()

  ts := formatSQLiteTime(at)
  for i, entry := range entries {
    var payload any
    if raw := marshalPayload(entry); raw != nil {
      payload = string(raw)
    }
    if _, err := stmt.ExecContext(ctx, ts, runID, i, entry.Line, payload); err != nil {
      return err
    }
  }
  return tx.Commit()
}

func (a *SQLiteAudit) RecentLines(ctx context.Context, limit int) ([]LogLine, error) {
  rows, err := a.db.QueryContext(ctx, `
select occurred_at, coalesce(run_id, ''), coalesce(seq, 0), line, payload
from autofee_logs
order by occurred_at desc, seq asc
limit ?
`, clampLimit(limit))
  if err != nil {
    return nil, err
  }
  defer rows.Close()

  lines := []LogLine{}
  for rows.Next() {
    var line LogLine
    var at string
    var payload sql.NullString
    if err := rows.Scan(&at, &line.RunID, &line.Seq, &line.Line, &payload); err != nil {
      return nil, err
    }
    line.OccurredAt, _ = parseSQLiteTime(at)
    if payload.Valid && payload.String != "" {
      line.Payload = []byte(payload.String)
    }
    lines = append(lines, line)
  }
  return lines, rows.Err()
}

func (a *SQLiteAudit) LastRun(ctx context.Context) (time.Time, bool) {
  var raw sql.NullString
  err := a.db.QueryRowContext(ctx, `select max(occurred_at) from autofee_logs where seq = 0`).Scan(&raw)
  if err != nil || !raw.Valid {
    return time.Time{}, false
  }
  return parseSQLiteTime(raw.String)
}
