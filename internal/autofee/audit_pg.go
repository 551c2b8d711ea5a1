package autofee

import (
  "context"
  "errors"
  "time"

  "github.com/jackc/pgx/v5"
  "github.com/jackc/pgx/v5/pgtype"
  "github.com/jackc/pgx/v5/pgxpool"
)

type PGAudit struct {
  db *pgxpool.Pool
}

func NewPGAudit(db *pgxpool.Pool) *PGAudit {
  return &PGAudit{db: db}
}

func (a *PGAudit) EnsureSchema(ctx context.Context) error {
  if a.db == nil {
    return errors.New("db not configured")
  }
  _, err := a.db.Exec(ctx, `
create table if not exists autofee_changes (
  id bigserial primary key,
  occurred_at timestamptz not null default now(),
  run_id text,
  chan_id text not null,
  pubkey text,
  alias text,
  tag text,
  rule text,
  old_ppm bigint,
  new_ppm bigint,
  inbound_discount_ppm bigint
);
create index if not exists autofee_changes_chan_idx on autofee_changes (chan_id, occurred_at desc);

create table if not exists autofee_logs (
  id bigserial primary key,
  occurred_at timestamptz not null default now(),
  run_id text,
  seq integer,
  line text not null,
  payload jsonb
);
create index if not exists autofee_logs_occurred_at_idx on autofee_logs (occurred_at desc);
create index if not exists autofee_logs_run_idx on autofee_logs (run_id, seq);
`)
  return err
}

func (a *PGAudit) LastChange(ctx context.Context, chanID string) (time.Time, bool, error) {
  var ts pgtype.Timestamptz
  err := a.db.QueryRow(ctx, `select max(occurred_at) from autofee_changes where chan_id = $1`, chanID).Scan(&ts)
  if err != nil {
    return time.Time{}, false, err
  }
  if !ts.Valid {
    return time.Time{}, false, nil
  }
  return ts.Time, true, nil
}

func (a *PGAudit) RecordChange(ctx context.Context, rec ChangeRecord) error {
  _, err := a.db.Exec(ctx, `
insert into autofee_changes (occurred_at, run_id, chan_id, pubkey, alias, tag, rule, old_ppm, new_ppm, inbound_discount_ppm)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, rec.At.UTC(), rec.RunID, rec.ChanID, rec.Pubkey, rec.Alias, rec.Tag.String(), rec.Rule, rec.OldPpm, rec.NewPpm, nullableInt64(rec.InboundDiscount))
  return err
}

func (a *PGAudit) AppendRunLog(ctx context.Context, runID string, at time.Time, entries []LogEntry) error {
  if len(entries) == 0 {
    return nil
  }
  batch := &pgx.Batch{}
  for i, entry := range entries {
    var payload any
    if raw := marshalPayload(entry); raw != nil {
      payload = raw
    }
    batch.Queue(`insert into autofee_logs (occurred_at, run_id, seq, line, payload) values ($1,$2,$3,$4,$5)`,
      at.UTC(), runID, i, entry.Line, payload)
  }
  br := a.db.SendBatch(ctx, batch)
  defer br.Close()
  for range entries {
    if _, err := br.Exec(); err != nil {
      return err
    }
  }
  return nil
}

func (a *PGAudit) RecentLines(ctx context.Context, limit int) ([]LogLine, error) {
  rows, err := a.db.Query(ctx, `
select occurred_at, coalesce(run_id, ''), coalesce(seq, 0), line, payload
from autofee_logs
order by occurred_at desc, seq asc
limit $1
`, clampLimit(limit))
  if err != nil {
    return nil, err
  }
  defer rows.Close()

  lines := []LogLine{}
  for rows.Next() {
    var line LogLine
    var payload []byte
    if err := rows.Scan(&line.OccurredAt, &line.RunID, &line.Seq, &line.Line, &payload); err != nil {
      return nil, err
    }
    if len(payload) > 0 {
      line.Payload = payload
    }
    lines = append(lines, line)
  }
  return lines, rows.Err()
}

func (a *PGAudit) LastRun(ctx context.Context) (time.Time, bool) {
  var ts pgtype.Timestamptz
  err := a.db.QueryRow(ctx, `select max(occurred_at) from autofee_logs where seq = 0`).Scan(&ts)
  if err != nil || !ts.Valid {
    return time.Time{}, false
  }
  return ts.Time, true
}

func nullableInt64(v *int64) any {
  if v == nil {
    return nil
  }
  return *v
}
