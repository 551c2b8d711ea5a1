package chanstats

import (
  "context"
  "database/sql"
  "errors"
  "fmt"
  "strings"
  "time"

  "github.com/jackc/pgx/v5/pgconn"
  "github.com/jackc/pgx/v5/pgxpool"
)

// Reader yields the current snapshot of open channels.
type Reader interface {
  Verify(ctx context.Context) error
  Snapshot(ctx context.Context) ([]Channel, error)
}

// SchemaError reports a metrics table that does not look like the one the
// stats collector writes. It is never a per-row condition.
type SchemaError struct {
  Table string
  Missing []string
  Err error
}

func (e *SchemaError) Error() string {
  if len(e.Missing) > 0 {
    return fmt.Sprintf("metrics table %s: missing columns %s", e.Table, strings.Join(e.Missing, ", "))
  }
  if e.Err != nil {
    return fmt.Sprintf("metrics table %s: %v", e.Table, e.Err)
  }
  return fmt.Sprintf("metrics table %s: schema mismatch", e.Table)
}

func (e *SchemaError) Unwrap() error {
  return e.Err
}

type dialect int

const (
  dialectPostgres dialect = iota
  dialectSQLite
)

const (
  kindText = iota
  kindNumber
  kindTime
)

type column struct {
  name string
  kind int
  required bool
}

var snapshotColumns = []column{
  {"chan_id", kindText, true},
  {"pubkey", kindText, true},
  {"alias", kindText, true},
  {"tag", kindText, false},
  {"capacity", kindNumber, false},
  {"outbound_liquidity", kindNumber, true},
  {"inbound_liquidity", kindNumber, false},
  {"days_open", kindNumber, true},
  {"cost_ppm", kindNumber, false},
  {"rebal_rate", kindNumber, false},
  {"local_fee_rate", kindNumber, true},
  {"total_routed_out", kindNumber, false},
  {"total_routed_in", kindNumber, false},
  {"last_outgoing_activity", kindTime, false},
  {"last_incoming_activity", kindTime, false},
  {"last_rebalance", kindTime, false},
}

var lifetimeColumns = []column{
  {"total_routed_in", kindNumber, false},
  {"total_routed_out", kindNumber, false},
  {"days_open", kindNumber, false},
}

func columnExpr(d dialect, alias string, c column) string {
  ref := alias + "." + c.name
  if d == dialectSQLite {
    return ref
  }
  switch c.kind {
  case kindText:
    return ref + "::text"
  case kindNumber:
    return ref + "::float8"
  default:
    return fmt.Sprintf("to_char(%s::timestamp, 'YYYY-MM-DD HH24:MI:SS')", ref)
  }
}

func buildSnapshotQuery(d dialect, table string, lifetime bool) string {
  exprs := make([]string, 0, len(snapshotColumns)+len(lifetimeColumns))
  for _, c := range snapshotColumns {
    exprs = append(exprs, columnExpr(d, "p", c))
  }
  join := ""
  if lifetime {
    for _, c := range lifetimeColumns {
      exprs = append(exprs, columnExpr(d, "l", c))
    }
    join = fmt.Sprintf("\nleft join %s l on l.chan_id = p.chan_id", LifetimeTable)
  }
  return fmt.Sprintf("select %s\nfrom %s p%s\norder by p.chan_id", strings.Join(exprs, ",\n  "), table, join)
}

func requiredColumnNames() []string {
  names := make([]string, 0, len(snapshotColumns))
  for _, c := range snapshotColumns {
    names = append(names, c.name)
  }
  return names
}

func missingColumns(present map[string]bool, want []string) []string {
  var missing []string
  for _, name := range want {
    if !present[name] {
      missing = append(missing, name)
    }
  }
  return missing
}

// rawRow holds one scanned row before NULL handling. Both drivers scan into
// the same database/sql null types.
type rawRow struct {
  text [4]sql.NullString
  num [9]sql.NullFloat64
  times [3]sql.NullString
  life [3]sql.NullFloat64
}

func (r *rawRow) dest(lifetime bool) []any {
  out := make([]any, 0, 19)
  ti, ni, tm := 0, 0, 0
  for _, c := range snapshotColumns {
    switch c.kind {
    case kindText:
      out = append(out, &r.text[ti])
      ti++
    case kindNumber:
      out = append(out, &r.num[ni])
      ni++
    default:
      out = append(out, &r.times[tm])
      tm++
    }
  }
  if lifetime {
    for i := range r.life {
      out = append(out, &r.life[i])
    }
  }
  return out
}

func (r *rawRow) toChannel(loc *time.Location, lifetime bool) Channel {
  var ch Channel
  missing := []string{}
  ti, ni, tm := 0, 0, 0
  for _, c := range snapshotColumns {
    switch c.kind {
    case kindText:
      v := r.text[ti]
      ti++
      val := strings.TrimSpace(v.String)
      if c.required && (!v.Valid || val == "") {
        missing = append(missing, c.name)
      }
      switch c.name {
      case "chan_id":
        ch.ChanID = val
      case "pubkey":
        ch.Pubkey = val
      case "alias":
        ch.Alias = val
      case "tag":
        ch.StoredTag = val
      }
    case kindNumber:
      v := r.num[ni]
      ni++
      if c.required && !v.Valid {
        missing = append(missing, c.name)
      }
      switch c.name {
      case "capacity":
        ch.Capacity = int64(v.Float64)
      case "outbound_liquidity":
        ch.OutboundPct = v.Float64
      case "inbound_liquidity":
        ch.InboundPct = v.Float64
      case "days_open":
        ch.DaysOpen = int(v.Float64)
      case "cost_ppm":
        ch.CostPpm = nonNegative(v.Float64)
      case "rebal_rate":
        ch.RebalRate = nonNegative(v.Float64)
      case "local_fee_rate":
        if v.Valid {
          fee := nonNegative(v.Float64)
          ch.LocalFeeRate = &fee
        }
      case "total_routed_out":
        ch.TotalRoutedOut = nonNegative(v.Float64)
      case "total_routed_in":
        ch.TotalRoutedIn = nonNegative(v.Float64)
      }
    default:
      v := r.times[tm]
      tm++
      var ts *time.Time
      if v.Valid {
        if parsed, ok := ParseTimestamp(v.String, loc); ok {
          ts = &parsed
        }
      }
      switch c.name {
      case "last_outgoing_activity":
        ch.LastOutgoing = ts
      case "last_incoming_activity":
        ch.LastIncoming = ts
      case "last_rebalance":
        ch.LastRebalance = ts
      }
    }
  }
  if lifetime && r.life[0].Valid && r.life[1].Valid {
    in := nonNegative(r.life[0].Float64)
    out := nonNegative(r.life[1].Float64)
    ch.LifetimeRoutedIn = &in
    ch.LifetimeRoutedOut = &out
    if r.life[2].Valid {
      days := int(r.life[2].Float64)
      ch.LifetimeDaysOpen = &days
    }
  }
  if ch.DaysOpen < 0 {
    ch.DaysOpen = 0
  }
  if len(missing) > 0 {
    ch.Missing = missing
  }
  return ch
}

func nonNegative(v float64) int64 {
  if v < 0 {
    return 0
  }
  return int64(v)
}

// ParseTimestamp accepts the collector's layout plus the RFC3339 forms
// database drivers produce for typed columns.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
  value := strings.TrimSpace(raw)
  if value == "" {
    return time.Time{}, false
  }
  if loc == nil {
    loc = time.Local
  }
  for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05.999999", "2006-01-02T15:04:05"} {
    if t, err := time.ParseInLocation(layout, value, loc); err == nil {
      return t, true
    }
  }
  if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
    return t, true
  }
  return time.Time{}, false
}

// PGStore reads the metrics tables from postgres.
type PGStore struct {
  db *pgxpool.Pool
  table string
  loc *time.Location
  lifetime bool
}

func NewPGStore(db *pgxpool.Pool, periodDays int) *PGStore {
  return &PGStore{db: db, table: TableName(periodDays), loc: time.Local}
}

func (s *PGStore) Verify(ctx context.Context) error {
  if s.db == nil {
    return errors.New("db not configured")
  }
  present, err := s.columns(ctx, s.table)
  if err != nil {
    return err
  }
  if len(present) == 0 {
    return &SchemaError{Table: s.table, Err: errors.New("table not found")}
  }
  if missing := missingColumns(present, requiredColumnNames()); len(missing) > 0 {
    return &SchemaError{Table: s.table, Missing: missing}
  }
  life, err := s.columns(ctx, LifetimeTable)
  if err != nil {
    return err
  }
  s.lifetime = len(missingColumns(life, []string{"chan_id", "total_routed_in", "total_routed_out", "days_open"})) == 0
  return nil
}

func (s *PGStore) columns(ctx context.Context, table string) (map[string]bool, error) {
  rows, err := s.db.Query(ctx, `
select column_name
from information_schema.columns
where table_schema = current_schema() and table_name = $1
`, table)
  if err != nil {
    return nil, err
  }
  defer rows.Close()
  out := map[string]bool{}
  for rows.Next() {
    var name string
    if err := rows.Scan(&name); err != nil {
      return nil, err
    }
    out[name] = true
  }
  return out, rows.Err()
}

func (s *PGStore) Snapshot(ctx context.Context) ([]Channel, error) {
  if s.db == nil {
    return nil, errors.New("db not configured")
  }
  rows, err := s.db.Query(ctx, buildSnapshotQuery(dialectPostgres, s.table, s.lifetime))
  if err != nil {
    return nil, s.wrap(err)
  }
  defer rows.Close()

  var items []Channel
  for rows.Next() {
    var raw rawRow
    if err := rows.Scan(raw.dest(s.lifetime)...); err != nil {
      return nil, s.wrap(err)
    }
    items = append(items, raw.toChannel(s.loc, s.lifetime))
  }
  if err := rows.Err(); err != nil {
    return nil, s.wrap(err)
  }
  return items, nil
}

func (s *PGStore) wrap(err error) error {
  var pgErr *pgconn.PgError
  if errors.As(err, &pgErr) {
    switch pgErr.Code {
    case "42703", "42P01":
      return &SchemaError{Table: s.table, Err: err}
    }
  }
  return err
}
