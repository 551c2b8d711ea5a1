package chanstats

import (
  "context"
  "database/sql"
  "errors"
  "fmt"
  "strings"
  "time"

  _ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens an LNDg style database file.
func OpenSQLite(path string) (*sql.DB, error) {
  if strings.TrimSpace(path) == "" {
    return nil, errors.New("sqlite path required")
  }
  db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
  if err != nil {
    return nil, err
  }
  db.SetMaxOpenConns(1)
  return db, nil
}

// SQLiteStore reads the metrics tables from a sqlite file.
type SQLiteStore struct {
  db *sql.DB
  table string
  loc *time.Location
  lifetime bool
}

func NewSQLiteStore(db *sql.DB, periodDays int) *SQLiteStore {
  return &SQLiteStore{db: db, table: TableName(periodDays), loc: time.Local}
}

func (s *SQLiteStore) Verify(ctx context.Context) error {
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

func (s *SQLiteStore) columns(ctx context.Context, table string) (map[string]bool, error) {
  rows, err := s.db.QueryContext(ctx, `select name from pragma_table_info(?)`, table)
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

func (s *SQLiteStore) Snapshot(ctx context.Context) ([]Channel, error) {
  if s.db == nil {
    return nil, errors.New("db not configured")
  }
  rows, err := s.db.QueryContext(ctx, buildSnapshotQuery(dialectSQLite, s.table, s.lifetime))
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

func (s *SQLiteStore) wrap(err error) error {
  msg := strings.ToLower(err.Error())
  if strings.Contains(msg, "no such column") || strings.Contains(msg, "no such table") {
    return &SchemaError{Table: s.table, Err: err}
  }
  return err
}
