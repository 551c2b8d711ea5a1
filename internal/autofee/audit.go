package autofee

import (
  "context"
  "encoding/json"
  "sort"
  "sync"
  "time"
)

// ChangeRecord is one fee command that the node accepted.
type ChangeRecord struct {
  At time.Time
  RunID string
  ChanID string
  Pubkey string
  Alias string
  Tag Tag
  Rule string
  OldPpm int64
  NewPpm int64
  InboundDiscount *int64
}

// LogLine is a stored run log line.
type LogLine struct {
  OccurredAt time.Time `json:"occurred_at"`
  RunID string `json:"run_id"`
  Seq int `json:"seq"`
  Line string `json:"line"`
  Payload json.RawMessage `json:"payload,omitempty"`
}

// AuditLog is the only state the fee loop owns: when each channel was last
// changed, and what every run decided.
type AuditLog interface {
  LastChanger
  EnsureSchema(ctx context.Context) error
  RecordChange(ctx context.Context, rec ChangeRecord) error
  AppendRunLog(ctx context.Context, runID string, at time.Time, entries []LogEntry) error
  RecentLines(ctx context.Context, limit int) ([]LogLine, error)
  LastRun(ctx context.Context) (time.Time, bool)
}

func clampLimit(limit int) int {
  if limit <= 0 {
    return 200
  }
  if limit > 1000 {
    return 1000
  }
  return limit
}

func marshalPayload(entry LogEntry) []byte {
  if entry.Payload == nil {
    return nil
  }
  raw, err := json.Marshal(entry.Payload)
  if err != nil {
    return nil
  }
  return raw
}

// MemoryAudit keeps the audit log in process. Cool-down state is lost on
// restart.
type MemoryAudit struct {
  mu sync.Mutex
  last map[string]time.Time
  changes []ChangeRecord
  lines []LogLine
}

func NewMemoryAudit() *MemoryAudit {
  return &MemoryAudit{last: map[string]time.Time{}}
}

func (m *MemoryAudit) EnsureSchema(ctx context.Context) error {
  return nil
}

func (m *MemoryAudit) LastChange(ctx context.Context, chanID string) (time.Time, bool, error) {
  m.mu.Lock()
  defer m.mu.Unlock()
  ts, ok := m.last[chanID]
  return ts, ok, nil
}

func (m *MemoryAudit) RecordChange(ctx context.Context, rec ChangeRecord) error {
  m.mu.Lock()
  defer m.mu.Unlock()
  if prev, ok := m.last[rec.ChanID]; !ok || rec.At.After(prev) {
    m.last[rec.ChanID] = rec.At
  }
  m.changes = append(m.changes, rec)
  return nil
}

func (m *MemoryAudit) Changes() []ChangeRecord {
  m.mu.Lock()
  defer m.mu.Unlock()
  return append([]ChangeRecord{}, m.changes...)
}

func (m *MemoryAudit) AppendRunLog(ctx context.Context, runID string, at time.Time, entries []LogEntry) error {
  m.mu.Lock()
  defer m.mu.Unlock()
  for i, entry := range entries {
    m.lines = append(m.lines, LogLine{
      OccurredAt: at,
      RunID: runID,
      Seq: i,
      Line: entry.Line,
      Payload: marshalPayload(entry),
    })
  }
  return nil
}

func (m *MemoryAudit) RecentLines(ctx context.Context, limit int) ([]LogLine, error) {
  m.mu.Lock()
  defer m.mu.Unlock()
  limit = clampLimit(limit)
  out := append([]LogLine{}, m.lines...)
  sort.SliceStable(out, func(i, j int) bool {
    return out[i].OccurredAt.After(out[j].OccurredAt)
  })
  if len(out) > limit {
    out = out[:limit]
  }
  return out, nil
}

func (m *MemoryAudit) LastRun(ctx context.Context) (time.Time, bool) {
  m.mu.Lock()
  defer m.mu.Unlock()
  var latest time.Time
  for _, line := range m.lines {
    if line.Seq == 0 && line.OccurredAt.After(latest) {
      latest = line.OccurredAt
    }
  }
  return latest, !latest.IsZero()
}
