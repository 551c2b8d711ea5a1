package autofee

import (
  "context"
  "errors"
  "fmt"
  "io"
  "log"
  "sync"
  "time"

  "lightning-autofee/internal/automation"
  "lightning-autofee/internal/config"
)

const (
  tokenOwner = "autofee"
  retryDelay = time.Minute
)

type loggerLike interface {
  Printf(format string, v ...any)
}

// SyncChecker reports whether the node is synced to chain and graph. Cycles
// are skipped while it is not.
type SyncChecker interface {
  Synced(ctx context.Context) (bool, error)
}

type Status struct {
  Running bool `json:"running"`
  DryRun bool `json:"dry_run"`
  IntervalSec int `json:"interval_sec"`
  LastRunAt string `json:"last_run_at,omitempty"`
  NextRunAt string `json:"next_run_at,omitempty"`
  LastError string `json:"last_error,omitempty"`
  LastRunID string `json:"last_run_id,omitempty"`
  TokenHolder string `json:"token_holder,omitempty"`
}

// Service schedules engine cycles on a fixed interval and serializes them
// with manual runs.
type Service struct {
  engine *Engine
  token *automation.Token
  audit AuditLog
  sync SyncChecker
  logger loggerLike
  interval time.Duration
  dryRun bool

  mu sync.Mutex
  started bool
  running bool
  stop chan struct{}
  done chan struct{}
  lastRunAt time.Time
  nextRunAt time.Time
  retryAt time.Time
  lastError string
  lastRunID string
  hooks []func(Report)
}

func NewService(engine *Engine, token *automation.Token, audit AuditLog, syncer SyncChecker, cfg config.Autofee, logger loggerLike) *Service {
  if token == nil {
    token = automation.NewToken()
  }
  if logger == nil {
    logger = log.New(io.Discard, "", 0)
  }
  return &Service{
    engine: engine,
    token: token,
    audit: audit,
    sync: syncer,
    logger: logger,
    interval: cfg.Interval(),
    dryRun: cfg.DryRun,
  }
}

// OnReport registers fn to receive every finished cycle's report.
func (s *Service) OnReport(fn func(Report)) {
  s.mu.Lock()
  defer s.mu.Unlock()
  s.hooks = append(s.hooks, fn)
}

func (s *Service) Status() Status {
  s.mu.Lock()
  defer s.mu.Unlock()
  status := Status{
    Running: s.running,
    DryRun: s.dryRun,
    IntervalSec: int(s.interval / time.Second),
    LastError: s.lastError,
    LastRunID: s.lastRunID,
  }
  if !s.lastRunAt.IsZero() {
    status.LastRunAt = s.lastRunAt.UTC().Format(time.RFC3339)
  }
  if !s.nextRunAt.IsZero() {
    status.NextRunAt = s.nextRunAt.UTC().Format(time.RFC3339)
  }
  if holder, _, ok := s.token.Holder(); ok {
    status.TokenHolder = holder
  }
  return status
}

func (s *Service) Start() {
  s.mu.Lock()
  if s.started {
    s.mu.Unlock()
    return
  }
  s.started = true
  s.stop = make(chan struct{})
  s.done = make(chan struct{})
  stop, done := s.stop, s.done
  s.mu.Unlock()

  go s.loop(stop, done)
}

// Stop ends the scheduler and waits for a cycle in flight to finish.
func (s *Service) Stop() {
  s.mu.Lock()
  stop, done := s.stop, s.done
  if stop != nil {
    close(stop)
    s.stop = nil
  }
  s.started = false
  s.mu.Unlock()
  if done != nil {
    <-done
  }
}

func (s *Service) loop(stop <-chan struct{}, done chan<- struct{}) {
  defer close(done)
  for {
    next := s.scheduleNext(time.Now())
    timer := time.NewTimer(time.Until(next))
    select {
    case <-stop:
      timer.Stop()
      return
    case <-timer.C:
      if _, err := s.Run(context.Background(), s.dryRun, "scheduled"); err != nil {
        s.logger.Printf("autofee: scheduled run failed: %v", err)
        if errors.Is(err, ErrAlreadyRunning) {
          s.deferRetry(time.Now())
        }
      }
    }
  }
}

// scheduleNext picks the next run time: one interval after the last run,
// recovered from the run log after a restart.
func (s *Service) scheduleNext(now time.Time) time.Time {
  s.mu.Lock()
  lastRun := s.lastRunAt
  s.mu.Unlock()

  if lastRun.IsZero() && s.audit != nil {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    if ts, ok := s.audit.LastRun(ctx); ok {
      lastRun = ts
      s.mu.Lock()
      s.lastRunAt = ts
      s.mu.Unlock()
    }
    cancel()
  }

  next := now
  if !lastRun.IsZero() {
    next = lastRun.Add(s.interval)
  }
  s.mu.Lock()
  if !s.retryAt.IsZero() && s.retryAt.After(next) {
    next = s.retryAt
  }
  s.mu.Unlock()
  if next.Before(now) {
    next = now
  }
  s.mu.Lock()
  s.nextRunAt = next
  s.mu.Unlock()
  return next
}

// Run executes one cycle now. Once started, a cycle is not cut short by ctx
// cancellation.
func (s *Service) Run(ctx context.Context, dryRun bool, reason string) (Report, error) {
  s.mu.Lock()
  if s.running {
    s.mu.Unlock()
    return Report{}, ErrAlreadyRunning
  }
  s.running = true
  s.mu.Unlock()

  defer func() {
    s.mu.Lock()
    s.running = false
    s.mu.Unlock()
  }()

  release, err := s.token.TryAcquire(tokenOwner)
  if err != nil {
    holder, _, _ := s.token.Holder()
    err = fmt.Errorf("%w: token held by %s", ErrAlreadyRunning, holder)
    s.setLastError(err)
    return Report{}, err
  }
  defer release()

  // the slot counts as used from here on, even when the sync check skips it
  s.mu.Lock()
  s.lastRunAt = time.Now()
  s.retryAt = time.Time{}
  s.mu.Unlock()

  ctx = context.WithoutCancel(ctx)

  if s.sync != nil {
    synced, err := s.sync.Synced(ctx)
    if err != nil {
      s.logger.Printf("autofee: sync check failed: %v", err)
    } else if !synced {
      s.logger.Printf("autofee: node not synced to chain/graph, skipping %s run", reason)
      return Report{}, nil
    }
  }

  report, err := s.engine.Cycle(ctx, dryRun, reason)
  s.setLastError(err)
  if err != nil {
    return report, err
  }

  s.mu.Lock()
  s.lastRunID = report.RunID
  hooks := append([]func(Report){}, s.hooks...)
  s.mu.Unlock()
  for _, hook := range hooks {
    hook(report)
  }
  return report, nil
}

// RunCycles runs n cycles back to back, sleeping one interval between them.
// n <= 0 runs until ctx is done. Cycle errors are logged, never returned.
func (s *Service) RunCycles(ctx context.Context, n int) error {
  for i := 0; n <= 0 || i < n; i++ {
    if i > 0 {
      s.mu.Lock()
      s.nextRunAt = time.Now().Add(s.interval)
      s.mu.Unlock()
      timer := time.NewTimer(s.interval)
      select {
      case <-ctx.Done():
        timer.Stop()
        return nil
      case <-timer.C:
      }
    }
    if _, err := s.Run(ctx, s.dryRun, "scheduled"); err != nil {
      if errors.Is(err, ErrAlreadyRunning) || IsConfigError(err) {
        s.logger.Printf("autofee: cycle %d skipped: %v", i+1, err)
        continue
      }
      s.logger.Printf("autofee: cycle %d failed: %v", i+1, err)
    }
    if ctx.Err() != nil {
      return nil
    }
  }
  return nil
}

// deferRetry pushes a refused scheduled run back by retryDelay instead of a
// whole interval.
func (s *Service) deferRetry(now time.Time) {
  delay := retryDelay
  if s.interval > 0 && s.interval < delay {
    delay = s.interval
  }
  s.mu.Lock()
  s.retryAt = now.Add(delay)
  s.mu.Unlock()
}

func (s *Service) setLastError(err error) {
  s.mu.Lock()
  defer s.mu.Unlock()
  if err != nil {
    s.lastError = err.Error()
    return
  }
  s.lastError = ""
}
