package autofee

import (
  "context"
  "encoding/json"
  "fmt"
  "os"
  "path/filepath"
  "strings"
  "sync"

  "github.com/fsnotify/fsnotify"
  "go.uber.org/zap"
)

// Excluder answers whether a peer is off limits for automatic fee changes.
type Excluder interface {
  Contains(pubkey string) bool
}

type exclusionFile struct {
  ExclusionList []struct {
    Pubkey string `json:"pubkey"`
  } `json:"EXCLUSION_LIST"`
}

// Exclusions is the operator's exclusion list. It is re-read at the start
// of each cycle; with Watch running the file is only parsed again after it
// changed on disk.
type Exclusions struct {
  path string
  logger *zap.Logger

  mu sync.RWMutex
  pubkeys map[string]struct{}
  loaded bool
  dirty bool
  watching bool
}

func NewExclusions(path string, logger *zap.Logger) *Exclusions {
  if logger == nil {
    logger = zap.NewNop()
  }
  return &Exclusions{path: path, logger: logger, dirty: true}
}

func (e *Exclusions) Contains(pubkey string) bool {
  e.mu.RLock()
  defer e.mu.RUnlock()
  _, ok := e.pubkeys[pubkey]
  return ok
}

func (e *Exclusions) Len() int {
  e.mu.RLock()
  defer e.mu.RUnlock()
  return len(e.pubkeys)
}

// Refresh loads the file when needed. A missing or malformed file is a
// configuration error and the previous list is kept.
func (e *Exclusions) Refresh() error {
  e.mu.RLock()
  skip := e.loaded && e.watching && !e.dirty
  e.mu.RUnlock()
  if skip {
    return nil
  }

  pubkeys, err := readExclusions(e.path)
  if err != nil {
    return &ConfigError{Op: "load exclusion list", Err: err}
  }

  e.mu.Lock()
  e.pubkeys = pubkeys
  e.loaded = true
  e.dirty = false
  e.mu.Unlock()
  return nil
}

func readExclusions(path string) (map[string]struct{}, error) {
  raw, err := os.ReadFile(path)
  if err != nil {
    return nil, err
  }
  var parsed exclusionFile
  if err := json.Unmarshal(raw, &parsed); err != nil {
    return nil, fmt.Errorf("parse %s: %w", path, err)
  }
  out := make(map[string]struct{}, len(parsed.ExclusionList))
  for _, entry := range parsed.ExclusionList {
    key := strings.TrimSpace(entry.Pubkey)
    if key == "" {
      continue
    }
    out[key] = struct{}{}
  }
  return out, nil
}

// Watch marks the list dirty whenever the file is written, replaced or
// removed. It blocks until ctx is done.
func (e *Exclusions) Watch(ctx context.Context) error {
  watcher, err := fsnotify.NewWatcher()
  if err != nil {
    return fmt.Errorf("create exclusion watcher: %w", err)
  }
  defer watcher.Close()

  // the directory, so editors that swap the file in are noticed
  if err := watcher.Add(filepath.Dir(e.path)); err != nil {
    return fmt.Errorf("watch %s: %w", filepath.Dir(e.path), err)
  }

  e.mu.Lock()
  e.watching = true
  e.mu.Unlock()
  defer func() {
    e.mu.Lock()
    e.watching = false
    e.mu.Unlock()
  }()

  target := filepath.Clean(e.path)
  for {
    select {
    case <-ctx.Done():
      return nil
    case event, ok := <-watcher.Events:
      if !ok {
        return nil
      }
      if filepath.Clean(event.Name) != target {
        continue
      }
      if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
        continue
      }
      e.mu.Lock()
      e.dirty = true
      e.mu.Unlock()
      e.logger.Info("exclusion list changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
    case err, ok := <-watcher.Errors:
      if !ok {
        return nil
      }
      e.logger.Warn("exclusion watcher error", zap.Error(err))
    }
  }
}
