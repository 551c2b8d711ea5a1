package automation

import (
  "errors"
  "sync"
  "time"
)

var ErrBusy = errors.New("automation token busy")

// Token serializes every task that drives the node's fee tool. The fee loop
// takes it for a whole cycle; sibling tasks take it for their own runs.
type Token struct {
  mu sync.Mutex
  holder string
  since time.Time
}

func NewToken() *Token {
  return &Token{}
}

// TryAcquire takes the token for owner. It never blocks. The returned func
// releases it and is safe to call more than once.
func (t *Token) TryAcquire(owner string) (func(), error) {
  t.mu.Lock()
  defer t.mu.Unlock()
  if t.holder != "" {
    return nil, ErrBusy
  }
  t.holder = owner
  t.since = time.Now()

  var once sync.Once
  return func() {
    once.Do(func() {
      t.mu.Lock()
      t.holder = ""
      t.since = time.Time{}
      t.mu.Unlock()
    })
  }, nil
}

// Holder reports who has the token and since when.
func (t *Token) Holder() (string, time.Time, bool) {
  t.mu.Lock()
  defer t.mu.Unlock()
  return t.holder, t.since, t.holder != ""
}
