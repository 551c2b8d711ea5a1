package automation

import (
  "sync"
  "testing"

  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"
)

func TestTokenExclusive(t *testing.T) {
  tok := NewToken()

  release, err := tok.TryAcquire("autofee")
  require.NoError(t, err)

  _, err = tok.TryAcquire("rebalance")
  assert.ErrorIs(t, err, ErrBusy)

  holder, since, held := tok.Holder()
  assert.True(t, held)
  assert.Equal(t, "autofee", holder)
  assert.False(t, since.IsZero())

  release()
  release()

  _, _, held = tok.Holder()
  assert.False(t, held)

  release2, err := tok.TryAcquire("rebalance")
  require.NoError(t, err)
  release2()
}

func TestTokenConcurrentAcquire(t *testing.T) {
  tok := NewToken()
  var wg sync.WaitGroup
  var mu sync.Mutex
  winners := 0
  releases := []func(){}

  for i := 0; i < 16; i++ {
    wg.Add(1)
    go func() {
      defer wg.Done()
      release, err := tok.TryAcquire("worker")
      if err != nil {
        return
      }
      mu.Lock()
      winners++
      releases = append(releases, release)
      mu.Unlock()
    }()
  }
  wg.Wait()

  if winners != 1 {
    t.Fatalf("expected exactly one holder, got %d", winners)
  }
  for _, release := range releases {
    release()
  }
}
