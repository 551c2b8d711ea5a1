package feetool

import (
  "bytes"
  "context"
  "fmt"
  "os/exec"
  "strconv"
  "strings"
  "time"
)

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
  cmd := exec.CommandContext(ctx, name, args...)
  var out bytes.Buffer
  cmd.Stdout = &out
  cmd.Stderr = &out
  err := cmd.Run()
  return out.Bytes(), err
}

// Bos drives fees through the Balance of Satoshis CLI. Success is the exit
// status; output is kept only for error messages.
type Bos struct {
  path string
  timeout time.Duration
  run runner
}

func NewBos(path string, timeout time.Duration) *Bos {
  if strings.TrimSpace(path) == "" {
    path = "bos"
  }
  if timeout <= 0 {
    timeout = time.Minute
  }
  return &Bos{path: path, timeout: timeout, run: execRunner}
}

func (b *Bos) SetOutboundFee(ctx context.Context, pubkey string, ppm int64) error {
  return b.exec(ctx, outboundArgs(pubkey, ppm))
}

func (b *Bos) SetInboundDiscount(ctx context.Context, pubkey string, ppm int64) error {
  return b.exec(ctx, inboundArgs(pubkey, ppm))
}

func outboundArgs(pubkey string, ppm int64) []string {
  return []string{"fees", "--set-fee-rate", strconv.FormatInt(ppm, 10), "--to", pubkey}
}

func inboundArgs(pubkey string, ppm int64) []string {
  return []string{"fees", "--set-inbound-rate-discount", strconv.FormatInt(ppm, 10), "--to", pubkey}
}

func (b *Bos) exec(ctx context.Context, args []string) error {
  if err := checkPubkey(args[len(args)-1]); err != nil {
    return err
  }
  ctx, cancel := context.WithTimeout(ctx, b.timeout)
  defer cancel()

  out, err := b.run(ctx, b.path, args...)
  if err != nil {
    msg := strings.TrimSpace(string(out))
    if len(msg) > 300 {
      msg = msg[:300]
    }
    if ctx.Err() == context.DeadlineExceeded {
      return fmt.Errorf("%s %s: timed out after %s", b.path, args[1], b.timeout)
    }
    if msg != "" {
      return fmt.Errorf("%s %s: %w: %s", b.path, args[1], err, msg)
    }
    return fmt.Errorf("%s %s: %w", b.path, args[1], err)
  }
  return nil
}

func checkPubkey(pubkey string) error {
  if strings.TrimSpace(pubkey) == "" {
    return fmt.Errorf("peer pubkey required")
  }
  if strings.HasPrefix(pubkey, "-") {
    return fmt.Errorf("invalid peer pubkey %q", pubkey)
  }
  return nil
}
