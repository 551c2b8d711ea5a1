package feetool

import (
  "context"
  "errors"
  "fmt"
  "log"
  "time"

  "lightning-autofee/internal/config"
  "lightning-autofee/internal/lndclient"
)

type Tool interface {
  SetOutboundFee(ctx context.Context, pubkey string, ppm int64) error
  SetInboundDiscount(ctx context.Context, pubkey string, ppm int64) error
}

// New picks the fee tool named in the config.
func New(cfg config.FeeToolConfig, lnd *lndclient.Client, logger *log.Logger) (Tool, error) {
  timeout := time.Duration(cfg.TimeoutSec) * time.Second
  switch cfg.Kind {
  case "bos", "":
    return NewBos(cfg.BosPath, timeout), nil
  case "lnd":
    if lnd == nil {
      return nil, errors.New("fee_tool.kind lnd needs an lnd connection")
    }
    return NewLND(lnd, timeout, logger), nil
  default:
    return nil, fmt.Errorf("fee_tool.kind %q not supported", cfg.Kind)
  }
}
