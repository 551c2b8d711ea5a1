package feetool

import (
  "context"
  "errors"
  "fmt"
  "io"
  "log"
  "time"

  "lightning-autofee/internal/lndclient"
)

type policyClient interface {
  ListChannels(ctx context.Context, peer string) ([]lndclient.ChannelInfo, error)
  GetChannelPolicy(ctx context.Context, channelPoint string) (lndclient.ChannelPolicy, error)
  UpdateChannelPolicy(ctx context.Context, params lndclient.UpdateChannelPolicyParams) error
}

var (
  ErrNoChannel = errors.New("no open channel with peer")
  ErrChannelsDisabled = errors.New("every channel with peer is disabled")
)

// LND sets fees straight over gRPC. Every channel with the peer gets the
// same policy; base fee and time lock are kept as they are. Channels we have
// disabled locally are left alone.
type LND struct {
  client policyClient
  timeout time.Duration
  logger *log.Logger
}

func NewLND(client policyClient, timeout time.Duration, logger *log.Logger) *LND {
  if timeout <= 0 {
    timeout = time.Minute
  }
  if logger == nil {
    logger = log.New(io.Discard, "", 0)
  }
  return &LND{client: client, timeout: timeout, logger: logger}
}

func (l *LND) SetOutboundFee(ctx context.Context, pubkey string, ppm int64) error {
  return l.update(ctx, pubkey, func(params *lndclient.UpdateChannelPolicyParams) {
    params.FeeRatePpm = ppm
  })
}

// SetInboundDiscount maps a discount onto a negative inbound fee rate.
func (l *LND) SetInboundDiscount(ctx context.Context, pubkey string, ppm int64) error {
  if ppm < 0 {
    ppm = -ppm
  }
  return l.update(ctx, pubkey, func(params *lndclient.UpdateChannelPolicyParams) {
    params.InboundEnabled = true
    params.InboundBaseMsat = 0
    params.InboundFeeRatePpm = -ppm
  })
}

func (l *LND) update(ctx context.Context, pubkey string, mutate func(*lndclient.UpdateChannelPolicyParams)) error {
  if err := checkPubkey(pubkey); err != nil {
    return err
  }
  ctx, cancel := context.WithTimeout(ctx, l.timeout)
  defer cancel()

  channels, err := l.client.ListChannels(ctx, pubkey)
  if err != nil {
    return fmt.Errorf("list channels: %w", err)
  }

  var errs []error
  updated, disabled := 0, 0
  for _, ch := range channels {
    if ch.RemotePubkey != pubkey || ch.ChannelPoint == "" {
      continue
    }
    if ch.LocalDisabled {
      disabled++
      l.logger.Printf("feetool: %s is disabled locally, policy left unchanged", ch.ChannelPoint)
      continue
    }
    params, err := l.currentPolicy(ctx, ch)
    if err != nil {
      errs = append(errs, fmt.Errorf("%s: %w", ch.ChannelPoint, err))
      continue
    }
    mutate(&params)
    if err := l.client.UpdateChannelPolicy(ctx, params); err != nil {
      errs = append(errs, fmt.Errorf("%s: %w", ch.ChannelPoint, err))
      continue
    }
    updated++
  }
  if len(errs) > 0 {
    return errors.Join(errs...)
  }
  if updated == 0 && disabled > 0 {
    return ErrChannelsDisabled
  }
  if updated == 0 {
    return ErrNoChannel
  }
  return nil
}

// currentPolicy starts from what the node advertises today so that only the
// field being changed moves. Without a readable policy nothing is sent.
func (l *LND) currentPolicy(ctx context.Context, ch lndclient.ChannelInfo) (lndclient.UpdateChannelPolicyParams, error) {
  params := lndclient.UpdateChannelPolicyParams{ChannelPoint: ch.ChannelPoint}
  if ch.BaseFeeMsat != nil && ch.FeeRatePpm != nil && ch.TimeLockDelta != nil {
    params.BaseFeeMsat = *ch.BaseFeeMsat
    params.FeeRatePpm = *ch.FeeRatePpm
    params.TimeLockDelta = *ch.TimeLockDelta
    if ch.InboundFeeRatePpm != nil && *ch.InboundFeeRatePpm != 0 {
      params.InboundEnabled = true
      params.InboundFeeRatePpm = *ch.InboundFeeRatePpm
    }
    return params, nil
  }
  policy, err := l.client.GetChannelPolicy(ctx, ch.ChannelPoint)
  if err != nil {
    return params, fmt.Errorf("read current policy: %w", err)
  }
  params.BaseFeeMsat = policy.BaseFeeMsat
  params.FeeRatePpm = policy.FeeRatePpm
  params.TimeLockDelta = policy.TimeLockDelta
  if policy.InboundFeeRatePpm != 0 || policy.InboundBaseMsat != 0 {
    params.InboundEnabled = true
    params.InboundBaseMsat = policy.InboundBaseMsat
    params.InboundFeeRatePpm = policy.InboundFeeRatePpm
  }
  return params, nil
}
