package lndclient

import (
  "context"
  "crypto/x509"
  "encoding/hex"
  "errors"
  "fmt"
  "log"
  "math"
  "os"
  "strconv"
  "strings"
  "sync"
  "time"

  "github.com/lightningnetwork/lnd/lnrpc"
  "google.golang.org/grpc"
  "google.golang.org/grpc/credentials"

  "lightning-autofee/internal/config"
)

type Client struct {
  cfg config.LNDConfig
  logger *log.Logger
  statusMu sync.Mutex
  statusCached bool
  statusCache Status
  statusErr error
  statusNextFetch time.Time
}

func New(cfg config.LNDConfig, logger *log.Logger) *Client {
  return &Client{cfg: cfg, logger: logger}
}

const (
  statusCacheOK = 30 * time.Second
  statusCacheErr = 45 * time.Second
  statusCacheTimeout = 60 * time.Second
  maxGRPCMsgSize = 32 * 1024 * 1024
  defaultTimeLockDelta = 144
)

type macaroonCredential struct {
  macaroon string
}

type ChannelPolicy struct {
  ChannelPoint string
  BaseFeeMsat int64
  FeeRatePpm int64
  TimeLockDelta int64
  InboundBaseMsat int64
  InboundFeeRatePpm int64
}

type UpdateChannelPolicyParams struct {
  ChannelPoint string
  BaseFeeMsat int64
  FeeRatePpm int64
  TimeLockDelta int64
  InboundEnabled bool
  InboundBaseMsat int64
  InboundFeeRatePpm int64
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
  return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
  return true
}

func (c *Client) dial(ctx context.Context) (*grpc.ClientConn, error) {
  tlsCert, err := os.ReadFile(c.cfg.TLSCertPath)
  if err != nil {
    return nil, err
  }
  certPool := x509.NewCertPool()
  if ok := certPool.AppendCertsFromPEM(tlsCert); !ok {
    return nil, fmt.Errorf("failed to parse LND TLS cert")
  }

  macBytes, err := os.ReadFile(c.cfg.AdminMacaroonPath)
  if err != nil {
    return nil, err
  }

  creds := credentials.NewClientTLSFromCert(certPool, "")
  opts := []grpc.DialOption{
    grpc.WithTransportCredentials(creds),
    grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxGRPCMsgSize)),
    grpc.WithPerRPCCredentials(macaroonCredential{hex.EncodeToString(macBytes)}),
  }
  return grpc.DialContext(ctx, c.cfg.GRPCHost, opts...)
}

// GetStatus is cached for a short while; the fee loop asks once per cycle
// and the status API may ask far more often.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
  now := time.Now()
  c.statusMu.Lock()
  if c.statusCached && now.Before(c.statusNextFetch) {
    status := c.statusCache
    err := c.statusErr
    c.statusMu.Unlock()
    return status, err
  }
  c.statusMu.Unlock()

  status, err := c.getStatusUncached(ctx)

  ttl := statusCacheOK
  if err != nil {
    if c.logger != nil {
      c.logger.Printf("lnd: status unavailable: %v", err)
    }
    ttl = statusCacheErr
    if isTimeoutError(err) {
      ttl = statusCacheTimeout
    }
  }

  c.statusMu.Lock()
  c.statusCache = status
  c.statusErr = err
  c.statusCached = true
  c.statusNextFetch = time.Now().Add(ttl)
  c.statusMu.Unlock()

  return status, err
}

func (c *Client) getStatusUncached(ctx context.Context) (Status, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return Status{}, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  var status Status

  infoCtx, infoCancel := context.WithTimeout(ctx, 5*time.Second)
  info, err := client.GetInfo(infoCtx, &lnrpc.GetInfoRequest{})
  infoCancel()
  if err != nil {
    return status, err
  }

  status.SyncedToChain = info.SyncedToChain
  status.SyncedToGraph = info.SyncedToGraph
  status.Alias = info.Alias
  return status, nil
}

// Synced reports whether the node is synced to both chain and graph.
func (c *Client) Synced(ctx context.Context) (bool, error) {
  status, err := c.GetStatus(ctx)
  if err != nil {
    return false, err
  }
  return status.SyncedToChain && status.SyncedToGraph, nil
}

// Alias is the node's own alias as advertised in the graph.
func (c *Client) Alias(ctx context.Context) (string, error) {
  status, err := c.GetStatus(ctx)
  if err != nil {
    return "", err
  }
  return status.Alias, nil
}

// ListChannels returns the open channels, optionally only those with peer.
func (c *Client) ListChannels(ctx context.Context, peer string) ([]ChannelInfo, error) {
  req := &lnrpc.ListChannelsRequest{}
  if peer != "" {
    raw, err := hex.DecodeString(strings.TrimSpace(peer))
    if err != nil {
      return nil, fmt.Errorf("invalid peer pubkey: %w", err)
    }
    req.Peer = raw
  }

  conn, err := c.dial(ctx)
  if err != nil {
    return nil, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.ListChannels(ctx, req)
  if err != nil {
    return nil, err
  }

  channels := make([]ChannelInfo, 0, len(resp.Channels))
  for _, ch := range resp.Channels {
    info := ChannelInfo{
      ChannelPoint: ch.ChannelPoint,
      ChannelID: ch.ChanId,
      RemotePubkey: ch.RemotePubkey,
      LocalDisabled: isLocalChanDisabledFlags(ch.ChanStatusFlags),
    }
    if edge, err := client.GetChanInfo(ctx, &lnrpc.ChanInfoRequest{ChanId: ch.ChanId}); err == nil && edge != nil {
      if policy := localPolicy(edge, ch.RemotePubkey); policy != nil {
        base := policy.FeeBaseMsat
        rate := policy.FeeRateMilliMsat
        inbound := int64(policy.InboundFeeRateMilliMsat)
        timeLock := int64(policy.TimeLockDelta)
        info.BaseFeeMsat = &base
        info.FeeRatePpm = &rate
        info.InboundFeeRatePpm = &inbound
        info.TimeLockDelta = &timeLock
        if policy.Disabled {
          info.LocalDisabled = true
        }
      }
    }
    channels = append(channels, info)
  }
  return channels, nil
}

func (c *Client) GetChannelPolicy(ctx context.Context, channelPoint string) (ChannelPolicy, error) {
  conn, err := c.dial(ctx)
  if err != nil {
    return ChannelPolicy{}, err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)

  channels, err := client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
  if err != nil {
    return ChannelPolicy{}, err
  }

  var selected *lnrpc.Channel
  for _, ch := range channels.Channels {
    if ch.ChannelPoint == channelPoint {
      selected = ch
      break
    }
  }
  if selected == nil {
    return ChannelPolicy{}, errors.New("channel not found")
  }

  edge, err := client.GetChanInfo(ctx, &lnrpc.ChanInfoRequest{ChanId: selected.ChanId})
  if err != nil {
    return ChannelPolicy{}, err
  }
  policy := localPolicy(edge, selected.RemotePubkey)
  if policy == nil {
    return ChannelPolicy{}, errors.New("channel policy unavailable")
  }

  return ChannelPolicy{
    ChannelPoint: channelPoint,
    BaseFeeMsat: policy.FeeBaseMsat,
    FeeRatePpm: policy.FeeRateMilliMsat,
    TimeLockDelta: int64(policy.TimeLockDelta),
    InboundBaseMsat: int64(policy.InboundFeeBaseMsat),
    InboundFeeRatePpm: int64(policy.InboundFeeRateMilliMsat),
  }, nil
}

func (c *Client) UpdateChannelPolicy(ctx context.Context, params UpdateChannelPolicyParams) error {
  req, err := buildPolicyUpdate(params)
  if err != nil {
    return err
  }

  conn, err := c.dial(ctx)
  if err != nil {
    return err
  }
  defer conn.Close()

  client := lnrpc.NewLightningClient(conn)
  resp, err := client.UpdateChannelPolicy(ctx, req)
  if err != nil {
    return err
  }
  if resp != nil && len(resp.FailedUpdates) > 0 {
    failed := resp.FailedUpdates[0]
    return fmt.Errorf("policy update failed: %s", failed.UpdateError)
  }
  return nil
}

func buildPolicyUpdate(params UpdateChannelPolicyParams) (*lnrpc.PolicyUpdateRequest, error) {
  if params.FeeRatePpm < 0 || params.FeeRatePpm > math.MaxUint32 {
    return nil, fmt.Errorf("fee rate out of range")
  }
  timeLock := params.TimeLockDelta
  if timeLock <= 0 {
    timeLock = defaultTimeLockDelta
  }
  req := &lnrpc.PolicyUpdateRequest{
    BaseFeeMsat: params.BaseFeeMsat,
    FeeRatePpm: uint32(params.FeeRatePpm),
    TimeLockDelta: uint32(timeLock),
  }
  if params.InboundEnabled {
    if params.InboundBaseMsat < math.MinInt32 || params.InboundBaseMsat > math.MaxInt32 {
      return nil, fmt.Errorf("inbound base fee out of range")
    }
    if params.InboundFeeRatePpm < math.MinInt32 || params.InboundFeeRatePpm > math.MaxInt32 {
      return nil, fmt.Errorf("inbound fee rate out of range")
    }
    req.InboundFee = &lnrpc.InboundFee{
      BaseFeeMsat: int32(params.InboundBaseMsat),
      FeeRatePpm: int32(params.InboundFeeRatePpm),
    }
  }

  cp, err := parseChannelPoint(params.ChannelPoint)
  if err != nil {
    return nil, err
  }
  req.Scope = &lnrpc.PolicyUpdateRequest_ChanPoint{ChanPoint: cp}
  return req, nil
}

// localPolicy picks our side of a channel edge.
func localPolicy(edge *lnrpc.ChannelEdge, remotePubkey string) *lnrpc.RoutingPolicy {
  if edge == nil {
    return nil
  }
  policy := edge.Node1Policy
  if remotePubkey != "" {
    if edge.Node1Pub == remotePubkey {
      policy = edge.Node2Policy
    } else if edge.Node2Pub == remotePubkey {
      policy = edge.Node1Policy
    }
  }
  return policy
}

func isTimeoutError(err error) bool {
  if err == nil {
    return false
  }
  msg := strings.ToLower(err.Error())
  return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context deadline exceeded")
}

func isLocalChanDisabledFlags(flags string) bool {
  trimmed := strings.TrimSpace(flags)
  if trimmed == "" {
    return false
  }
  normalized := strings.ToLower(trimmed)
  split := func(r rune) bool {
    switch r {
    case '|', ',', ';', ' ':
      return true
    default:
      return false
    }
  }
  tokens := strings.FieldsFunc(normalized, split)
  if len(tokens) == 0 {
    tokens = []string{normalized}
  }
  for _, token := range tokens {
    tok := strings.TrimSpace(token)
    if tok == "" {
      continue
    }
    if strings.Contains(tok, "localchandisabled") || strings.Contains(tok, "local_chan_disabled") {
      return true
    }
    if strings.Contains(tok, "disabled") && !strings.Contains(tok, "remote") {
      if strings.Contains(tok, "local") || strings.Contains(tok, "chanstatusdisabled") || tok == "disabled" {
        return true
      }
    }
  }
  return false
}

func parseChannelPoint(point string) (*lnrpc.ChannelPoint, error) {
  trimmed := strings.TrimSpace(point)
  if trimmed == "" {
    return nil, errors.New("channel_point required")
  }
  parts := strings.Split(trimmed, ":")
  if len(parts) != 2 {
    return nil, errors.New("channel_point must be txid:index")
  }
  idx, err := strconv.ParseUint(parts[1], 10, 32)
  if err != nil {
    return nil, errors.New("invalid channel_point index")
  }
  return &lnrpc.ChannelPoint{
    FundingTxid: &lnrpc.ChannelPoint_FundingTxidStr{FundingTxidStr: parts[0]},
    OutputIndex: uint32(idx),
  }, nil
}

type Status struct {
  SyncedToChain bool `json:"synced_to_chain"`
  SyncedToGraph bool `json:"synced_to_graph"`
  Alias string `json:"alias"`
}

type ChannelInfo struct {
  ChannelPoint string `json:"channel_point"`
  ChannelID uint64 `json:"channel_id"`
  RemotePubkey string `json:"remote_pubkey"`
  // LocalDisabled is set when we have disabled forwarding on our side.
  LocalDisabled bool `json:"local_disabled,omitempty"`
  BaseFeeMsat *int64 `json:"base_fee_msat,omitempty"`
  FeeRatePpm *int64 `json:"fee_rate_ppm,omitempty"`
  InboundFeeRatePpm *int64 `json:"inbound_fee_rate_ppm,omitempty"`
  TimeLockDelta *int64 `json:"time_lock_delta,omitempty"`
}
