package lndclient

import (
  "context"
  "testing"

  "github.com/lightningnetwork/lnd/lnrpc"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"

  "lightning-autofee/internal/config"
)

func TestIsLocalChanDisabledFlags(t *testing.T) {
  tests := []struct {
    name  string
    flags string
    want  bool
  }{
    {name: "empty", flags: "", want: false},
    {name: "local flag", flags: "ChanStatusLocalChanDisabled", want: true},
    {name: "snake local flag", flags: "local_chan_disabled", want: true},
    {name: "generic disabled", flags: "ChanStatusDisabled", want: true},
    {name: "remote disabled", flags: "ChanStatusRemoteChanDisabled", want: false},
    {
      name:  "remote disabled with another local token",
      flags: "ChanStatusLocalCloseInitiator|ChanStatusRemoteChanDisabled",
      want:  false,
    },
    {
      name:  "tokenized local disabled",
      flags: "ChanStatusLocalCloseInitiator|ChanStatusLocalChanDisabled",
      want:  true,
    },
  }

  for _, tc := range tests {
    tc := tc
    t.Run(tc.name, func(t *testing.T) {
      if got := isLocalChanDisabledFlags(tc.flags); got != tc.want {
        t.Fatalf("isLocalChanDisabledFlags(%q) = %v, want %v", tc.flags, got, tc.want)
      }
    })
  }
}

func TestParseChannelPoint(t *testing.T) {
  cp, err := parseChannelPoint(" abcd:1 ")
  if err != nil {
    t.Fatalf("unexpected error: %v", err)
  }
  if cp.GetFundingTxidStr() != "abcd" || cp.OutputIndex != 1 {
    t.Fatalf("unexpected channel point: %v", cp)
  }
  for _, bad := range []string{"", "abcd", "abcd:x", "a:b:c"} {
    if _, err := parseChannelPoint(bad); err == nil {
      t.Fatalf("parseChannelPoint(%q) should fail", bad)
    }
  }
}

func TestLocalPolicy(t *testing.T) {
  ours := &lnrpc.RoutingPolicy{FeeRateMilliMsat: 100}
  theirs := &lnrpc.RoutingPolicy{FeeRateMilliMsat: 900}
  tests := []struct {
    name string
    edge *lnrpc.ChannelEdge
    remote string
    want *lnrpc.RoutingPolicy
  }{
    {name: "we are node1", edge: &lnrpc.ChannelEdge{Node1Pub: "me", Node2Pub: "peer", Node1Policy: ours, Node2Policy: theirs}, remote: "peer", want: ours},
    {name: "we are node2", edge: &lnrpc.ChannelEdge{Node1Pub: "peer", Node2Pub: "me", Node1Policy: theirs, Node2Policy: ours}, remote: "peer", want: ours},
    {name: "unknown remote falls back to node1", edge: &lnrpc.ChannelEdge{Node1Policy: ours, Node2Policy: theirs}, want: ours},
    {name: "nil edge", edge: nil, remote: "peer", want: nil},
  }
  for _, tc := range tests {
    tc := tc
    t.Run(tc.name, func(t *testing.T) {
      if got := localPolicy(tc.edge, tc.remote); got != tc.want {
        t.Fatalf("localPolicy() = %v, want %v", got, tc.want)
      }
    })
  }
}

func TestBuildPolicyUpdate(t *testing.T) {
  req, err := buildPolicyUpdate(UpdateChannelPolicyParams{
    ChannelPoint: "abcd:0",
    BaseFeeMsat: 1000,
    FeeRatePpm: 250,
    InboundEnabled: true,
    InboundFeeRatePpm: -25,
  })
  require.NoError(t, err)
  assert.Equal(t, uint32(250), req.FeeRatePpm)
  assert.Equal(t, int64(1000), req.BaseFeeMsat)
  assert.Equal(t, uint32(144), req.TimeLockDelta)
  require.NotNil(t, req.InboundFee)
  assert.Equal(t, int32(-25), req.InboundFee.FeeRatePpm)
  assert.Equal(t, "abcd", req.GetChanPoint().GetFundingTxidStr())

  req, err = buildPolicyUpdate(UpdateChannelPolicyParams{ChannelPoint: "abcd:0", FeeRatePpm: 10, TimeLockDelta: 80})
  require.NoError(t, err)
  assert.Nil(t, req.InboundFee)
  assert.Equal(t, uint32(80), req.TimeLockDelta)

  _, err = buildPolicyUpdate(UpdateChannelPolicyParams{ChannelPoint: "abcd:0", FeeRatePpm: -1})
  assert.Error(t, err)
  _, err = buildPolicyUpdate(UpdateChannelPolicyParams{ChannelPoint: "abcd:0", InboundEnabled: true, InboundFeeRatePpm: 1 << 40})
  assert.Error(t, err)
  _, err = buildPolicyUpdate(UpdateChannelPolicyParams{FeeRatePpm: 10})
  assert.Error(t, err)
}

func TestClientDialMissingCert(t *testing.T) {
  c := New(config.LNDConfig{GRPCHost: "127.0.0.1:10009", TLSCertPath: "/nonexistent/tls.cert"}, nil)
  _, err := c.Synced(context.Background())
  assert.Error(t, err)
  // cached
  _, err = c.Alias(context.Background())
  assert.Error(t, err)
}
