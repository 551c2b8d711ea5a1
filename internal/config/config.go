package config

import (
  "errors"
  "fmt"
  "os"
  "strings"
  "time"

  "github.com/spf13/viper"
)

type Config struct {
  NodeAlias string `mapstructure:"node_alias"`
  Log LogConfig `mapstructure:"log"`
  Server ServerConfig `mapstructure:"server"`
  LND LNDConfig `mapstructure:"lnd"`
  MetricsStore MetricsStoreConfig `mapstructure:"metrics_store"`
  Exclusion ExclusionConfig `mapstructure:"exclusion"`
  FeeTool FeeToolConfig `mapstructure:"fee_tool"`
  Telegram TelegramConfig `mapstructure:"telegram"`
  Autofee Autofee `mapstructure:"autofee"`
}

type LogConfig struct {
  Level string `mapstructure:"level"`
  File string `mapstructure:"file"`
  MaxSizeMB int `mapstructure:"max_size_mb"`
  MaxBackups int `mapstructure:"max_backups"`
}

type ServerConfig struct {
  Enabled bool `mapstructure:"enabled"`
  Host string `mapstructure:"host"`
  Port int `mapstructure:"port"`
  TLSCert string `mapstructure:"tls_cert"`
  TLSKey string `mapstructure:"tls_key"`
}

type LNDConfig struct {
  GRPCHost string `mapstructure:"grpc_host"`
  TLSCertPath string `mapstructure:"tls_cert_path"`
  AdminMacaroonPath string `mapstructure:"admin_macaroon_path"`
}

// MetricsStoreConfig points at the database the stats collector fills.
// Driver is "postgres" or "sqlite".
type MetricsStoreConfig struct {
  Driver string `mapstructure:"driver"`
  DSN string `mapstructure:"dsn"`
  PeriodDays int `mapstructure:"period_days"`
}

type ExclusionConfig struct {
  Path string `mapstructure:"path"`
}

// FeeToolConfig selects how fee commands reach the node: "bos" or "lnd".
type FeeToolConfig struct {
  Kind string `mapstructure:"kind"`
  BosPath string `mapstructure:"bos_path"`
  TimeoutSec int `mapstructure:"timeout_sec"`
}

type TelegramConfig struct {
  BotToken string `mapstructure:"bot_token"`
  ChatID string `mapstructure:"chat_id"`
  MinIntervalSec int `mapstructure:"min_interval_sec"`
}

func (t TelegramConfig) Enabled() bool {
  return strings.TrimSpace(t.BotToken) != "" && strings.TrimSpace(t.ChatID) != ""
}

type Autofee struct {
  IntervalSec int `mapstructure:"interval_sec"`
  DryRun bool `mapstructure:"dry_run"`

  NewChannelAgeDays int `mapstructure:"new_channel_age_days"`
  RouterFactor float64 `mapstructure:"router_factor"`

  MaxFeeThreshold int `mapstructure:"max_fee_threshold"`
  MinDeltaPct float64 `mapstructure:"min_delta_pct"`

  NewChannelMinDays int `mapstructure:"new_channel_min_days"`
  NewChannelIncreasePct int `mapstructure:"new_channel_increase_pct"`
  NewChannelDecreasePct int `mapstructure:"new_channel_decrease_pct"`

  SinkCeilingPpm int `mapstructure:"sink_ceiling_ppm"`
  RouterCeilingPpm int `mapstructure:"router_ceiling_ppm"`
  SinkStaleRebalanceDays int `mapstructure:"sink_stale_rebalance_days"`
  RouterStaleRebalanceDays int `mapstructure:"router_stale_rebalance_days"`
  CeilingOutboundPct float64 `mapstructure:"ceiling_outbound_pct"`
  RecentRebalanceHours float64 `mapstructure:"recent_rebalance_hours"`
  FreeRebalanceFeePpm int `mapstructure:"free_rebalance_fee_ppm"`
  LowCostPpm int `mapstructure:"low_cost_ppm"`
  LowOutboundPct float64 `mapstructure:"low_outbound_pct"`
  RebalanceStaleHours float64 `mapstructure:"rebalance_stale_hours"`
  OutgoingIdleHours float64 `mapstructure:"outgoing_idle_hours"`
  IncreasePpm int `mapstructure:"increase_ppm"`
  SinkIncreasePpm int `mapstructure:"sink_increase_ppm"`
  DecreasePpm int `mapstructure:"decrease_ppm"`
  FloorMarginPct int `mapstructure:"floor_margin_pct"`

  SourceFeePpm int `mapstructure:"source_fee_ppm"`

  InboundDiscount InboundDiscount `mapstructure:"inbound_discount"`
}

type InboundDiscount struct {
  Enabled bool `mapstructure:"enabled"`
  SinkFraction float64 `mapstructure:"sink_fraction"`
  RouterFraction float64 `mapstructure:"router_fraction"`
}

func (a Autofee) Interval() time.Duration {
  return time.Duration(a.IntervalSec) * time.Second
}

const (
  minIntervalSec = 60
  maxIntervalSec = 24 * 60 * 60
)

// Load reads path (yaml) on top of the built-in defaults. Environment
// variables prefixed with AUTOFEE_ override file values.
func Load(path string) (*Config, error) {
  v := viper.New()
  setDefaults(v)
  v.SetEnvPrefix("AUTOFEE")
  v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
  v.AutomaticEnv()

  if strings.TrimSpace(path) != "" {
    v.SetConfigFile(path)
    v.SetConfigType("yaml")
    if err := v.ReadInConfig(); err != nil {
      var notFound viper.ConfigFileNotFoundError
      if !errors.As(err, &notFound) && !os.IsNotExist(err) {
        return nil, fmt.Errorf("read config: %w", err)
      }
    }
  }

  var cfg Config
  if err := v.Unmarshal(&cfg); err != nil {
    return nil, fmt.Errorf("decode config: %w", err)
  }
  if err := cfg.Validate(); err != nil {
    return nil, err
  }
  return &cfg, nil
}

func setDefaults(v *viper.Viper) {
  v.SetDefault("log.level", "info")
  v.SetDefault("log.file", "/var/log/lightning-autofee/autofee.log")
  v.SetDefault("log.max_size_mb", 15)
  v.SetDefault("log.max_backups", 3)

  v.SetDefault("server.enabled", true)
  v.SetDefault("server.host", "127.0.0.1")
  v.SetDefault("server.port", 8787)

  v.SetDefault("lnd.grpc_host", "127.0.0.1:10009")
  v.SetDefault("lnd.tls_cert_path", "/home/admin/.lnd/tls.cert")
  v.SetDefault("lnd.admin_macaroon_path", "/home/admin/.lnd/data/chain/bitcoin/mainnet/admin.macaroon")

  v.SetDefault("metrics_store.driver", "postgres")
  v.SetDefault("metrics_store.period_days", 7)

  v.SetDefault("exclusion.path", "/etc/lightning-autofee/exclude.json")

  v.SetDefault("fee_tool.kind", "bos")
  v.SetDefault("fee_tool.bos_path", "bos")
  v.SetDefault("fee_tool.timeout_sec", 60)

  v.SetDefault("telegram.min_interval_sec", 1)

  d := DefaultAutofee()
  v.SetDefault("autofee.interval_sec", d.IntervalSec)
  v.SetDefault("autofee.dry_run", d.DryRun)
  v.SetDefault("autofee.new_channel_age_days", d.NewChannelAgeDays)
  v.SetDefault("autofee.router_factor", d.RouterFactor)
  v.SetDefault("autofee.max_fee_threshold", d.MaxFeeThreshold)
  v.SetDefault("autofee.min_delta_pct", d.MinDeltaPct)
  v.SetDefault("autofee.new_channel_min_days", d.NewChannelMinDays)
  v.SetDefault("autofee.new_channel_increase_pct", d.NewChannelIncreasePct)
  v.SetDefault("autofee.new_channel_decrease_pct", d.NewChannelDecreasePct)
  v.SetDefault("autofee.sink_ceiling_ppm", d.SinkCeilingPpm)
  v.SetDefault("autofee.router_ceiling_ppm", d.RouterCeilingPpm)
  v.SetDefault("autofee.sink_stale_rebalance_days", d.SinkStaleRebalanceDays)
  v.SetDefault("autofee.router_stale_rebalance_days", d.RouterStaleRebalanceDays)
  v.SetDefault("autofee.ceiling_outbound_pct", d.CeilingOutboundPct)
  v.SetDefault("autofee.recent_rebalance_hours", d.RecentRebalanceHours)
  v.SetDefault("autofee.free_rebalance_fee_ppm", d.FreeRebalanceFeePpm)
  v.SetDefault("autofee.low_cost_ppm", d.LowCostPpm)
  v.SetDefault("autofee.low_outbound_pct", d.LowOutboundPct)
  v.SetDefault("autofee.rebalance_stale_hours", d.RebalanceStaleHours)
  v.SetDefault("autofee.outgoing_idle_hours", d.OutgoingIdleHours)
  v.SetDefault("autofee.increase_ppm", d.IncreasePpm)
  v.SetDefault("autofee.sink_increase_ppm", d.SinkIncreasePpm)
  v.SetDefault("autofee.decrease_ppm", d.DecreasePpm)
  v.SetDefault("autofee.floor_margin_pct", d.FloorMarginPct)
  v.SetDefault("autofee.source_fee_ppm", d.SourceFeePpm)
  v.SetDefault("autofee.inbound_discount.enabled", d.InboundDiscount.Enabled)
  v.SetDefault("autofee.inbound_discount.sink_fraction", d.InboundDiscount.SinkFraction)
  v.SetDefault("autofee.inbound_discount.router_fraction", d.InboundDiscount.RouterFraction)
}

// DefaultAutofee returns the tuning used when nothing is configured.
func DefaultAutofee() Autofee {
  return Autofee{
    IntervalSec: 3600,
    NewChannelAgeDays: 7,
    RouterFactor: 2,
    MaxFeeThreshold: 2500,
    MinDeltaPct: 0.5,
    NewChannelMinDays: 1,
    NewChannelIncreasePct: 10,
    NewChannelDecreasePct: 5,
    SinkCeilingPpm: 2500,
    RouterCeilingPpm: 1500,
    SinkStaleRebalanceDays: 21,
    RouterStaleRebalanceDays: 5,
    CeilingOutboundPct: 10,
    RecentRebalanceHours: 24,
    FreeRebalanceFeePpm: 100,
    LowCostPpm: 100,
    LowOutboundPct: 15,
    RebalanceStaleHours: 12,
    OutgoingIdleHours: 12,
    IncreasePpm: 50,
    SinkIncreasePpm: 100,
    DecreasePpm: 15,
    FloorMarginPct: 20,
    SourceFeePpm: 10,
    InboundDiscount: InboundDiscount{
      Enabled: false,
      SinkFraction: 0.25,
      RouterFraction: 0.10,
    },
  }
}

func (c *Config) Validate() error {
  switch strings.ToLower(strings.TrimSpace(c.MetricsStore.Driver)) {
  case "postgres", "postgresql", "pg":
    c.MetricsStore.Driver = "postgres"
  case "sqlite", "sqlite3":
    c.MetricsStore.Driver = "sqlite"
  default:
    return fmt.Errorf("metrics_store.driver %q not supported", c.MetricsStore.Driver)
  }
  if c.MetricsStore.PeriodDays <= 0 {
    return errors.New("metrics_store.period_days must be positive")
  }

  switch strings.ToLower(strings.TrimSpace(c.FeeTool.Kind)) {
  case "bos":
    c.FeeTool.Kind = "bos"
  case "lnd":
    c.FeeTool.Kind = "lnd"
  default:
    return fmt.Errorf("fee_tool.kind %q not supported", c.FeeTool.Kind)
  }
  if c.FeeTool.TimeoutSec <= 0 {
    c.FeeTool.TimeoutSec = 60
  }

  a := &c.Autofee
  if a.IntervalSec < minIntervalSec {
    a.IntervalSec = minIntervalSec
  }
  if a.IntervalSec > maxIntervalSec {
    a.IntervalSec = maxIntervalSec
  }
  if a.NewChannelAgeDays < 0 {
    return errors.New("autofee.new_channel_age_days must be >= 0")
  }
  if a.RouterFactor <= 0 {
    return errors.New("autofee.router_factor must be positive")
  }
  if a.MaxFeeThreshold <= 0 {
    return errors.New("autofee.max_fee_threshold must be positive")
  }
  if a.MinDeltaPct < 0 {
    a.MinDeltaPct = 0
  }
  a.InboundDiscount.SinkFraction = clampFraction(a.InboundDiscount.SinkFraction)
  a.InboundDiscount.RouterFraction = clampFraction(a.InboundDiscount.RouterFraction)
  return nil
}

func clampFraction(v float64) float64 {
  if v < 0 {
    return 0
  }
  if v > 1 {
    return 1
  }
  return v
}

// ResolveStoreDSN falls back to NOTIFICATIONS_PG_DSN for postgres stores,
// matching the node manager deployment.
func (c *Config) ResolveStoreDSN() (string, error) {
  dsn := strings.TrimSpace(c.MetricsStore.DSN)
  if dsn == "" && c.MetricsStore.Driver == "postgres" {
    dsn = strings.TrimSpace(os.Getenv("NOTIFICATIONS_PG_DSN"))
  }
  if dsn == "" {
    return "", errors.New("metrics_store.dsn not set")
  }
  return dsn, nil
}
