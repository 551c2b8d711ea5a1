package config

import (
  "os"
  "path/filepath"
  "testing"
  "time"

  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
  t.Helper()
  path := filepath.Join(t.TempDir(), "config.yaml")
  require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
  return path
}

func TestLoadDefaults(t *testing.T) {
  path := writeConfig(t, "metrics_store:\n  dsn: postgres://x\n")
  cfg, err := Load(path)
  require.NoError(t, err)

  assert.Equal(t, "postgres", cfg.MetricsStore.Driver)
  assert.Equal(t, 7, cfg.MetricsStore.PeriodDays)
  assert.Equal(t, "bos", cfg.FeeTool.Kind)
  assert.Equal(t, 15, cfg.Log.MaxSizeMB)
  assert.Equal(t, 3, cfg.Log.MaxBackups)
  assert.Equal(t, DefaultAutofee(), cfg.Autofee)
  assert.Equal(t, time.Hour, cfg.Autofee.Interval())
}

func TestLoadOverrides(t *testing.T) {
  path := writeConfig(t, `
metrics_store:
  driver: sqlite3
  dsn: /data/lndg/db.sqlite3
  period_days: 30
fee_tool:
  kind: LND
autofee:
  interval_sec: 10
  max_fee_threshold: 1800
  router_factor: 3
  inbound_discount:
    enabled: true
    sink_fraction: 1.5
`)
  cfg, err := Load(path)
  require.NoError(t, err)

  assert.Equal(t, "sqlite", cfg.MetricsStore.Driver)
  assert.Equal(t, 30, cfg.MetricsStore.PeriodDays)
  assert.Equal(t, "lnd", cfg.FeeTool.Kind)
  assert.Equal(t, 60, cfg.Autofee.IntervalSec, "interval is clamped to one minute")
  assert.Equal(t, 1800, cfg.Autofee.MaxFeeThreshold)
  assert.Equal(t, 3.0, cfg.Autofee.RouterFactor)
  assert.True(t, cfg.Autofee.InboundDiscount.Enabled)
  assert.Equal(t, 1.0, cfg.Autofee.InboundDiscount.SinkFraction)
  assert.Equal(t, 0.10, cfg.Autofee.InboundDiscount.RouterFraction)
}

func TestLoadEnvOverride(t *testing.T) {
  t.Setenv("AUTOFEE_AUTOFEE_MAX_FEE_THRESHOLD", "900")
  path := writeConfig(t, "metrics_store:\n  dsn: postgres://x\n")
  cfg, err := Load(path)
  require.NoError(t, err)
  assert.Equal(t, 900, cfg.Autofee.MaxFeeThreshold)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
  path := writeConfig(t, "metrics_store:\n  driver: mysql\n")
  _, err := Load(path)
  require.Error(t, err)
}

func TestValidateRejectsUnknownFeeTool(t *testing.T) {
  path := writeConfig(t, "fee_tool:\n  kind: charge-lnd\n")
  _, err := Load(path)
  require.Error(t, err)
}

func TestResolveStoreDSN(t *testing.T) {
  cfg := &Config{MetricsStore: MetricsStoreConfig{Driver: "postgres"}}
  t.Setenv("NOTIFICATIONS_PG_DSN", "postgres://notify")
  dsn, err := cfg.ResolveStoreDSN()
  require.NoError(t, err)
  assert.Equal(t, "postgres://notify", dsn)

  cfg = &Config{MetricsStore: MetricsStoreConfig{Driver: "sqlite"}}
  _, err = cfg.ResolveStoreDSN()
  require.Error(t, err)
}

func TestTelegramEnabled(t *testing.T) {
  assert.False(t, TelegramConfig{BotToken: "x"}.Enabled())
  assert.True(t, TelegramConfig{BotToken: "x", ChatID: "1"}.Enabled())
}
