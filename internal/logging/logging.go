package logging

import (
  "fmt"
  "log"
  "os"
  "path/filepath"
  "strings"

  "go.uber.org/zap"
  "go.uber.org/zap/zapcore"
  "gopkg.in/natefinch/lumberjack.v2"

  "lightning-autofee/internal/config"
)

// New builds the process logger: human readable lines on stdout and JSON
// lines in a size-rotated file.
func New(cfg config.LogConfig) (*zap.Logger, error) {
  level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
  if err != nil {
    level = zapcore.InfoLevel
  }

  encCfg := zap.NewProductionEncoderConfig()
  encCfg.TimeKey = "ts"
  encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

  consoleCfg := encCfg
  consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

  cores := []zapcore.Core{
    zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
  }

  if path := strings.TrimSpace(cfg.File); path != "" {
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
      return nil, fmt.Errorf("create log dir: %w", err)
    }
    cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator(cfg)), level))
  }

  return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func rotator(cfg config.LogConfig) *lumberjack.Logger {
  size := cfg.MaxSizeMB
  if size <= 0 {
    size = 15
  }
  backups := cfg.MaxBackups
  if backups < 0 {
    backups = 0
  }
  return &lumberjack.Logger{
    Filename: cfg.File,
    MaxSize: size,
    MaxBackups: backups,
  }
}

// Std adapts a zap logger for components that only need Printf.
func Std(logger *zap.Logger, name string) *log.Logger {
  return zap.NewStdLog(logger.Named(name))
}
