package notify

import (
  "context"
  "errors"

  "go.uber.org/zap"

  "lightning-autofee/internal/config"
)

type Notifier interface {
  Notify(ctx context.Context, text string) error
}

// Log writes every message to the logger. It backs dry setups with no chat
// configured so fee changes still leave a readable trail.
type Log struct {
  logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
  if logger == nil {
    logger = zap.NewNop()
  }
  return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, text string) error {
  l.logger.Info("notification", zap.String("text", text))
  return nil
}

// Multi fans a message out to every notifier and joins the failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
  var errs []error
  for _, n := range m {
    if n == nil {
      continue
    }
    if err := n.Notify(ctx, text); err != nil {
      errs = append(errs, err)
    }
  }
  return errors.Join(errs...)
}

// FromConfig returns the log notifier, plus Telegram when a bot is set up.
func FromConfig(cfg config.TelegramConfig, logger *zap.Logger) Notifier {
  if logger == nil {
    logger = zap.NewNop()
  }
  logNotifier := NewLog(logger.Named("notify"))
  tg, err := NewTelegram(cfg)
  if err != nil {
    return logNotifier
  }
  return Multi{logNotifier, tg}
}
