package notify

import (
  "context"
  "errors"
  "fmt"
  "io"
  "net/http"
  "net/url"
  "strings"
  "time"

  "golang.org/x/time/rate"

  "lightning-autofee/internal/config"
)

const telegramAPI = "https://api.telegram.org"

var ErrTelegramConfig = errors.New("telegram config missing")

// Telegram posts plain text messages to a single chat. Sends are paced so a
// cycle touching many channels stays under the bot API flood limit.
type Telegram struct {
  token string
  chatID string
  baseURL string
  client *http.Client
  limiter *rate.Limiter
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
  if !cfg.Enabled() {
    return nil, ErrTelegramConfig
  }
  every := time.Duration(cfg.MinIntervalSec) * time.Second
  limit := rate.Inf
  if every > 0 {
    limit = rate.Every(every)
  }
  return &Telegram{
    token: strings.TrimSpace(cfg.BotToken),
    chatID: strings.TrimSpace(cfg.ChatID),
    baseURL: telegramAPI,
    client: &http.Client{Timeout: 15 * time.Second},
    limiter: rate.NewLimiter(limit, 1),
  }, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
  if strings.TrimSpace(text) == "" {
    return errors.New("empty message")
  }
  if err := t.limiter.Wait(ctx); err != nil {
    return err
  }

  form := url.Values{}
  form.Set("chat_id", t.chatID)
  form.Set("text", text)

  endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.baseURL, "/"), t.token)
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
  if err != nil {
    return err
  }
  req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
  resp, err := t.client.Do(req)
  if err != nil {
    return redactToken(err, t.token)
  }
  defer resp.Body.Close()
  body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
  }
  return nil
}

// url.Error carries the endpoint, which has the bot token in its path.
func redactToken(err error, token string) error {
  if token == "" {
    return err
  }
  return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}
