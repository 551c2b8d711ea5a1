package server

import (
  "context"
  "crypto/tls"
  "errors"
  "fmt"
  "io"
  "log"
  "net/http"
  "strings"
  "time"

  "github.com/go-chi/chi/v5"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/prometheus/client_golang/prometheus/promhttp"

  "lightning-autofee/internal/autofee"
  "lightning-autofee/internal/config"
)

type autofeeRunner interface {
  Status() autofee.Status
  Run(ctx context.Context, dryRun bool, reason string) (autofee.Report, error)
  OnReport(fn func(autofee.Report))
}

type logReader interface {
  RecentLines(ctx context.Context, limit int) ([]autofee.LogLine, error)
}

// Server exposes the fee loop over HTTP: status, manual runs, the stored run
// log, a live stream of finished runs and prometheus metrics.
type Server struct {
  cfg config.ServerConfig
  logger *log.Logger
  autofee autofeeRunner
  logs logReader
  gatherer prometheus.Gatherer
  hub *streamHub
}

func New(cfg config.ServerConfig, svc autofeeRunner, logs logReader, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
  if gatherer == nil {
    gatherer = prometheus.DefaultGatherer
  }
  if logger == nil {
    logger = log.New(io.Discard, "", 0)
  }
  s := &Server{
    cfg: cfg,
    logger: logger,
    autofee: svc,
    logs: logs,
    gatherer: gatherer,
    hub: newStreamHub(),
  }
  if svc != nil {
    svc.OnReport(s.hub.publish)
  }
  return s
}

func (s *Server) routes() http.Handler {
  r := chi.NewRouter()
  r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
  })
  r.Route("/api/autofee", func(api chi.Router) {
    api.Get("/status", s.handleAutofeeStatus)
    api.Post("/run", s.handleAutofeeRun)
    api.Get("/logs", s.handleAutofeeLogs)
    api.Get("/stream", s.handleAutofeeStream)
  })
  r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
    ErrorHandling: promhttp.ContinueOnError,
  }))
  return r
}

// Run serves until ctx is done, then shuts down gracefully. TLS is used when
// both cert and key are configured.
func (s *Server) Run(ctx context.Context) error {
  addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
  useTLS := strings.TrimSpace(s.cfg.TLSCert) != "" && strings.TrimSpace(s.cfg.TLSKey) != ""

  httpServer := &http.Server{
    Addr: addr,
    Handler: s.routes(),
    ReadHeaderTimeout: 10 * time.Second,
    TLSConfig: &tls.Config{
      MinVersion: tls.VersionTLS12,
    },
  }

  errCh := make(chan error, 1)
  go func() {
    var err error
    if useTLS {
      s.logger.Printf("listening on https://%s", addr)
      err = httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
    } else {
      s.logger.Printf("listening on http://%s", addr)
      err = httpServer.ListenAndServe()
    }
    errCh <- err
  }()

  select {
  case err := <-errCh:
    if errors.Is(err, http.ErrServerClosed) {
      return nil
    }
    return err
  case <-ctx.Done():
  }

  s.hub.closeAll()
  shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
  defer cancel()
  if err := httpServer.Shutdown(shutdownCtx); err != nil {
    return err
  }
  return nil
}
