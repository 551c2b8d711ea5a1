package main

import (
  "context"
  "os"
  "os/signal"
  "syscall"

  "github.com/spf13/cobra"
  "go.uber.org/zap"
  "golang.org/x/sync/errgroup"

  "lightning-autofee/internal/logging"
  "lightning-autofee/internal/server"
)

var runCycles int

var runCmd = &cobra.Command{
  Use: "run",
  Short: "Run the fee loop on its interval",
  Long: `Run sweeps every channel once per configured interval until stopped.
With --cycles N it stops after N sweeps. The status API is served alongside
when server.enabled is set.`,
  RunE: func(cmd *cobra.Command, args []string) error {
    ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    a, err := buildApp(ctx, configPath)
    if err != nil {
      return err
    }
    defer a.Close()
    return a.run(ctx, stop, runCycles)
  },
}

func init() {
  runCmd.Flags().IntVar(&runCycles, "cycles", 0, "Stop after N cycles (0 runs forever)")
}

func (a *app) run(ctx context.Context, stop context.CancelFunc, cycles int) error {
  g, gctx := errgroup.WithContext(ctx)

  g.Go(func() error {
    if err := a.exclusions.Watch(gctx); err != nil {
      // polling on every cycle still picks up edits
      a.logger.Warn("exclusion watch disabled", zap.Error(err))
    }
    return nil
  })

  if a.cfg.Server.Enabled {
    srv := server.New(a.cfg.Server, a.service, a.audit, a.registry, logging.Std(a.logger, "http"))
    g.Go(func() error {
      return srv.Run(gctx)
    })
  }

  g.Go(func() error {
    if cycles > 0 {
      err := a.service.RunCycles(gctx, cycles)
      stop()
      return err
    }
    a.logger.Info("autofee scheduler started", zap.Int("interval_sec", a.cfg.Autofee.IntervalSec), zap.Bool("dry_run", a.cfg.Autofee.DryRun))
    a.service.Start()
    <-gctx.Done()
    a.service.Stop()
    return nil
  })

  return g.Wait()
}
