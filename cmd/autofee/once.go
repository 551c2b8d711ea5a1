package main

import (
  "os"

  "github.com/spf13/cobra"
)

var onceDryRun bool

var onceCmd = &cobra.Command{
  Use: "once",
  Short: "Run a single sweep and print the report",
  RunE: func(cmd *cobra.Command, args []string) error {
    ctx := cmd.Context()
    a, err := buildApp(ctx, configPath)
    if err != nil {
      return err
    }
    defer a.Close()

    dryRun := onceDryRun || a.cfg.Autofee.DryRun
    report, err := a.service.Run(ctx, dryRun, "manual")
    if err != nil {
      return err
    }
    printReport(os.Stdout, report)
    return nil
  },
}

func init() {
  onceCmd.Flags().BoolVar(&onceDryRun, "dry-run", false, "Compute and log changes without calling the fee tool")
}
