package main

import (
  "fmt"
  "os"

  "github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/lightning-autofee/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
  Use: "autofee",
  Short: "Adjust lightning channel fees from routing metrics",
  SilenceUsage: true,
}

func init() {
  rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to config.yaml")
  rootCmd.AddCommand(runCmd, onceCmd)
}

func main() {
  if err := rootCmd.Execute(); err != nil {
    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
    os.Exit(1)
  }
}
