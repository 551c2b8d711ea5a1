package main

import (
  "fmt"
  "io"

  "github.com/dustin/go-humanize"
  "github.com/fatih/color"

  "lightning-autofee/internal/autofee"
)

// printReport renders a finished sweep for the terminal, one color per
// decision category.
func printReport(w io.Writer, report autofee.Report) {
  cyan := color.New(color.FgCyan, color.Bold)
  gray := color.New(color.FgHiBlack)

  if report.RunID == "" {
    color.New(color.FgYellow).Fprintln(w, "Node not synced to chain/graph, sweep skipped")
    return
  }

  fmt.Fprintln(w)
  for _, entry := range report.Entries {
    item := entry.Payload
    if item == nil {
      fmt.Fprintln(w, entry.Line)
      continue
    }
    switch item.Kind {
    case "header":
      cyan.Fprintln(w, entry.Line)
    case "summary":
      fmt.Fprintln(w, entry.Line)
    case "section":
      fmt.Fprintln(w)
    default:
      categoryColor(item.Category).Fprintf(w, "  %s\n", entry.Line)
    }
  }

  s := report.Summary
  fmt.Fprintln(w)
  gray.Fprintf(w, "%s channels evaluated, %s changed, run %s (%s)\n",
    humanize.Comma(int64(s.Total)),
    humanize.Comma(int64(s.Up+s.Down)),
    report.RunID,
    humanize.Time(report.At),
  )
  if report.DryRun {
    color.New(color.FgYellow).Fprintln(w, "Dry run: no fee commands were sent")
  }
}

func categoryColor(category string) *color.Color {
  switch category {
  case "changed":
    return color.New(color.FgGreen)
  case "error":
    return color.New(color.FgRed)
  case "skipped":
    return color.New(color.FgYellow)
  default:
    return color.New(color.FgHiBlack)
  }
}
