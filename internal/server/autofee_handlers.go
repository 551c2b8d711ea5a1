package server

import (
  "context"
  "errors"
  "net/http"
  "time"

  "lightning-autofee/internal/autofee"
)

func (s *Server) handleAutofeeStatus(w http.ResponseWriter, r *http.Request) {
  if s.autofee == nil {
    writeError(w, http.StatusServiceUnavailable, "autofee unavailable")
    return
  }
  writeJSON(w, http.StatusOK, s.autofee.Status())
}

type runResponse struct {
  OK bool `json:"ok"`
  RunID string `json:"run_id,omitempty"`
  DryRun bool `json:"dry_run"`
  Skipped bool `json:"skipped,omitempty"`
  Summary *autofee.LogItem `json:"summary,omitempty"`
  Lines []string `json:"lines"`
}

func (s *Server) handleAutofeeRun(w http.ResponseWriter, r *http.Request) {
  if s.autofee == nil {
    writeError(w, http.StatusServiceUnavailable, "autofee unavailable")
    return
  }
  var req struct {
    DryRun bool `json:"dry_run"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid json")
    return
  }

  ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
  defer cancel()

  report, err := s.autofee.Run(ctx, req.DryRun, "manual")
  if err != nil {
    if errors.Is(err, autofee.ErrAlreadyRunning) {
      writeError(w, http.StatusConflict, err.Error())
      return
    }
    writeError(w, http.StatusInternalServerError, err.Error())
    return
  }

  resp := runResponse{OK: true, DryRun: req.DryRun, Lines: []string{}}
  if report.RunID == "" {
    // node not synced, nothing evaluated
    resp.Skipped = true
    writeJSON(w, http.StatusOK, resp)
    return
  }
  resp.RunID = report.RunID
  summary := report.Summary
  resp.Summary = &summary
  for _, entry := range report.Entries {
    resp.Lines = append(resp.Lines, entry.Line)
  }
  writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAutofeeLogs(w http.ResponseWriter, r *http.Request) {
  if s.logs == nil {
    writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
    return
  }
  limit := parseAutofeeLimit(r.URL.Query().Get("lines"))

  ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
  defer cancel()

  rows, err := s.logs.RecentLines(ctx, limit)
  if err != nil {
    writeError(w, http.StatusInternalServerError, err.Error())
    return
  }
  lines := make([]string, 0, len(rows))
  for _, row := range rows {
    lines = append(lines, row.OccurredAt.UTC().Format(time.RFC3339)+" | "+row.Line)
  }
  writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}
