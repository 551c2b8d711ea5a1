package server

import (
  "encoding/json"
  "errors"
  "io"
  "net/http"
  "strconv"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
  w.Header().Set("Content-Type", "application/json")
  w.WriteHeader(status)
  if payload != nil {
    _ = json.NewEncoder(w).Encode(payload)
  }
}

// readJSON decodes the body into dst. An empty body leaves dst untouched.
func readJSON(r *http.Request, dst any) error {
  dec := json.NewDecoder(r.Body)
  dec.DisallowUnknownFields()
  if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
    return err
  }
  return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
  writeJSON(w, status, map[string]string{"error": message})
}

func parseAutofeeLimit(raw string) int {
  if raw == "" {
    return 200
  }
  v, err := strconv.Atoi(raw)
  if err != nil {
    return 200
  }
  return v
}
