package server

import (
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "net/http"
  "net/http/httptest"
  "strings"
  "testing"
  "time"

  "github.com/gorilla/websocket"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"

  "lightning-autofee/internal/autofee"
  "lightning-autofee/internal/config"
)

type fakeAutofee struct {
  status autofee.Status
  report autofee.Report
  err error
  runs []bool
  hooks []func(autofee.Report)
}

func (f *fakeAutofee) Status() autofee.Status {
  return f.status
}

func (f *fakeAutofee) Run(ctx context.Context, dryRun bool, reason string) (autofee.Report, error) {
  f.runs = append(f.runs, dryRun)
  return f.report, f.err
}

func (f *fakeAutofee) OnReport(fn func(autofee.Report)) {
  f.hooks = append(f.hooks, fn)
}

type fakeLogs struct {
  lines []autofee.LogLine
  limit int
  err error
}

func (f *fakeLogs) RecentLines(ctx context.Context, limit int) ([]autofee.LogLine, error) {
  f.limit = limit
  return f.lines, f.err
}

func sampleReport() autofee.Report {
  return autofee.Report{
    RunID: "run-1",
    Reason: "manual",
    At: time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC),
    Summary: autofee.LogItem{Kind: "summary", Total: 2, Up: 1},
    Entries: []autofee.LogEntry{
      {Line: "⚡ Autofee MANUAL | 2026-05-20T12:00:00Z"},
      {Line: "✅🔺 alice: set 100→150 ppm (+50, 50.0%)"},
    },
  }
}

func newTestServer(svc *fakeAutofee, logs *fakeLogs) *Server {
  return New(config.ServerConfig{}, svc, logs, prometheus.NewRegistry(), nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
  t.Helper()
  req := httptest.NewRequest(method, path, strings.NewReader(body))
  rec := httptest.NewRecorder()
  h.ServeHTTP(rec, req)
  return rec
}

func TestHandleAutofeeStatus(t *testing.T) {
  svc := &fakeAutofee{status: autofee.Status{DryRun: true, IntervalSec: 3600, LastRunID: "r"}}
  rec := do(t, newTestServer(svc, nil).routes(), http.MethodGet, "/api/autofee/status", "")
  require.Equal(t, http.StatusOK, rec.Code)

  var got autofee.Status
  require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
  assert.Equal(t, svc.status, got)
}

func TestHandleAutofeeRun(t *testing.T) {
  tests := []struct {
    name string
    body string
    report autofee.Report
    err error
    wantCode int
    wantDry []bool
  }{
    {name: "manual", body: `{"dry_run":true}`, report: sampleReport(), wantCode: http.StatusOK, wantDry: []bool{true}},
    {name: "empty body", body: "", report: sampleReport(), wantCode: http.StatusOK, wantDry: []bool{false}},
    {name: "bad json", body: `{"dry":1}`, wantCode: http.StatusBadRequest},
    {name: "busy", body: `{}`, err: fmt.Errorf("%w: token held by rebalance", autofee.ErrAlreadyRunning), wantCode: http.StatusConflict, wantDry: []bool{false}},
    {name: "config", body: `{}`, err: &autofee.ConfigError{Op: "read exclusions", Err: errors.New("bad")}, wantCode: http.StatusInternalServerError, wantDry: []bool{false}},
  }
  for _, tc := range tests {
    tc := tc
    t.Run(tc.name, func(t *testing.T) {
      svc := &fakeAutofee{report: tc.report, err: tc.err}
      rec := do(t, newTestServer(svc, nil).routes(), http.MethodPost, "/api/autofee/run", tc.body)
      if rec.Code != tc.wantCode {
        t.Fatalf("expected %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
      }
      assert.Equal(t, tc.wantDry, svc.runs)
    })
  }
}

func TestHandleAutofeeRunBody(t *testing.T) {
  svc := &fakeAutofee{report: sampleReport()}
  rec := do(t, newTestServer(svc, nil).routes(), http.MethodPost, "/api/autofee/run", `{}`)
  require.Equal(t, http.StatusOK, rec.Code)

  var got runResponse
  require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
  assert.True(t, got.OK)
  assert.Equal(t, "run-1", got.RunID)
  require.NotNil(t, got.Summary)
  assert.Equal(t, 2, got.Summary.Total)
  assert.Len(t, got.Lines, 2)

  svc.report = autofee.Report{}
  rec = do(t, newTestServer(svc, nil).routes(), http.MethodPost, "/api/autofee/run", `{}`)
  require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
  assert.True(t, got.Skipped)
}

func TestHandleAutofeeLogs(t *testing.T) {
  at := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
  logs := &fakeLogs{lines: []autofee.LogLine{{OccurredAt: at, Line: "📊 channels 2"}}}
  h := newTestServer(&fakeAutofee{}, logs).routes()

  rec := do(t, h, http.MethodGet, "/api/autofee/logs?lines=25", "")
  require.Equal(t, http.StatusOK, rec.Code)
  assert.Equal(t, 25, logs.limit)
  var got struct {
    Lines []string `json:"lines"`
  }
  require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
  assert.Equal(t, []string{"2026-05-20T12:00:00Z | 📊 channels 2"}, got.Lines)

  do(t, h, http.MethodGet, "/api/autofee/logs?lines=abc", "")
  assert.Equal(t, 200, logs.limit)

  logs.err = errors.New("db down")
  rec = do(t, h, http.MethodGet, "/api/autofee/logs", "")
  assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnavailable(t *testing.T) {
  h := New(config.ServerConfig{}, nil, nil, prometheus.NewRegistry(), nil).routes()
  assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/autofee/status", "").Code)
  assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/autofee/run", "").Code)
  assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/autofee/logs", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
  reg := prometheus.NewRegistry()
  autofee.NewMetrics(reg)
  h := New(config.ServerConfig{}, &fakeAutofee{}, nil, reg, nil).routes()
  rec := do(t, h, http.MethodGet, "/metrics", "")
  require.Equal(t, http.StatusOK, rec.Code)
  assert.Contains(t, rec.Body.String(), "autofee_channels")
}

func TestStreamPublishesReports(t *testing.T) {
  svc := &fakeAutofee{}
  s := newTestServer(svc, nil)
  require.Len(t, svc.hooks, 1)

  srv := httptest.NewServer(s.routes())
  defer srv.Close()

  wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/autofee/stream"
  conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
  require.NoError(t, err)
  defer conn.Close()

  require.Eventually(t, func() bool {
    s.hub.mu.Lock()
    defer s.hub.mu.Unlock()
    return len(s.hub.clients) == 1
  }, 2*time.Second, 10*time.Millisecond)

  svc.hooks[0](sampleReport())

  require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
  var msg streamMessage
  require.NoError(t, conn.ReadJSON(&msg))
  assert.Equal(t, "run-1", msg.RunID)
  assert.Equal(t, "manual", msg.Reason)
  assert.Equal(t, 1, msg.Summary.Up)
  assert.Len(t, msg.Lines, 2)
}

func TestStreamHubDropsSlowClients(t *testing.T) {
  h := newStreamHub()
  c := h.subscribe()
  for i := 0; i < streamBuffer+3; i++ {
    h.publish(sampleReport())
  }
  assert.Len(t, c.send, streamBuffer)

  h.unsubscribe(c)
  h.unsubscribe(c)
  _, ok := <-drain(c.send)
  assert.False(t, ok)
}

func drain(ch chan []byte) chan []byte {
  for len(ch) > 0 {
    <-ch
  }
  return ch
}
