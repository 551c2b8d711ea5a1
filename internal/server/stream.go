package server

import (
  "encoding/json"
  "net/http"
  "sync"
  "time"

  "github.com/gorilla/websocket"

  "lightning-autofee/internal/autofee"
)

const (
  streamWriteWait = 10 * time.Second
  streamPingEvery = 30 * time.Second
  streamBuffer = 8
)

type streamMessage struct {
  RunID string `json:"run_id"`
  Reason string `json:"reason"`
  DryRun bool `json:"dry_run"`
  At time.Time `json:"at"`
  Summary autofee.LogItem `json:"summary"`
  Lines []string `json:"lines"`
}

type streamClient struct {
  send chan []byte
}

// streamHub fans finished runs out to websocket subscribers. A subscriber
// that falls behind loses messages rather than stalling the fee loop.
type streamHub struct {
  mu sync.Mutex
  clients map[*streamClient]struct{}
}

func newStreamHub() *streamHub {
  return &streamHub{clients: map[*streamClient]struct{}{}}
}

func (h *streamHub) subscribe() *streamClient {
  c := &streamClient{send: make(chan []byte, streamBuffer)}
  h.mu.Lock()
  h.clients[c] = struct{}{}
  h.mu.Unlock()
  return c
}

func (h *streamHub) unsubscribe(c *streamClient) {
  h.mu.Lock()
  defer h.mu.Unlock()
  if _, ok := h.clients[c]; ok {
    delete(h.clients, c)
    close(c.send)
  }
}

func (h *streamHub) closeAll() {
  h.mu.Lock()
  defer h.mu.Unlock()
  for c := range h.clients {
    delete(h.clients, c)
    close(c.send)
  }
}

func (h *streamHub) publish(report autofee.Report) {
  msg := streamMessage{
    RunID: report.RunID,
    Reason: report.Reason,
    DryRun: report.DryRun,
    At: report.At.UTC(),
    Summary: report.Summary,
    Lines: make([]string, 0, len(report.Entries)),
  }
  for _, entry := range report.Entries {
    msg.Lines = append(msg.Lines, entry.Line)
  }
  raw, err := json.Marshal(msg)
  if err != nil {
    return
  }

  h.mu.Lock()
  defer h.mu.Unlock()
  for c := range h.clients {
    select {
    case c.send <- raw:
    default:
    }
  }
}

func (s *Server) handleAutofeeStream(w http.ResponseWriter, r *http.Request) {
  upgrader := websocket.Upgrader{
    CheckOrigin: func(r *http.Request) bool {
      return true
    },
  }
  conn, err := upgrader.Upgrade(w, r, nil)
  if err != nil {
    return
  }
  defer conn.Close()

  client := s.hub.subscribe()
  defer s.hub.unsubscribe(client)

  // drain reads so close frames and pongs are processed
  closed := make(chan struct{})
  go func() {
    defer close(closed)
    for {
      if _, _, err := conn.ReadMessage(); err != nil {
        return
      }
    }
  }()

  ping := time.NewTicker(streamPingEvery)
  defer ping.Stop()
  for {
    select {
    case <-closed:
      return
    case raw, ok := <-client.send:
      if !ok {
        _ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(streamWriteWait))
        return
      }
      _ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
      if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
        return
      }
    case <-ping.C:
      if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
        return
      }
    }
  }
}
