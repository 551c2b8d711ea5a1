package autofee

import (
  "github.com/prometheus/client_golang/prometheus"
)

// Metrics are the fee loop counters exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
  cycles *prometheus.CounterVec
  decisions *prometheus.CounterVec
  commands *prometheus.CounterVec
  cycleSeconds prometheus.Histogram
  channels prometheus.Gauge
  lastCycle prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
  m := &Metrics{
    cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
      Namespace: "autofee",
      Name: "cycles_total",
      Help: "Fee cycles by result.",
    }, []string{"result"}),
    decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
      Namespace: "autofee",
      Name: "decisions_total",
      Help: "Per-channel decisions by tag and outcome.",
    }, []string{"tag", "outcome"}),
    commands: prometheus.NewCounterVec(prometheus.CounterOpts{
      Namespace: "autofee",
      Name: "fee_commands_total",
      Help: "Fee tool invocations by operation and result.",
    }, []string{"op", "result"}),
    cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
      Namespace: "autofee",
      Name: "cycle_duration_seconds",
      Help: "Wall time of one full sweep.",
      Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
    }),
    channels: prometheus.NewGauge(prometheus.GaugeOpts{
      Namespace: "autofee",
      Name: "channels",
      Help: "Channels seen in the last snapshot.",
    }),
    lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
      Namespace: "autofee",
      Name: "last_cycle_timestamp_seconds",
      Help: "Unix time the last cycle finished.",
    }),
  }
  if reg != nil {
    reg.MustRegister(m.cycles, m.decisions, m.commands, m.cycleSeconds, m.channels, m.lastCycle)
  }
  return m
}

func (m *Metrics) cycle(result string, seconds float64, finishedUnix float64) {
  if m == nil {
    return
  }
  m.cycles.WithLabelValues(result).Inc()
  if seconds > 0 {
    m.cycleSeconds.Observe(seconds)
  }
  m.lastCycle.Set(finishedUnix)
}

func (m *Metrics) snapshot(n int) {
  if m == nil {
    return
  }
  m.channels.Set(float64(n))
}

func (m *Metrics) decision(tag Tag, outcome string) {
  if m == nil {
    return
  }
  m.decisions.WithLabelValues(tag.String(), outcome).Inc()
}

func (m *Metrics) command(op string, err error) {
  if m == nil {
    return
  }
  result := "ok"
  if err != nil {
    result = "error"
  }
  m.commands.WithLabelValues(op, result).Inc()
}
