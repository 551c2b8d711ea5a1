package autofee

import (
  "strings"

  "lightning-autofee/internal/config"
)

// Tag is the economic role of a channel, derived every cycle from its
// traffic pattern.
type Tag int

const (
  TagInvalid Tag = iota
  TagNewChannel
  TagSource
  TagSink
  TagRouter
)

var tagNames = map[Tag]string{
  TagNewChannel: "new_channel",
  TagSource: "source",
  TagSink: "sink",
  TagRouter: "router",
}

func (t Tag) String() string {
  if name, ok := tagNames[t]; ok {
    return name
  }
  return "invalid"
}

func (t Tag) Valid() bool {
  _, ok := tagNames[t]
  return ok
}

func ParseTag(raw string) (Tag, bool) {
  value := strings.ToLower(strings.TrimSpace(raw))
  for tag, name := range tagNames {
    if name == value {
      return tag, true
    }
  }
  return TagInvalid, false
}

// Classifier assigns roles. A channel is "new" until it is older than
// AgeDays; afterwards the dominant direction decides, with RouterFactor as
// the imbalance needed to call it a source or a sink.
type Classifier struct {
  AgeDays int
  RouterFactor float64
}

func NewClassifier(cfg config.Autofee) Classifier {
  return Classifier{AgeDays: cfg.NewChannelAgeDays, RouterFactor: cfg.RouterFactor}
}

func (c Classifier) Classify(routedIn, routedOut int64, daysOpen int) Tag {
  in := float64(routedIn)
  out := float64(routedOut)
  switch {
  case routedIn == 0 && routedOut == 0 && daysOpen < c.AgeDays:
    return TagNewChannel
  case in > out*c.RouterFactor && daysOpen > c.AgeDays:
    return TagSource
  case out > in*c.RouterFactor && daysOpen > c.AgeDays:
    return TagSink
  case daysOpen > c.AgeDays:
    return TagRouter
  default:
    // young channels that already moved sats, and channels exactly AgeDays old
    return TagNewChannel
  }
}
