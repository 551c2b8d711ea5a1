package autofee

import (
  "errors"
  "fmt"
  "strings"
)

var (
  ErrAlreadyRunning = errors.New("autofee already running")
  ErrUnknownTag = errors.New("unknown channel tag")
)

// DataError marks a single channel row that cannot be evaluated. The cycle
// skips the channel and moves on.
type DataError struct {
  ChanID string
  Fields []string
}

func (e *DataError) Error() string {
  return fmt.Sprintf("channel %s: missing %s", e.ChanID, strings.Join(e.Fields, ", "))
}

// ConfigError aborts the whole cycle; the next scheduled cycle retries.
type ConfigError struct {
  Op string
  Err error
}

func (e *ConfigError) Error() string {
  return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
  return e.Err
}

// ExternalCallError is a failed fee tool or notification call. The channel
// keeps its current fee until a later cycle.
type ExternalCallError struct {
  Op string
  Peer string
  Err error
}

func (e *ExternalCallError) Error() string {
  if e.Peer == "" {
    return fmt.Sprintf("%s: %v", e.Op, e.Err)
  }
  return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
  return e.Err
}

func IsConfigError(err error) bool {
  var target *ConfigError
  return errors.As(err, &target)
}
