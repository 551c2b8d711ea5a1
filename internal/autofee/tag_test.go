package autofee

import (
  "testing"

  "lightning-autofee/internal/config"
)

func TestClassify(t *testing.T) {
  c := NewClassifier(config.DefaultAutofee())
  tests := []struct {
    name string
    in int64
    out int64
    days int
    want Tag
  }{
    {name: "idle young channel", in: 0, out: 0, days: 3, want: TagNewChannel},
    {name: "source", in: 300, out: 100, days: 30, want: TagSource},
    {name: "sink", in: 100, out: 300, days: 30, want: TagSink},
    {name: "balanced router", in: 100, out: 150, days: 30, want: TagRouter},
    {name: "equal volumes", in: 500, out: 500, days: 8, want: TagRouter},
    {name: "exactly twice is not a source", in: 200, out: 100, days: 30, want: TagRouter},
    {name: "idle old channel", in: 0, out: 0, days: 30, want: TagRouter},
    {name: "young with traffic falls back", in: 10, out: 0, days: 2, want: TagNewChannel},
    {name: "exactly threshold age", in: 0, out: 0, days: 7, want: TagNewChannel},
    {name: "threshold age with traffic", in: 900, out: 10, days: 7, want: TagNewChannel},
  }

  for _, tc := range tests {
    tc := tc
    t.Run(tc.name, func(t *testing.T) {
      if got := c.Classify(tc.in, tc.out, tc.days); got != tc.want {
        t.Fatalf("Classify(%d, %d, %d) = %s, want %s", tc.in, tc.out, tc.days, got, tc.want)
      }
    })
  }
}

func TestClassifyDeterministic(t *testing.T) {
  c := Classifier{AgeDays: 7, RouterFactor: 2}
  first := c.Classify(1234, 99, 40)
  for i := 0; i < 10; i++ {
    if got := c.Classify(1234, 99, 40); got != first {
      t.Fatalf("run %d: got %s, want %s", i, got, first)
    }
  }
}

func TestParseTag(t *testing.T) {
  for tag, name := range tagNames {
    got, ok := ParseTag(" " + name + " ")
    if !ok || got != tag {
      t.Fatalf("ParseTag(%q) = %v, %v", name, got, ok)
    }
  }
  if _, ok := ParseTag("whale"); ok {
    t.Fatalf("expected unknown tag to fail")
  }
  if TagInvalid.Valid() {
    t.Fatalf("zero tag must not be valid")
  }
  if TagInvalid.String() != "invalid" {
    t.Fatalf("unexpected zero tag name %q", TagInvalid.String())
  }
}
