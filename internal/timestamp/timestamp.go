// Package timestamp provides a monotonically comparable UTC instant that
// round-trips through YAML as text.
package timestamp

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// layouts are tried in order when parsing a stored timestamp. RFC3339 is the
// canonical form this package writes; the others accept config files hand
// edited or produced by older versions of the tool.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Timestamp is a wall-clock UTC instant with total ordering.
type Timestamp struct {
	t time.Time
}

// Now returns the current instant, truncated to UTC.
func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

// Zero reports whether this is the zero-value timestamp.
func (ts Timestamp) Zero() bool {
	return ts.t.IsZero()
}

// After reports whether ts is strictly after other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.t.After(other.t)
}

// Before reports whether ts is strictly before other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts.t.Before(other.t)
}

// Equal reports whether ts and other represent the same instant.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.t.Equal(other.t)
}

// Time returns the underlying time.Time, in UTC.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// String renders the timestamp in RFC3339Nano form.
func (ts Timestamp) String() string {
	return ts.t.UTC().Format(time.RFC3339Nano)
}

// MarshalYAML renders the timestamp as an RFC3339Nano string.
func (ts Timestamp) MarshalYAML() (interface{}, error) {
	return ts.String(), nil
}

// UnmarshalYAML parses a timestamp from any of the accepted layouts,
// reporting a codec error if none match.
func (ts *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// Parse parses s against the accepted timestamp layouts.
func Parse(s string) (Timestamp, error) {
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t: t.UTC()}, nil
		} else {
			lastErr = err
		}
	}
	return Timestamp{}, fmt.Errorf("parsing timestamp %q: %w", s, lastErr)
}
