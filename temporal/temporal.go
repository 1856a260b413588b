// Package temporal implements date/timestamp encode-on-write and
// hydrate-on-read normalization: two independent kinds (date, timestamp),
// each with a string or native Go mode, plus a defaultNow() factory.
package temporal

import (
	"fmt"
	"time"
)

// Kind distinguishes a calendar day from an instant.
type Kind int

const (
	Date Kind = iota
	Timestamp
)

// Mode selects the column's read/write representation.
type Mode int

const (
	// ModeString stores/reads YYYY-MM-DD (Date) or RFC3339 (Timestamp).
	ModeString Mode = iota
	// ModeNative reads time.Time (Date truncated to day, Timestamp full
	// instant); Date is stored as time.Time and Timestamp as epoch milliseconds.
	ModeNative
)

const dateLayout = "2006-01-02"

// Column carries the declared kind/mode for one column, used by both the
// schema column builder and the mutation/query pipelines to normalize values
// at the storage boundary.
type Column struct {
	Kind Kind
	Mode Mode
}

// DefaultNow returns a factory value producing the current instant in the
// column's storage representation. schema.Column.DefaultNow takes its own
// factory and does not call this.
func (c Column) DefaultNow(now time.Time) any {
	return c.Encode(now)
}

// Encode converts a native Go value (time.Time, or an already-encoded
// string/int64) to the column's stored representation.
func (c Column) Encode(value any) any {
	t, ok := asTime(value)
	if !ok {
		// Already encoded (string date, epoch millis) — pass through.
		return value
	}
	switch c.Kind {
	case Date:
		switch c.Mode {
		case ModeString:
			return t.Format(dateLayout)
		default:
			return t.Truncate(24 * time.Hour)
		}
	default: // Timestamp
		switch c.Mode {
		case ModeString:
			return t.UTC().Format(time.RFC3339Nano)
		default:
			return t.UnixMilli()
		}
	}
}

// Hydrate converts a stored value back to the column's declared mode on
// read.
func (c Column) Hydrate(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch c.Kind {
	case Date:
		switch c.Mode {
		case ModeString:
			if s, ok := stored.(string); ok {
				return s, nil
			}
			if t, ok := asTime(stored); ok {
				return t.Format(dateLayout), nil
			}
		default:
			if t, ok := asTime(stored); ok {
				return t, nil
			}
			if s, ok := stored.(string); ok {
				t, err := time.Parse(dateLayout, s)
				if err != nil {
					return nil, fmt.Errorf("temporal: invalid stored date %q: %w", s, err)
				}
				return t, nil
			}
		}
	default: // Timestamp
		switch c.Mode {
		case ModeString:
			if s, ok := stored.(string); ok {
				return s, nil
			}
			if ms, ok := asMillis(stored); ok {
				return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano), nil
			}
		default:
			if ms, ok := asMillis(stored); ok {
				return time.UnixMilli(ms), nil
			}
			if s, ok := stored.(string); ok {
				t, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, fmt.Errorf("temporal: invalid stored timestamp %q: %w", s, err)
				}
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("temporal: cannot hydrate value of type %T", stored)
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func asMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
