package scene

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"20060102T150405",
}

// ParseTime accepts the timestamp shapes emitted by catalogs and scene names
// (any sub-second precision, "Z" or numeric offsets, compact name stamps) and
// returns the normalised instant. Values without a zone are taken as UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformed)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, value)
}

// Normalize converts t to UTC truncated to microseconds so that equal instants
// reported at different precisions compare equal.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}
