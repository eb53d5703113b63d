package api

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted for timestamps without a zone offset. Fractional
// seconds after the seconds field parse without being named in the
// layout.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp parses an ISO 8601 query timestamp. URL decoding turns
// the "+" of a zone offset into a space, so spaces are restored to "+"
// before parsing. A timestamp without any zone information is treated
// as UTC.
func parseTimestamp(raw string) (time.Time, error) {
	s := strings.ReplaceAll(raw, " ", "+")
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
