package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseUnixSeconds parses value with a fixed vendor layout, interpreting it in
// UTC, and returns Unix seconds.
func ParseUnixSeconds(layout, value string) (int64, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t.Unix(), nil
}

// InWindow reports whether ts lies in [begin, end]. A zero bound is open.
func InWindow(ts, begin, end int64) bool {
	if begin != 0 && ts < begin {
		return false
	}
	if end != 0 && ts > end {
		return false
	}
	return true
}
