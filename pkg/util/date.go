package util

import (
	"strconv"
	"time"
)

// millisThreshold separates unix seconds from unix milliseconds; 1e11 seconds is the year 5138.
const millisThreshold = 100_000_000_000

// ParseTime accepts RFC3339, RFC3339Nano, unix seconds and unix milliseconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts >= millisThreshold {
			return time.UnixMilli(ts), true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// FromUnix32 converts a report's 32-bit unix seconds field to UTC time.
func FromUnix32(ts uint32) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
