package domain

import (
	"math"
	"time"
)

// Millis is an instant in epoch milliseconds (UTC). Zero means the value is absent.
type Millis int64

const (
	// Forever is an upper bound for point-in-time queries that should see every row.
	Forever Millis = math.MaxInt64
	// DayMillis is one calendar day.
	DayMillis Millis = 24 * 60 * 60 * 1000
)

// MillisOf converts a time to Millis.
func MillisOf(t time.Time) Millis {
	if t.IsZero() {
		return 0
	}
	return Millis(t.UnixMilli())
}

// Now returns the current instant.
func Now() Millis {
	return MillisOf(time.Now())
}

// Time returns the UTC time for m.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// IsZero reports whether the value is absent.
func (m Millis) IsZero() bool {
	return m == 0
}

// Day truncates m to UTC midnight.
func (m Millis) Day() Millis {
	if m <= 0 {
		return m
	}
	return m - m%DayMillis
}

// Days converts a duration in milliseconds to whole days, rounding to nearest.
func (m Millis) Days() int {
	return int(math.Round(float64(m) / float64(DayMillis)))
}

// String renders m as an ISO-8601 timestamp, or an empty string when absent.
func (m Millis) String() string {
	if m == 0 {
		return ""
	}
	return m.Time().Format(ISOLayout)
}

// ISOLayout matches JavaScript's Date.toISOString output.
const ISOLayout = "2006-01-02T15:04:05.000Z"
