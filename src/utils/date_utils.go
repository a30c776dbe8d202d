package utils

import (
	"log"
	"time"
)

// TimestampLayout is the storage format for timestamps. Fixed-width UTC so
// that string comparison in SQL matches chronological order.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTime renders t in the storage layout, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a stored timestamp.
// Logs an error and returns zero time if parsing fails.
func ParseTime(s string) time.Time {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		log.Printf("Error parsing timestamp '%s' with format '%s': %v. Returning zero time.", s, TimestampLayout, err)
		return time.Time{}
	}
	return t.UTC()
}

// reportTimeLayouts are the timestamp formats seen across platform CSV
// exports, tried in order.
var reportTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999Z",
	"2006-01-02 15:04:05.999999 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	TimestampLayout,
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
}

// ParseReportTime parses a timestamp from an exported report, accepting the
// formats the supported platforms emit. Layouts without a zone are read as UTC.
func ParseReportTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range reportTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
