package model

import "time"

const (
	// APIDateLayout is the wire timestamp format, yyyy-MM-dd'T'HH:mm:ssZ.
	// UTC is written as +0000, never as Z.
	APIDateLayout = "2006-01-02T15:04:05-0700"

	// parseDateLayout also accepts a literal Z for UTC.
	parseDateLayout = "2006-01-02T15:04:05Z0700"

	// VisibleDateLayout is the looser format shown to users.
	VisibleDateLayout = "2006-01-02"
)

// ParseAPIDate parses a wire timestamp. RFC 3339 (with a colon in the
// offset) is accepted as well. Anything else yields the zero time.
func ParseAPIDate(s string) time.Time {
	if t, err := time.Parse(parseDateLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// FormatAPIDate formats t for the wire.
func FormatAPIDate(t time.Time) string {
	return t.Format(APIDateLayout)
}

// FormatVisibleDate formats t for display, or "" for the zero time.
func FormatVisibleDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(VisibleDateLayout)
}
