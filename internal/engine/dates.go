package engine

import (
	"strings"
	"time"

	"maintline/internal/apperr"
)

const minuteOffsetLayout = "2006-01-02T15:04Z07:00"

// ParseDate accepts an RFC 3339 instant (Z or offset, optional fraction), the
// same without seconds, or a calendar date taken as UTC midnight. Blank input
// yields nil.
func ParseDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, minuteOffsetLayout} {
		if t, err := time.Parse(layout, trimmed); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	if t, err := time.ParseInLocation(time.DateOnly, trimmed, time.UTC); err == nil {
		return &t, nil
	}
	return nil, apperr.InvalidInput("Invalid date format: %s", trimmed)
}
