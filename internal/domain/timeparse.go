package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidDate is returned by ParseTime for unrecognised date strings.
var ErrInvalidDate = errors.New("invalid date")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	DateLayout,
}

// ParseTime accepts RFC 3339 timestamps, zone-less date-times (read as UTC)
// and plain calendar dates.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}
