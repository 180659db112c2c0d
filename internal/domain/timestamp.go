package domain

import (
	"errors"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
}

// ParseTimestamp accepts the timestamp forms the backend emits: RFC 3339 and
// the local "YYYY-MM-DD hh:mm:ss" form. Zone-less values are read as local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for i, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp " + s)
}

// FormatLocalTimestamp renders t as "YYYY-MM-DD hh:mm:ss" in local time,
// the form the backend stores for sent messages.
func FormatLocalTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
