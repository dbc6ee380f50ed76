package posts

import (
	"strings"
	"time"
)

const InvalidDate = "Invalid Date"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatDate renders a stored timestamp as an en-US long date, e.g.
// "January 5, 2024". The calendar date is taken as written, without
// converting to local time.
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("January 2, 2006")
		}
	}
	return InvalidDate
}

// ExtractDate returns everything before the first space of a combined
// date-time string.
func ExtractDate(s string) string {
	date, _, _ := strings.Cut(s, " ")
	return date
}
