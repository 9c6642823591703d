package domain

import (
	"strings"
	"time"
)

// timespanLayouts are the localized date formats municipal sources use,
// most specific first. All are interpreted in the configured locality's
// civil time; the layouts carry no zone so ParseLocalizedTime pins UTC.
var timespanLayouts = []string{
	"02.01.2006 15:04",
	"02.01.2006 15.04",
	"02.01.2006",
	"2.1.2006 15:04",
	"2.1.2006",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseLocalizedTime parses a localized display string into an instant.
// Returns nil when no known layout matches; the display string is kept
// regardless, so a failed parse loses nothing user-visible.
func ParseLocalizedTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timespanLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// NewTimespan builds a Timespan from raw display strings, populating the
// parsed companions where possible.
func NewTimespan(start, end string) Timespan {
	return Timespan{
		Start:    start,
		End:      end,
		StartsAt: ParseLocalizedTime(start),
		EndsAt:   ParseLocalizedTime(end),
	}
}
