package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalizedTime(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected *time.Time
	}{
		{"date with time", "20.01.2026 08:00", timePtr(2026, 1, 20, 8, 0)},
		{"date only", "20.01.2026", timePtr(2026, 1, 20, 0, 0)},
		{"single digit day and month", "2.1.2026", timePtr(2026, 1, 2, 0, 0)},
		{"iso date", "2026-01-20", timePtr(2026, 1, 20, 0, 0)},
		{"iso with time", "2026-01-20 08:30", timePtr(2026, 1, 20, 8, 30)},
		{"surrounding whitespace", "  20.01.2026  ", timePtr(2026, 1, 20, 0, 0)},
		{"empty", "", nil},
		{"free text", "until further notice", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseLocalizedTime(tc.input)
			if tc.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tc.expected, *got)
		})
	}
}

func TestNewTimespan_KeepsDisplayStrings(t *testing.T) {
	ts := NewTimespan("20.01.2026 08:00", "sine die")

	assert.Equal(t, "20.01.2026 08:00", ts.Start)
	assert.Equal(t, "sine die", ts.End)
	require.NotNil(t, ts.StartsAt)
	assert.Nil(t, ts.EndsAt, "unparseable end keeps only the display string")
}

func timePtr(year int, month time.Month, day, hour, minute int) *time.Time {
	t := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	return &t
}
