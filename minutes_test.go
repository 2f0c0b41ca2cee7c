package chaidata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(hour, minute, second int) time.Time {
	return time.Date(2024, 1, 1, hour, minute, second, 0, time.UTC)
}

func TestMinutes_Valid(t *testing.T) {
	for _, m := range []Minutes{Min1, Min2, Min3, Min5, Min6, Min10, Min15, Min30} {
		assert.True(t, m.Valid(), "%s should be valid", m)
	}
	for _, m := range []Minutes{0, 4, 7, 20, 60} {
		assert.False(t, m.Valid(), "%d should be invalid", int(m))
	}
}

func TestRoundDown(t *testing.T) {
	tests := []struct {
		name    string
		in      time.Time
		minutes Minutes
		want    time.Time
	}{
		{"mid interval", date(0, 7, 0), Min5, date(0, 5, 0)},
		{"on boundary", date(0, 10, 0), Min5, date(0, 10, 0)},
		{"seconds dropped", date(0, 10, 42), Min5, date(0, 10, 0)},
		{"half hour", date(14, 29, 59), Min30, date(14, 0, 0)},
		{"one minute", date(9, 59, 30), Min1, date(9, 59, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundDown(tt.in, tt.minutes))
		})
	}
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		name    string
		in      time.Time
		minutes Minutes
		want    time.Time
	}{
		{"mid interval", date(0, 7, 0), Min5, date(0, 10, 0)},
		{"on boundary unchanged", date(0, 10, 0), Min5, date(0, 10, 0)},
		{"seconds push up", date(0, 10, 1), Min5, date(0, 15, 0)},
		{"across hour", date(0, 55, 1), Min10, date(1, 0, 0)},
		{"half hour", date(14, 1, 0), Min30, date(14, 30, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundUp(tt.in, tt.minutes))
		})
	}
}

func TestRoundTrip_HourAligned(t *testing.T) {
	// A request starting at 00:07 with a 5 minute granularity must begin at
	// 00:05, never at a partial boundary such as 00:07.
	start := RoundDown(date(0, 7, 0), Min5)
	end := RoundUp(date(1, 0, 0), Min5)

	assert.Equal(t, date(0, 5, 0), start)
	assert.Equal(t, date(1, 0, 0), end)

	var boundaries []time.Time
	for cur := start; cur.Before(end); cur = cur.Add(Min5.Duration()) {
		boundaries = append(boundaries, cur)
	}
	assert.Len(t, boundaries, 11)
	for _, b := range boundaries {
		assert.Zero(t, b.Minute()%5)
		assert.Zero(t, b.Second())
	}
}

func TestParseUnixMilli(t *testing.T) {
	ts, err := ParseUnixMilli("1653721140000")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2022, 5, 28, 6, 59, 0, 0, time.UTC), ts)

	_, err = ParseUnixMilli("not-a-number")
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	_, err = ParseUnixMilli("-5")
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestParseUnixSeconds(t *testing.T) {
	ts, err := ParseUnixSeconds("1653721140")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2022, 5, 28, 6, 59, 0, 0, time.UTC), ts)

	_, err = ParseUnixSeconds("12.5")
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}
