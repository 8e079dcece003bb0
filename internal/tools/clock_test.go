package tools

import (
	"context"
	"regexp"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \S+$`)

func fixedClock() *Clock {
	at := time.Date(2024, time.March, 9, 14, 5, 7, 0, time.UTC)
	return NewClockAt(func() time.Time { return at })
}

func TestClock_DefaultUTC(t *testing.T) {
	got, err := NewClock().Execute(context.Background(), map[string]any{"utc": true})
	require.NoError(t, err)
	assert.Regexp(t, reDateTime, got)
	assert.Contains(t, got, "-")
	assert.Contains(t, got, ":")
	assert.Contains(t, got, " ")
	assert.Contains(t, got, "UTC")
}

func TestClock_ChangesOverTime(t *testing.T) {
	clock := NewClock()
	first, err := clock.Execute(context.Background(), map[string]any{"utc": true})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	second, err := clock.Execute(context.Background(), map[string]any{"utc": true})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestClock_Formats(t *testing.T) {
	clock := fixedClock()
	cases := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{"utc": true}, "2024-03-09 14:05:07 UTC"},
		{map[string]any{"utc": true, "format": "%Y/%m/%d %H:%M"}, "2024/03/09 14:05"},
		{map[string]any{"utc": true, "format": "%Y-%m-%d %H:%M:%S %Z"}, "2024-03-09 14:05:07 UTC"},
		{map[string]any{"utc": true, "format": "Jan 2, 2006"}, "Mar 9, 2024"},
		{map[string]any{"timezone": "Asia/Tokyo"}, "2024-03-09 23:05:07 JST"},
		{map[string]any{"utc": true, "timezone": "Asia/Tokyo"}, "2024-03-09 14:05:07 UTC"},
		{map[string]any{"utc": true, "format": nil}, "2024-03-09 14:05:07 UTC"},
	}
	for _, tc := range cases {
		got, err := clock.Execute(context.Background(), tc.args)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.want, got, tc.args)
	}
}

func TestClock_InvalidArguments(t *testing.T) {
	clock := fixedClock()
	for _, args := range []map[string]any{
		{"utc": "yes"},
		{"format": 12},
		{"timezone": "Mars/Olympus"},
	} {
		_, err := clock.Execute(context.Background(), args)
		assert.ErrorIs(t, err, ErrInvalidArguments, args)
	}
}
