package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTruncatesToMinute(t *testing.T) {
	in := time.Date(2024, time.June, 1, 8, 0, 59, 999_999_999, time.UTC)
	got := Round(in)
	assert.Equal(t, time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC), got)
}

func TestRoundConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2024, time.June, 1, 10, 30, 0, 0, loc)
	got := Round(in)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC), got)
}

func TestIsForever(t *testing.T) {
	assert.True(t, IsForever(MaxInstant))
	assert.False(t, IsForever(time.Now()))
}
