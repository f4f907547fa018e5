package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrgDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	t.Run("rolls over at the organization's midnight", func(t *testing.T) {
		// 03:00 UTC on March 16 is still 23:00 on March 15 in New York
		instant := time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, "2026-03-15", OrgDay(instant, ny))
		assert.Equal(t, "2026-03-16", OrgDay(instant, time.UTC))
	})

	t.Run("after the local midnight", func(t *testing.T) {
		instant := time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC)
		assert.Equal(t, "2026-03-16", OrgDay(instant, ny))
	})

	t.Run("nil location falls back to UTC", func(t *testing.T) {
		instant := time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, "2026-03-16", OrgDay(instant, nil))
	})
}

func TestTimeToUTCPtr(t *testing.T) {
	assert.Nil(t, TimeToUTCPtr(nil))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Date(2026, 3, 15, 23, 0, 0, 0, ny)
	got := TimeToUTCPtr(&local)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}
