package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertTimeToLocal(t *testing.T) {
	loc, err := LoadLocation("America/New_York")
	require.NoError(t, err)

	stored := time.Date(2024, time.January, 15, 17, 30, 0, 0, time.UTC)
	local, err := ConvertTimeToLocal(stored, loc)
	require.NoError(t, err)

	assert.Equal(t, 12, local.Hour())
	assert.Equal(t, -5, GetTimeZone(local))
	assert.True(t, local.Equal(stored))

	summer := time.Date(2024, time.July, 15, 17, 30, 0, 0, time.UTC)
	local, err = ConvertTimeToLocal(summer, loc)
	require.NoError(t, err)
	assert.Equal(t, -4, GetTimeZone(local))
}

func TestConvertTimeToLocalFailures(t *testing.T) {
	_, err := ConvertTimeToLocal(time.Time{}, time.UTC)
	assert.ErrorIs(t, err, ErrZeroTime)

	_, err = ConvertTimeToLocal(time.Now(), nil)
	assert.Error(t, err)

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestLoadLocationIsCached(t *testing.T) {
	first, err := LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	second, err := LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	assert.Same(t, first, second)
}
