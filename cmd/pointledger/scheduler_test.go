package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepTime(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	got, err := sweepTime(now, "")
	require.NoError(t, err)
	assert.True(t, got.Equal(now))

	got, err = sweepTime(now, "2025-03-01T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	got, err = sweepTime(now, "2025-03-15T14:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(now))

	_, err = sweepTime(now, "2025-04-01T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "future")

	_, err = sweepTime(now, "yesterday")
	require.Error(t, err)
}
