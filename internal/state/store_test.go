package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsNil(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "daily_pnl.json"))
	require.NoError(t, err)

	sess, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "daily_pnl.json"))
	require.NoError(t, err)

	in := Session{
		DailyRealizedPnl: -150.25,
		LastResetDate:    "2025-06-02",
		TradingLocked:    true,
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.InDelta(t, -150.25, out.DailyRealizedPnl, 1e-9)
	assert.Equal(t, "2025-06-02", out.LastResetDate)
	assert.True(t, out.TradingLocked)
	assert.False(t, out.CheckpointTS.IsZero())
}

func TestCheckpointTimestampsStrictlyIncrease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_pnl.json")
	store, err := NewStore(path)
	require.NoError(t, err)

	var last Session
	for i := 0; i < 50; i++ {
		require.NoError(t, store.Save(Session{DailyRealizedPnl: float64(i)}))
		cur, err := store.Load()
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, cur.CheckpointTS.After(last.CheckpointTS),
				"checkpoint %d not after previous", i)
		}
		last = *cur
	}
}

func TestCorruptCheckpointReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_pnl.json")
	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	_, err = store.Load()
	require.Error(t, err)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "daily_pnl.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save(Session{DailyRealizedPnl: 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "daily_pnl.json", entries[0].Name())
}
