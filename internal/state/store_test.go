package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducle1408/futures-sentinel/internal/position"
	"github.com/ducle1408/futures-sentinel/internal/risk"
)

func TestLoadMissingFileIsFreshStart(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	st := risk.NewState(10000, 50)
	st.RecordTrade(150, 1.5)
	st.RecordTrade(-80, -0.8)

	saved := Snapshot{
		SavedAt: time.Now(),
		Risk:    st.Snapshot(),
		Positions: []position.Snapshot{
			{
				Symbol:     "BTCUSDT",
				Side:       position.Long,
				Category:   "major",
				EntryPrice: 43000,
				SizeUSD:    1000,
				Leverage:   5,
				StopLoss:   42000,
				TakeProfit: 45000,
				Regime:     "bull",
				EntryTime:  time.Now().Add(-2 * time.Hour),
			},
		},
	}
	require.NoError(t, store.Save(saved))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, saved.Risk.Balance, loaded.Risk.Balance)
	assert.Equal(t, saved.Risk.TotalTrades, loaded.Risk.TotalTrades)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, "BTCUSDT", loaded.Positions[0].Symbol)
	assert.Equal(t, 43000.0, loaded.Positions[0].EntryPrice)
	assert.Equal(t, "bull", loaded.Positions[0].Regime)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	first := Snapshot{Risk: risk.Snapshot{Balance: 100}}
	second := Snapshot{Risk: risk.Snapshot{Balance: 200}}
	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200.0, loaded.Risk.Balance)

	// No temp files may linger after a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(store.Path()), entries[0].Name())
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	_, _, err = store.Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"version": 99}`), 0o644))

	_, _, err = store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}
