package journal

import (
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducle1408/futures-sentinel/internal/position"
)

func sampleTrade(symbol string) position.RealizedTrade {
	entry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return position.RealizedTrade{
		ID:        "t-" + symbol,
		Symbol:    symbol,
		Side:      position.Long,
		Entry:     100,
		Exit:      103,
		SizeUSD:   1000,
		Leverage:  5,
		PnLUSD:    150,
		PnLPct:    15,
		Duration:  2 * time.Hour,
		Strategy:  "trend-momentum",
		Regime:    "bull",
		Reason:    position.CloseTakeProfit,
		EntryTime: entry,
		ExitTime:  entry.Add(2 * time.Hour),
	}
}

func TestJournalRecordsTrades(t *testing.T) {
	j, err := New(t.TempDir() + "/journal")
	require.NoError(t, err)

	require.NoError(t, j.Record(sampleTrade("BTCUSDT")))
	require.NoError(t, j.Record(sampleTrade("ETHUSDT")))

	f, err := os.Open(j.Path())
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "BTCUSDT", rows[1][3])
	assert.Equal(t, "ETHUSDT", rows[2][3])
	assert.Equal(t, "take_profit", rows[1][14])
	assert.Equal(t, "7200", rows[1][11])
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, j.Record(sampleTrade("BTCUSDT")))

	// Reopening must not rewrite the header or drop existing rows.
	j2, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, j2.Record(sampleTrade("ETHUSDT")))

	f, err := os.Open(j2.Path())
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExportXLSX(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := j.ExportXLSX([]position.RealizedTrade{sampleTrade("BTCUSDT")})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
