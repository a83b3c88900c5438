package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionSentinel/internal/logger"
	"PositionSentinel/internal/model"
)

func openRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "journal.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecorder_Trades(t *testing.T) {
	r := openRecorder(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordTrade(&TradeEvent{
		Time: base, Action: TradeOpen, Direction: "LONG", Price: 100, Entry: 100, Leverage: 3,
		Reason: "SIGNAL", TxRef: "0x1",
	}))
	closeEvt := &TradeEvent{
		Time: base.Add(4 * time.Hour), Action: TradeClose, Direction: "LONG", Price: 96.9,
		Entry: 100, Size: 300, Leverage: 3, Reason: "STOP_LOSS", TxRef: "0x2", PnLPct: -3.1,
	}
	require.NoError(t, r.RecordTrade(closeEvt))
	assert.NotEmpty(t, closeEvt.ID)

	trades, err := r.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, TradeClose, trades[0].Action)
	assert.Equal(t, 300.0, trades[0].Size)
	assert.Equal(t, base.Add(4*time.Hour), trades[0].Time)
	assert.Equal(t, TradeOpen, trades[1].Action)

	trades, err = r.RecentTrades(1)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestSQLiteRecorder_Snapshots(t *testing.T) {
	r := openRecorder(t)

	require.NoError(t, r.RecordSnapshot(&SnapshotEvent{Price: 100, Signal: "NONE", State: "NO_POSITION"}))
	require.NoError(t, r.RecordSnapshot(&SnapshotEvent{
		Price: 2050, MA: model.Float(2000), StochK: model.Float(15), Level50: model.Float(2020),
		Signal: "BUY", State: "OPEN_LONG",
	}))

	n, err := r.SnapshotCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordTrade(&TradeEvent{}))
	trades, err := r.RecentTrades(5)
	assert.NoError(t, err)
	assert.Empty(t, trades)
	assert.NoError(t, r.Close())
}
