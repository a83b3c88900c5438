package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionSentinel/internal/collector"
	"PositionSentinel/internal/ledger"
	"PositionSentinel/internal/logger"
	"PositionSentinel/internal/metrics"
	"PositionSentinel/internal/model"
	"PositionSentinel/internal/notifier"
	"PositionSentinel/internal/position"
	"PositionSentinel/internal/recorder"
)

type harness struct {
	sched   *Scheduler
	fetcher *collector.MockFetcher
	paper   *ledger.PaperLedger
	store   *position.FileStore
	journal *recorder.SQLiteRecorder
}

func newHarness(t *testing.T, l position.Ledger) *harness {
	t.Helper()
	dir := t.TempDir()
	log := logger.Nop()

	paper := ledger.NewPaperLedger(1, model.TradeSettings{TradeAmount: 0.01, Leverage: 3})
	if l == nil {
		l = paper
	}
	fetcher := &collector.MockFetcher{}
	col := collector.NewCollector(fetcher, "ETHUSDT", "4h", 100, collector.DefaultIndicatorParams, log)
	store := position.NewFileStore(filepath.Join(dir, "position.json"))
	pm, err := position.NewManager(l, store, position.DefaultConfig, log)
	require.NoError(t, err)
	journal, err := recorder.NewSQLiteRecorder(filepath.Join(dir, "journal.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	s, err := NewScheduler(context.Background(), Config{Interval: time.Hour}, col, pm,
		notifier.NoopNotifier{}, journal, metrics.New(), log)
	require.NoError(t, err)
	return &harness{sched: s, fetcher: fetcher, paper: paper, store: store, journal: journal}
}

func samples(closes []float64) []model.PriceSample {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.PriceSample, len(closes))
	for i, c := range closes {
		out[i] = model.PriceSample{Time: start.Add(time.Duration(i) * 4 * time.Hour).UnixMilli(), Close: c}
	}
	return out
}

// A long climb followed by three lower closes: K collapses to 0 while price
// stays above the MA and the 0.5 level.
func buySeries() []float64 {
	closes := make([]float64, 0, 43)
	for i := 0; i < 40; i++ {
		closes = append(closes, 100+2*float64(i))
	}
	return append(closes, 177, 176, 175)
}

func sellSeries() []float64 {
	closes := make([]float64, 0, 43)
	for i := 0; i < 40; i++ {
		closes = append(closes, 300-2*float64(i))
	}
	return append(closes, 223, 224, 225)
}

func constantSeries(v float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = v
	}
	return closes
}

func TestTick_FlatMarketHolds(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Samples = samples(constantSeries(100, 21))

	require.NoError(t, h.sched.Tick(context.Background()))

	snap, ok := h.sched.LastSnapshot()
	require.True(t, ok)
	require.NotNil(t, snap.MovingAverage)
	assert.Equal(t, 100.0, *snap.MovingAverage)
	for _, ratio := range model.RetracementRatios {
		assert.Equal(t, 100.0, snap.Retracement[ratio], ratio)
	}
	st := h.sched.Status()
	assert.Equal(t, model.SignalNone, st.LastSignal)
	assert.Equal(t, model.StateNone, st.State)
	assert.Empty(t, h.paper.Fills())
}

func TestTick_BuyOpensLongThenStopLossCloses(t *testing.T) {
	h := newHarness(t, nil)
	closes := buySeries()
	h.fetcher.Samples = samples(closes)

	require.NoError(t, h.sched.Tick(context.Background()))
	pos, ok := h.sched.CurrentPosition()
	require.True(t, ok)
	assert.Equal(t, model.DirectionLong, pos.Direction)
	assert.Equal(t, 175.0, pos.EntryPrice)
	st := h.sched.Status()
	assert.Equal(t, model.SignalBuy, st.LastSignal)
	require.Len(t, st.Factors, 3)
	for _, f := range st.Factors {
		assert.True(t, f.Bullish, f.Name)
	}

	saved, err := h.store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)

	// 169 is below 175 * 0.97.
	h.fetcher.Samples = samples(append(closes, 169))
	require.NoError(t, h.sched.Tick(context.Background()))

	assert.Equal(t, model.StateNone, h.sched.Status().State)
	fills := h.paper.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, "close", fills[1].Op)
	assert.Equal(t, 525.0, fills[1].Value)

	trades, err := h.journal.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, recorder.TradeClose, trades[0].Action)
	assert.Equal(t, string(position.ReasonStopLoss), trades[0].Reason)

	n, err := h.journal.SnapshotCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Contains(t, h.sched.RecentLog(1)[0].Message, "STOP_LOSS")
}

func TestTick_SellOpensShort(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Samples = samples(sellSeries())
	require.NoError(t, h.sched.Tick(context.Background()))
	assert.Equal(t, model.StateOpenShort, h.sched.Status().State)
}

func TestTick_LedgerRejectionKeepsNoPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Samples = samples(buySeries())
	h.paper.FailNext(model.ErrLedgerRejected)

	err := h.sched.Tick(context.Background())
	assert.ErrorIs(t, err, model.ErrLedgerRejected)
	assert.Equal(t, model.StateNone, h.sched.Status().State)

	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	trades, err := h.journal.RecentTrades(1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, recorder.TradeOpenFailed, trades[0].Action)
	assert.Equal(t, model.LevelError, h.sched.RecentLog(1)[0].Level)
}

func TestTick_FetchFailureChangesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Err = model.ErrTransientNetwork

	err := h.sched.Tick(context.Background())
	assert.ErrorIs(t, err, model.ErrTransientNetwork)
	_, ok := h.sched.LastSnapshot()
	assert.False(t, ok)
	assert.True(t, h.sched.Status().LastTickAt.IsZero())
	assert.Equal(t, model.LevelError, h.sched.RecentLog(1)[0].Level)
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Samples = samples(buySeries())
	h.sched.ticking.Store(true)

	assert.ErrorIs(t, h.sched.Tick(context.Background()), ErrTickInProgress)
	assert.Zero(t, h.fetcher.Calls)
}

type blockingLedger struct {
	*ledger.PaperLedger
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLedger) OpenPosition(ctx context.Context, dir model.Direction, price float64) (model.Receipt, error) {
	close(b.entered)
	<-b.release
	return b.PaperLedger.OpenPosition(ctx, dir, price)
}

func TestStop_DoesNotAbortInFlightLedgerCall(t *testing.T) {
	bl := &blockingLedger{
		PaperLedger: ledger.NewPaperLedger(1, model.TradeSettings{TradeAmount: 0.01, Leverage: 3}),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	h := newHarness(t, bl)
	h.fetcher.Samples = samples(buySeries())
	require.NoError(t, h.sched.Start())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.sched.RunNow()
	}()

	<-bl.entered
	h.sched.Stop()
	assert.False(t, h.sched.Running())
	close(bl.release)
	wg.Wait()

	assert.Equal(t, model.StateOpenLong, h.sched.Status().State)
	assert.Len(t, bl.Fills(), 1)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sched.Start())
	assert.True(t, h.sched.Status().Running)
	assert.ErrorIs(t, h.sched.Start(), ErrAlreadyRunning)

	h.sched.Stop()
	h.sched.Stop()
	assert.False(t, h.sched.Running())

	require.NoError(t, h.sched.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.sched.Shutdown(ctx)
	assert.False(t, h.sched.Running())

	msgs := []string{}
	for _, e := range h.sched.RecentLog(0) {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "Bot manually stopped")
	assert.Equal(t, "Bot initialized", msgs[len(msgs)-1])
}

func TestNewScheduler_RejectsZeroInterval(t *testing.T) {
	log := logger.Nop()
	col := collector.NewCollector(&collector.MockFetcher{}, "ETHUSDT", "4h", 100, collector.DefaultIndicatorParams, log)
	pm, err := position.NewManager(ledger.NewPaperLedger(1, model.TradeSettings{}),
		position.NewFileStore(filepath.Join(t.TempDir(), "p.json")), position.DefaultConfig, log)
	require.NoError(t, err)

	_, err = NewScheduler(context.Background(), Config{}, col, pm, notifier.NoopNotifier{}, recorder.NewNoopRecorder(), metrics.New(), log)
	assert.Error(t, err)
}

func TestLatestPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Samples = samples([]float64{2000, 2010})

	price, err := h.sched.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2010.0, price)

	// Cached for subsequent calls.
	h.fetcher.Samples = samples([]float64{1})
	price, err = h.sched.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2010.0, price)
}

func TestApplySettings(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sched.ApplySettings(model.TradeSettings{TradeAmount: 0.02, Leverage: 5}))
	assert.Error(t, h.sched.ApplySettings(model.TradeSettings{TradeAmount: 0.02}))

	h.fetcher.Samples = samples(buySeries())
	require.NoError(t, h.sched.Tick(context.Background()))
	pos, ok := h.sched.CurrentPosition()
	require.True(t, ok)
	assert.Equal(t, 5, pos.Leverage)
}

func TestHandleCommand(t *testing.T) {
	h := newHarness(t, nil)

	assert.Contains(t, h.sched.HandleCommand("/status"), "stopped")
	assert.Equal(t, "No open position.", h.sched.HandleCommand("/position"))
	assert.Contains(t, h.sched.HandleCommand("/help"), "/startbot")

	assert.Equal(t, "✅ Bot started", h.sched.HandleCommand("/startbot"))
	assert.Contains(t, h.sched.HandleCommand("/startbot"), "already running")
	assert.Equal(t, "🛑 Bot stopped", h.sched.HandleCommand("/stopbot"))

	h.fetcher.Samples = samples(buySeries())
	require.NoError(t, h.sched.Tick(context.Background()))
	assert.Contains(t, h.sched.HandleCommand("/position"), "LONG x3")
	assert.Contains(t, h.sched.HandleCommand("/log"), "BUY opened")
}

type failingStore struct{ position.Store }

func (failingStore) Save(model.Position) error { return errors.New("read-only filesystem") }

func TestTick_StoreFailureIsLogged(t *testing.T) {
	log := logger.Nop()
	dir := t.TempDir()
	fetcher := &collector.MockFetcher{Samples: samples(buySeries())}
	col := collector.NewCollector(fetcher, "ETHUSDT", "4h", 100, collector.DefaultIndicatorParams, log)
	store := failingStore{position.NewFileStore(filepath.Join(dir, "position.json"))}
	pm, err := position.NewManager(ledger.NewPaperLedger(1, model.TradeSettings{TradeAmount: 0.01, Leverage: 3}), store, position.DefaultConfig, log)
	require.NoError(t, err)
	s, err := NewScheduler(context.Background(), Config{Interval: time.Hour}, col, pm,
		notifier.NoopNotifier{}, recorder.NewNoopRecorder(), metrics.New(), log)
	require.NoError(t, err)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, model.StateOpenLong, s.Status().State)
	assert.True(t, pm.PersistPending())

	last, ok := s.Activity().Last()
	require.True(t, ok)
	assert.Equal(t, model.LevelError, last.Level)
	assert.Contains(t, last.Message, "Position record not saved")
}
