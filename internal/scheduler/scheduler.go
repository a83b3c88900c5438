package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"PositionSentinel/internal/collector"
	"PositionSentinel/internal/metrics"
	"PositionSentinel/internal/model"
	"PositionSentinel/internal/notifier"
	"PositionSentinel/internal/position"
	"PositionSentinel/internal/recorder"
	"PositionSentinel/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("bot already running")
	ErrTickInProgress = errors.New("evaluation already in progress")
)

const priceCacheTTL = time.Minute

// Config controls the evaluation loop.
type Config struct {
	Interval   time.Duration
	RunOnStart bool
	Thresholds strategy.Thresholds
}

// Status is the externally visible loop state.
type Status struct {
	Running         bool              `json:"running"`
	HasOpenPosition bool              `json:"hasOpenPosition"`
	State           model.State       `json:"state"`
	LastPrice       float64           `json:"lastPrice"`
	LastSignal      model.Signal      `json:"lastSignal,omitempty"`
	Factors         []strategy.Factor `json:"factors,omitempty"`
	LastTickAt      time.Time         `json:"lastTickAt"`
	Interval        string            `json:"interval"`
}

// Scheduler runs the evaluation loop on a fixed interval.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	collector *collector.Collector
	positions *position.Manager
	notifier  notifier.Notifier
	recorder  recorder.Recorder
	metrics   *metrics.Metrics
	activity  *ActivityLog
	log       *zap.SugaredLogger
	ctx       context.Context

	running atomic.Bool
	ticking atomic.Bool
	startMu sync.Mutex

	mu          sync.RWMutex
	lastSnap    *model.IndicatorSnapshot
	lastSignal  model.Signal
	lastFactors []strategy.Factor
	lastTickAt  time.Time
	cachedPrice float64
	cachedAt    time.Time
}

// NewScheduler creates a stopped Scheduler. Ticks run on a context derived from
// ctx that is never cancelled, so stopping never aborts a ledger call in flight.
func NewScheduler(ctx context.Context, cfg Config, col *collector.Collector, pm *position.Manager,
	n notifier.Notifier, rec recorder.Recorder, m *metrics.Metrics, log *zap.SugaredLogger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if cfg.Thresholds == (strategy.Thresholds{}) {
		cfg.Thresholds = strategy.DefaultThresholds
	}

	cl := cronLogger{log: log}
	s := &Scheduler{
		cfg:       cfg,
		cron:      cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		collector: col,
		positions: pm,
		notifier:  n,
		recorder:  rec,
		metrics:   m,
		activity:  NewActivityLog(DefaultActivityCapacity),
		log:       log,
		ctx:       context.WithoutCancel(ctx),
	}

	spec := "@every " + cfg.Interval.String()
	if _, err := s.cron.AddFunc(spec, s.RunNow); err != nil {
		return nil, errors.Wrapf(err, "register evaluation task %q", spec)
	}
	m.SetState(pm.State())
	s.activity.Add(model.LevelInfo, "Bot initialized")
	return s, nil
}

// Start begins periodic evaluation.
func (s *Scheduler) Start() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	s.cron.Start()
	s.running.Store(true)
	s.activity.Addf(model.LevelInfo, "Bot started (every %s)", s.cfg.Interval)
	s.log.Infof("[scheduler] started, interval=%s", s.cfg.Interval)
	if s.cfg.RunOnStart {
		go s.RunNow()
	}
	return nil
}

// Stop prevents new ticks. A tick already in progress runs to completion.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if !s.running.Load() {
		return
	}
	s.cron.Stop()
	s.running.Store(false)
	s.activity.Add(model.LevelInfo, "Bot manually stopped")
	s.log.Info("[scheduler] stopped")
}

// Shutdown stops the scheduler and waits for an in-flight tick until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.Stop()
	done := s.cron.Stop().Done()
	for s.ticking.Load() {
		select {
		case <-ctx.Done():
			s.log.Warn("[scheduler] shutdown deadline reached with a tick in flight")
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Running reports whether periodic evaluation is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// RunNow executes one tick immediately (for manual trigger / run_on_start).
func (s *Scheduler) RunNow() {
	if err := s.Tick(s.ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		s.log.Debugf("[scheduler] tick ended early: %v", err)
	}
}

// Tick performs one evaluation: refresh prices, compute indicators, derive the
// signal and drive the position state machine. A tick already in progress makes
// it return ErrTickInProgress without doing anything.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Warn("[scheduler] previous tick still running, skipping")
		return ErrTickInProgress
	}
	defer s.ticking.Store(false)

	started := time.Now()
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		result := "data_unavailable"
		if errors.Is(err, model.ErrTransientNetwork) {
			result = "transient"
		}
		s.log.Warnf("[scheduler] collect failed: %v", err)
		s.activity.Addf(model.LevelError, "Price fetch failed: %v", err)
		s.metrics.ObserveTick(result, started)
		return err
	}

	eval := strategy.Evaluate(snap, s.cfg.Thresholds)
	s.metrics.LastPrice.Set(snap.CurrentPrice)
	s.metrics.SignalsTotal.WithLabelValues(eval.Signal.String()).Inc()

	s.mu.Lock()
	s.lastSnap = snap
	s.lastSignal = eval.Signal
	s.lastFactors = eval.Factors
	s.lastTickAt = time.Now().UTC()
	s.mu.Unlock()

	for _, f := range eval.Factors {
		s.log.Debugf("[scheduler] factor %s bullish=%t bearish=%t: %s", f.Name, f.Bullish, f.Bearish, f.Commentary)
	}

	out, evalErr := s.positions.Evaluate(ctx, snap, eval.Signal)
	s.metrics.SetState(s.positions.State())
	s.handleOutcome(ctx, out, evalErr)
	s.recordSnapshot(snap, eval.Signal)

	result := "ok"
	if evalErr != nil {
		result = "ledger_error"
	}
	s.metrics.ObserveTick(result, started)
	s.log.Infof("[scheduler] tick price=%.2f signal=%s action=%s state=%s",
		snap.CurrentPrice, eval.Signal, out.Action, s.positions.State())
	return evalErr
}

func (s *Scheduler) handleOutcome(ctx context.Context, out position.Outcome, err error) {
	if out.Action == position.ActionHold {
		return
	}

	pos := out.Position
	evt := &recorder.TradeEvent{
		Direction: string(pos.Direction),
		Price:     out.Price,
		Entry:     pos.EntryPrice,
		Leverage:  pos.Leverage,
		Reason:    string(out.Reason),
		TxRef:     out.TxRef,
	}

	switch out.Action {
	case position.ActionOpened:
		evt.Action = recorder.TradeOpen
		s.metrics.LedgerCalls.WithLabelValues("open", "ok").Inc()
		s.activity.Addf(model.LevelTrade, "%s opened %s at %.2f (x%d)", out.Signal, pos.Direction, pos.EntryPrice, pos.Leverage)
	case position.ActionClosed:
		evt.Action = recorder.TradeClose
		evt.Size = pos.Size()
		evt.PnLPct = out.PnLPct
		s.metrics.LedgerCalls.WithLabelValues("close", "ok").Inc()
		s.activity.Addf(model.LevelTrade, "Position closed: %s at %.2f (%+.2f%%)", out.Reason, out.Price, out.PnLPct)
	case position.ActionOpenFailed:
		evt.Action = recorder.TradeOpenFailed
		evt.Error = errString(err)
		s.metrics.LedgerCalls.WithLabelValues("open", ledgerResult(err)).Inc()
		s.activity.Addf(model.LevelError, "Open %s failed: %v", pos.Direction, err)
		s.log.Errorf("[scheduler] open %s failed: %v", pos.Direction, err)
	case position.ActionCloseFailed:
		evt.Action = recorder.TradeCloseFailed
		evt.Size = pos.Size()
		evt.Error = errString(err)
		s.metrics.LedgerCalls.WithLabelValues("close", ledgerResult(err)).Inc()
		s.activity.Addf(model.LevelError, "Close %s (%s) failed: %v", pos.Direction, out.Reason, err)
		s.log.Errorf("[scheduler] close %s failed: %v", pos.Direction, err)
	}

	if out.PersistErr != nil {
		s.activity.Addf(model.LevelError, "Position record not saved, will retry next tick: %v", out.PersistErr)
	}

	if rerr := s.recorder.RecordTrade(evt); rerr != nil {
		s.log.Errorf("[scheduler] record trade: %v", rerr)
	}
	s.trySend(ctx, notifier.FormatOutcome(out, err))
}

func (s *Scheduler) recordSnapshot(snap *model.IndicatorSnapshot, sig model.Signal) {
	evt := &recorder.SnapshotEvent{
		Time:   snap.At,
		Price:  snap.CurrentPrice,
		MA:     snap.MovingAverage,
		StochK: snap.StochK,
		StochD: snap.StochD,
		Signal: sig.String(),
		State:  string(s.positions.State()),
	}
	if level, ok := snap.Level(s.cfg.Thresholds.Level); ok {
		evt.Level50 = model.Float(level)
	}
	if err := s.recorder.RecordSnapshot(evt); err != nil {
		s.log.Errorf("[scheduler] record snapshot: %v", err)
	}
}

// Status returns the loop status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Running:    s.running.Load(),
		State:      s.positions.State(),
		LastSignal: s.lastSignal,
		Factors:    append([]strategy.Factor(nil), s.lastFactors...),
		LastTickAt: s.lastTickAt,
		Interval:   s.cfg.Interval.String(),
	}
	st.HasOpenPosition = st.State != model.StateNone
	if s.lastSnap != nil {
		st.LastPrice = s.lastSnap.CurrentPrice
	}
	return st
}

// CurrentPosition returns a copy of the open position.
func (s *Scheduler) CurrentPosition() (model.Position, bool) {
	return s.positions.Current()
}

// LastSnapshot returns a copy of the most recent indicator snapshot.
func (s *Scheduler) LastSnapshot() (model.IndicatorSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSnap == nil {
		return model.IndicatorSnapshot{}, false
	}
	snap := *s.lastSnap
	return snap, true
}

// RecentLog returns up to n activity entries, newest first.
func (s *Scheduler) RecentLog(n int) []model.LogEntry {
	return s.activity.Recent(n)
}

// Activity exposes the activity log for streaming.
func (s *Scheduler) Activity() *ActivityLog { return s.activity }

// ApplySettings makes confirmed contract settings take effect for future positions.
func (s *Scheduler) ApplySettings(ts model.TradeSettings) error {
	if err := s.positions.SetLeverage(ts.Leverage); err != nil {
		return err
	}
	s.activity.Addf(model.LevelInfo, "Bot settings updated: %.4f ETH x%d", ts.TradeAmount, ts.Leverage)
	return nil
}

// LatestPrice returns a recent price: the last tick's if fresh, otherwise a
// cached or newly fetched quote.
func (s *Scheduler) LatestPrice(ctx context.Context) (float64, error) {
	now := time.Now()
	s.mu.RLock()
	if s.lastSnap != nil && now.Sub(s.lastTickAt) < priceCacheTTL {
		p := s.lastSnap.CurrentPrice
		s.mu.RUnlock()
		return p, nil
	}
	if !s.cachedAt.IsZero() && now.Sub(s.cachedAt) < priceCacheTTL {
		p := s.cachedPrice
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	price, err := s.collector.Fetcher.FetchLatestPrice(ctx, s.collector.Symbol)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.cachedPrice, s.cachedAt = price, now
	s.mu.Unlock()
	return price, nil
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		st := s.Status()
		return notifier.FormatStatus(st.Running, st.State, st.LastPrice, st.LastTickAt)
	case "/position":
		pos, ok := s.CurrentPosition()
		if !ok {
			return "No open position."
		}
		if snap, ok := s.LastSnapshot(); ok {
			return notifier.FormatPosition(pos, &snap)
		}
		return notifier.FormatPosition(pos, nil)
	case "/log":
		return notifier.FormatLog(s.RecentLog(10))
	case "/startbot":
		if err := s.Start(); err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return "✅ Bot started"
	case "/stopbot":
		s.Stop()
		return "🛑 Bot stopped"
	default:
		return notifier.FormatHelp()
	}
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := s.notifier.SendWithRetry(ctx, text, 3); err != nil {
		s.log.Errorf("[scheduler] send notification: %v", err)
	}
}

func ledgerResult(err error) string {
	if errors.Is(err, model.ErrTransientNetwork) {
		return "transient"
	}
	return "rejected"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// cronLogger adapts zap to cron's logger interface.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw("[cron] "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw("[cron] "+msg, append(keysAndValues, "error", err)...)
}
