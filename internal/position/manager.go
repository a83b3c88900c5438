package position

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"PositionSentinel/internal/model"
)

// Ledger is the subset of the contract ledger the state machine drives.
type Ledger interface {
	OpenPosition(ctx context.Context, dir model.Direction, refPrice float64) (model.Receipt, error)
	ClosePosition(ctx context.Context, dir model.Direction, size float64) (model.Receipt, error)
}

// Action is what one evaluation did.
type Action string

const (
	ActionHold        Action = "HOLD"
	ActionOpened      Action = "OPENED"
	ActionClosed      Action = "CLOSED"
	ActionOpenFailed  Action = "OPEN_FAILED"
	ActionCloseFailed Action = "CLOSE_FAILED"
)

// Reason explains why a position was opened or closed.
type Reason string

const (
	ReasonSignal     Reason = "SIGNAL"
	ReasonStopLoss   Reason = "STOP_LOSS"
	ReasonTakeProfit Reason = "TAKE_PROFIT"
	ReasonReversal   Reason = "REVERSAL"
)

// Outcome describes the result of one evaluation.
type Outcome struct {
	Action   Action
	Reason   Reason
	Signal   model.Signal
	Position model.Position // position opened, closed or held
	Price    float64
	PnLPct   float64 // unleveraged move in the position's favor, on close
	TxRef    string

	// PersistErr is set when the ledger confirmed but the store write failed.
	// The write is retried at the start of the next Evaluate.
	PersistErr error
}

// Config holds the exit thresholds (fractions) and the leverage for new positions.
type Config struct {
	StopLoss   float64
	TakeProfit float64
	Leverage   int
}

// DefaultConfig is a symmetric 3% stop-loss/take-profit at 3x leverage.
var DefaultConfig = Config{StopLoss: 0.03, TakeProfit: 0.03, Leverage: 3}

// Manager is the position state machine. It owns the single position and
// mirrors it to the Store on every confirmed open and close.
type Manager struct {
	evalMu sync.Mutex // serializes Evaluate

	mu             sync.Mutex
	cfg            Config
	pos            *model.Position
	persistPending bool

	ledger Ledger
	store  Store
	log    *zap.SugaredLogger
}

// NewManager creates a Manager and restores any open position from store.
func NewManager(ledger Ledger, store Store, cfg Config, log *zap.SugaredLogger) (*Manager, error) {
	if cfg.Leverage <= 0 {
		cfg.Leverage = DefaultConfig.Leverage
	}
	pos, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load position")
	}
	m := &Manager{cfg: cfg, ledger: ledger, store: store, log: log}
	if pos != nil && pos.Status == model.StatusOpen {
		m.pos = pos
		log.Infof("[position] restored %s position at %.2f (x%d)", pos.Direction, pos.EntryPrice, pos.Leverage)
	}
	return m, nil
}

// Current returns a copy of the open position.
func (m *Manager) Current() (model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return model.Position{}, false
	}
	return *m.pos, true
}

// State returns the current state machine state.
func (m *Manager) State() model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return model.StateNone
	}
	return m.pos.State()
}

// Leverage returns the leverage applied to new positions.
func (m *Manager) Leverage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Leverage
}

// SetLeverage changes the leverage for positions opened afterwards.
func (m *Manager) SetLeverage(n int) error {
	if n <= 0 {
		return errors.Errorf("leverage must be positive, got %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Leverage = n
	return nil
}

// Evaluate runs one transition of the state machine for the observed price and signal.
// A ledger failure leaves the state unchanged and is returned wrapped in
// model.ErrLedgerRejected (or model.ErrTransientNetwork) alongside the failed outcome.
func (m *Manager) Evaluate(ctx context.Context, snap *model.IndicatorSnapshot, sig model.Signal) (Outcome, error) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	if m.PersistPending() {
		if err := m.persist(); err != nil {
			m.log.Errorf("[position] retry persist failed: %v", err)
		} else {
			m.log.Info("[position] pending position record persisted")
		}
	}

	if snap == nil {
		return Outcome{Action: ActionHold, Signal: sig}, errors.Wrap(model.ErrDataUnavailable, "no snapshot")
	}
	price := snap.CurrentPrice
	pos, open := m.Current()
	if !open {
		return m.tryOpen(ctx, price, sig)
	}

	reason, exit := m.exitReason(pos, price, sig)
	if !exit {
		return Outcome{Action: ActionHold, Signal: sig, Position: pos, Price: price}, nil
	}
	return m.tryClose(ctx, pos, price, sig, reason)
}

func (m *Manager) tryOpen(ctx context.Context, price float64, sig model.Signal) (Outcome, error) {
	dir, ok := model.DirectionFor(sig)
	if !ok {
		return Outcome{Action: ActionHold, Signal: sig, Price: price}, nil
	}

	pos := model.Position{
		Direction:  dir,
		EntryPrice: price,
		Leverage:   m.Leverage(),
		Status:     model.StatusOpen,
	}
	out := Outcome{Action: ActionOpenFailed, Reason: ReasonSignal, Signal: sig, Position: pos, Price: price}

	receipt, err := m.ledger.OpenPosition(ctx, dir, price)
	if err = checkReceipt(receipt, err); err != nil {
		return out, errors.Wrapf(err, "open %s at %.2f", dir, price)
	}

	pos.OpenedAt = time.Now().UTC()
	pos.TxRef = receipt.TxRef
	m.mu.Lock()
	m.pos = &pos
	m.mu.Unlock()
	if err := m.persist(); err != nil {
		m.log.Errorf("[position] failed to persist opened position: %v", err)
		out.PersistErr = err
	}

	out.Action = ActionOpened
	out.Position = pos
	out.TxRef = receipt.TxRef
	return out, nil
}

func (m *Manager) tryClose(ctx context.Context, pos model.Position, price float64, sig model.Signal, reason Reason) (Outcome, error) {
	out := Outcome{
		Action:   ActionCloseFailed,
		Reason:   reason,
		Signal:   sig,
		Position: pos,
		Price:    price,
		PnLPct:   pos.ChangePct(price),
	}

	receipt, err := m.ledger.ClosePosition(ctx, pos.Direction, pos.Size())
	if err = checkReceipt(receipt, err); err != nil {
		return out, errors.Wrapf(err, "close %s (%s) at %.2f", pos.Direction, reason, price)
	}

	m.mu.Lock()
	m.pos = nil
	m.mu.Unlock()
	if err := m.persist(); err != nil {
		m.log.Errorf("[position] failed to clear persisted position: %v", err)
		out.PersistErr = err
	}

	pos.Status = model.StatusClosed
	out.Action = ActionClosed
	out.Position = pos
	out.TxRef = receipt.TxRef
	return out, nil
}

// PersistPending reports whether the stored record lags the in-memory position.
func (m *Manager) PersistPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistPending
}

// persist mirrors the in-memory position to the store: Save while open,
// Clear otherwise. A failure marks the record pending.
func (m *Manager) persist() error {
	m.mu.Lock()
	var pos *model.Position
	if m.pos != nil {
		p := *m.pos
		pos = &p
	}
	m.mu.Unlock()

	var err error
	if pos != nil {
		err = m.store.Save(*pos)
	} else {
		err = m.store.Clear()
	}

	m.mu.Lock()
	m.persistPending = err != nil
	m.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "persist position")
	}
	return nil
}

// exitReason checks stop-loss, then take-profit, then reversal.
func (m *Manager) exitReason(pos model.Position, price float64, sig model.Signal) (Reason, bool) {
	m.mu.Lock()
	sl, tp := m.cfg.StopLoss, m.cfg.TakeProfit
	m.mu.Unlock()

	entry := pos.EntryPrice
	if pos.Direction.IsLong() {
		switch {
		case price <= entry*(1-sl):
			return ReasonStopLoss, true
		case price >= entry*(1+tp):
			return ReasonTakeProfit, true
		}
	} else {
		switch {
		case price >= entry*(1+sl):
			return ReasonStopLoss, true
		case price <= entry*(1-tp):
			return ReasonTakeProfit, true
		}
	}
	if sig == pos.Direction.Opposite() {
		return ReasonReversal, true
	}
	return "", false
}

// checkReceipt folds an unconfirmed receipt into the error taxonomy.
func checkReceipt(r model.Receipt, err error) error {
	if err != nil {
		if errors.Is(err, model.ErrLedgerRejected) || errors.Is(err, model.ErrTransientNetwork) {
			return err
		}
		return errors.Wrapf(model.ErrLedgerRejected, "%v", err)
	}
	if !r.Confirmed {
		return errors.Wrap(model.ErrLedgerRejected, "receipt not confirmed")
	}
	return nil
}
