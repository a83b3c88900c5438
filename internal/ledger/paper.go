package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"

	"PositionSentinel/internal/model"
)

// Fill is one simulated ledger write.
type Fill struct {
	Op        string          `json:"op"`
	Direction model.Direction `json:"direction,omitempty"`
	Value     float64         `json:"value"`
	TxRef     string          `json:"tx_ref"`
	At        time.Time       `json:"at"`
}

// PaperLedger simulates the contract in memory.
type PaperLedger struct {
	mu       sync.Mutex
	balance  float64
	settings model.TradeSettings
	fills    []Fill
	failNext error
}

// NewPaperLedger creates a simulated ledger holding balance ETH.
func NewPaperLedger(balance float64, settings model.TradeSettings) *PaperLedger {
	return &PaperLedger{balance: balance, settings: settings}
}

func (p *PaperLedger) Name() string { return "paper" }

// FailNext makes the next write fail with err.
func (p *PaperLedger) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Fills returns a copy of the simulated writes, oldest first.
func (p *PaperLedger) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

func (p *PaperLedger) OpenPosition(_ context.Context, dir model.Direction, refPrice float64) (model.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings.TradeAmount > p.balance {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "insufficient balance %.4f ETH", p.balance)
	}
	r, err := p.record("open", dir, refPrice)
	if err == nil {
		p.balance -= p.settings.TradeAmount
	}
	return r, err
}

func (p *PaperLedger) ClosePosition(_ context.Context, dir model.Direction, size float64) (model.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.record("close", dir, size)
	if err == nil {
		p.balance += p.settings.TradeAmount
	}
	return r, err
}

func (p *PaperLedger) Deposit(_ context.Context, amountETH float64) (model.Receipt, error) {
	if err := ValidateDeposit(amountETH, MinDeposit); err != nil {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "%v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.record("deposit", "", amountETH)
	if err == nil {
		p.balance += amountETH
	}
	return r, err
}

func (p *PaperLedger) EmergencyWithdraw(_ context.Context, to string) (model.Receipt, error) {
	if !strings.HasPrefix(to, "0x") {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "invalid owner address %q", to)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.record("withdraw", "", p.balance)
	if err == nil {
		p.balance = 0
	}
	return r, err
}

func (p *PaperLedger) UpdateSettings(_ context.Context, s model.TradeSettings) (model.Receipt, error) {
	if err := ValidateSettings(s); err != nil {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "%v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.record("settings", "", s.TradeAmount)
	if err == nil {
		p.settings = s
	}
	return r, err
}

func (p *PaperLedger) Settings() model.TradeSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

func (p *PaperLedger) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// record appends a fill, or consumes the injected failure. Caller holds mu.
func (p *PaperLedger) record(op string, dir model.Direction, value float64) (model.Receipt, error) {
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return model.Receipt{}, err
	}
	ref := "paper-" + strings.ToLower(ulid.Make().String())
	p.fills = append(p.fills, Fill{Op: op, Direction: dir, Value: value, TxRef: ref, At: time.Now().UTC()})
	return model.Receipt{Confirmed: true, TxRef: ref}, nil
}
