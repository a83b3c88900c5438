package recorder

import "time"

// Trade journal actions.
const (
	TradeOpen        = "OPEN"
	TradeClose       = "CLOSE"
	TradeOpenFailed  = "OPEN_FAILED"
	TradeCloseFailed = "CLOSE_FAILED"
)

// TradeEvent is one ledger interaction of the position state machine.
type TradeEvent struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Action    string    `json:"action"`
	Direction string    `json:"direction"`
	Price     float64   `json:"price"`
	Entry     float64   `json:"entry"`
	Size      float64   `json:"size"`
	Leverage  int       `json:"leverage"`
	Reason    string    `json:"reason"`
	TxRef     string    `json:"tx_ref,omitempty"`
	PnLPct    float64   `json:"pnl_pct"`
	Error     string    `json:"error,omitempty"`
}

// SnapshotEvent holds the indicators and decision of one evaluation tick.
// Nil indicator pointers are stored as NULL.
type SnapshotEvent struct {
	Time    time.Time
	Price   float64
	MA      *float64
	StochK  *float64
	StochD  *float64
	Level50 *float64
	Signal  string
	State   string
}

// Recorder persists the trade journal and tick history for analysis.
type Recorder interface {
	RecordTrade(evt *TradeEvent) error
	RecordSnapshot(evt *SnapshotEvent) error
	// RecentTrades returns up to n trades, newest first.
	RecentTrades(n int) ([]TradeEvent, error)
	Close() error
}
