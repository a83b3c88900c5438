package model

import "time"

// Direction is the side of a leveraged position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// IsLong reports whether the direction is LONG.
func (d Direction) IsLong() bool { return d == DirectionLong }

// PositionStatus is the lifecycle status of a position record.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// State is the position state machine state.
type State string

const (
	StateNone      State = "NO_POSITION"
	StateOpenLong  State = "OPEN_LONG"
	StateOpenShort State = "OPEN_SHORT"
)

// Position is the single leveraged position the agent may hold.
type Position struct {
	Direction  Direction      `json:"direction"`
	EntryPrice float64        `json:"entry_price"`
	Leverage   int            `json:"leverage"`
	OpenedAt   time.Time      `json:"opened_at"`
	Status     PositionStatus `json:"status"`
	TxRef      string         `json:"tx_ref,omitempty"`
}

// Size is the notional passed to the ledger close operation.
func (p Position) Size() float64 {
	return p.EntryPrice * float64(p.Leverage)
}

// State maps an open position to its state machine state.
func (p Position) State() State {
	if p.Status != StatusOpen {
		return StateNone
	}
	if p.Direction.IsLong() {
		return StateOpenLong
	}
	return StateOpenShort
}

// ChangePct is the signed percentage move in the position's favor at price.
func (p Position) ChangePct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	change := (price - p.EntryPrice) / p.EntryPrice * 100
	if !p.Direction.IsLong() {
		change = -change
	}
	return change
}
