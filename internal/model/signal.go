package model

// Signal is the directional output of the signal generator.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalNone Signal = "NONE"
)

func (s Signal) String() string { return string(s) }

// Opposite returns the reversal signal for a direction.
func (d Direction) Opposite() Signal {
	if d == DirectionLong {
		return SignalSell
	}
	return SignalBuy
}

// DirectionFor maps an entry signal to the position direction it opens.
func DirectionFor(s Signal) (Direction, bool) {
	switch s {
	case SignalBuy:
		return DirectionLong, true
	case SignalSell:
		return DirectionShort, true
	default:
		return "", false
	}
}
