package model

// Receipt is the result of a ledger operation.
type Receipt struct {
	Confirmed bool   `json:"confirmed"`
	TxRef     string `json:"tx_ref"`
}

// TradeSettings are the contract-side trade parameters.
type TradeSettings struct {
	TradeAmount float64 `json:"tradeAmountETH" yaml:"trade_amount"`
	Leverage    int     `json:"leverage" yaml:"leverage"`
}
