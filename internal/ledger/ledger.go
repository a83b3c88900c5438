// Package ledger submits position and treasury transactions to the trading contract.
package ledger

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"PositionSentinel/internal/model"
)

// MinDeposit is the smallest accepted deposit, in ETH.
const MinDeposit = 0.004

// Ledger is the contract-facing collaborator. Every write returns a receipt;
// an unconfirmed receipt means the operation did not take effect.
type Ledger interface {
	OpenPosition(ctx context.Context, dir model.Direction, refPrice float64) (model.Receipt, error)
	ClosePosition(ctx context.Context, dir model.Direction, size float64) (model.Receipt, error)
	Deposit(ctx context.Context, amountETH float64) (model.Receipt, error)
	EmergencyWithdraw(ctx context.Context, to string) (model.Receipt, error)
	UpdateSettings(ctx context.Context, s model.TradeSettings) (model.Receipt, error)
	Settings() model.TradeSettings
	Balance(ctx context.Context) (float64, error)
	Name() string
}

// ValidateDeposit checks a deposit amount against the minimum.
func ValidateDeposit(amountETH, minimum float64) error {
	if amountETH <= 0 {
		return errors.New("deposit amount must be positive")
	}
	if amountETH < minimum {
		return errors.Errorf("minimum deposit is %s ETH", decimal.NewFromFloat(minimum).String())
	}
	return nil
}

// ValidateSettings rejects non-positive trade amounts and leverage.
func ValidateSettings(s model.TradeSettings) error {
	if s.TradeAmount <= 0 {
		return errors.New("trade amount must be positive")
	}
	if s.Leverage <= 0 {
		return errors.New("leverage must be positive")
	}
	return nil
}

// toWei converts an ETH amount to an integer wei string.
func toWei(eth float64) string {
	return decimal.NewFromFloat(eth).Shift(18).Truncate(0).String()
}

// fromWei converts an integer wei string to ETH.
func fromWei(wei string) (float64, error) {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return 0, errors.Wrapf(err, "parse wei %q", wei)
	}
	return d.Shift(-18).InexactFloat64(), nil
}

// priceUnits scales a USD price to the contract's 30-decimal fixed point.
func priceUnits(price float64) string {
	return decimal.NewFromFloat(price).Shift(30).Truncate(0).String()
}
