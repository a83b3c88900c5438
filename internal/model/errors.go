package model

import "github.com/go-faster/errors"

// Error taxonomy shared by the evaluation loop and its collaborators.
var (
	ErrDataUnavailable  = errors.New("data unavailable")
	ErrLedgerRejected   = errors.New("ledger rejected")
	ErrTransientNetwork = errors.New("transient network error")
)
