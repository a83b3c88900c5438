package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"PositionSentinel/internal/model"
)

// RelayConfig configures the signing relay connection.
type RelayConfig struct {
	BaseURL      string
	APIKey       string
	OwnerAddress string
	RatePerSec   float64
	Timeout      time.Duration
}

// RelayLedger submits transactions through an HTTP signing relay that holds
// the wallet key and waits for each transaction to be mined.
type RelayLedger struct {
	cfg     RelayConfig
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	settings model.TradeSettings
}

// NewRelayLedger creates a relay-backed ledger.
func NewRelayLedger(cfg RelayConfig, settings model.TradeSettings) *RelayLedger {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &RelayLedger{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		settings: settings,
	}
}

func (r *RelayLedger) Name() string { return "relay" }

type openRequest struct {
	IsLong          bool   `json:"is_long"`
	AcceptablePrice string `json:"acceptable_price"`
	ValueWei        string `json:"value_wei"`
}

type closeRequest struct {
	IsLong bool   `json:"is_long"`
	Size   string `json:"size"`
}

type depositRequest struct {
	ValueWei string `json:"value_wei"`
}

type withdrawRequest struct {
	To string `json:"to"`
}

type settingsRequest struct {
	TradeAmountWei string `json:"trade_amount_wei"`
	Leverage       int    `json:"leverage"`
}

type relayResponse struct {
	Confirmed bool   `json:"confirmed"`
	TxHash    string `json:"tx_hash"`
	Error     string `json:"error"`
}

type balanceResponse struct {
	BalanceWei string `json:"balance_wei"`
}

func (r *RelayLedger) OpenPosition(ctx context.Context, dir model.Direction, refPrice float64) (model.Receipt, error) {
	return r.submit(ctx, "/v1/positions/open", openRequest{
		IsLong:          dir.IsLong(),
		AcceptablePrice: priceUnits(refPrice),
		ValueWei:        toWei(r.Settings().TradeAmount),
	})
}

func (r *RelayLedger) ClosePosition(ctx context.Context, dir model.Direction, size float64) (model.Receipt, error) {
	return r.submit(ctx, "/v1/positions/close", closeRequest{
		IsLong: dir.IsLong(),
		Size:   priceUnits(size),
	})
}

func (r *RelayLedger) Deposit(ctx context.Context, amountETH float64) (model.Receipt, error) {
	if err := ValidateDeposit(amountETH, MinDeposit); err != nil {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "%v", err)
	}
	return r.submit(ctx, "/v1/deposit", depositRequest{ValueWei: toWei(amountETH)})
}

func (r *RelayLedger) EmergencyWithdraw(ctx context.Context, to string) (model.Receipt, error) {
	if to == "" {
		to = r.cfg.OwnerAddress
	}
	if !strings.HasPrefix(to, "0x") {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "invalid owner address %q", to)
	}
	return r.submit(ctx, "/v1/withdraw", withdrawRequest{To: to})
}

func (r *RelayLedger) UpdateSettings(ctx context.Context, s model.TradeSettings) (model.Receipt, error) {
	if err := ValidateSettings(s); err != nil {
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "%v", err)
	}
	receipt, err := r.submit(ctx, "/v1/settings", settingsRequest{
		TradeAmountWei: toWei(s.TradeAmount),
		Leverage:       s.Leverage,
	})
	if err != nil {
		return receipt, err
	}
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	return receipt, nil
}

func (r *RelayLedger) Settings() model.TradeSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *RelayLedger) Balance(ctx context.Context) (float64, error) {
	var out balanceResponse
	status, err := r.do(ctx, http.MethodGet, "/v1/balance", nil, &out)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, errors.Wrapf(model.ErrLedgerRejected, "balance: status %d", status)
	}
	return fromWei(out.BalanceWei)
}

// submit posts a write and maps the relay answer onto a receipt.
func (r *RelayLedger) submit(ctx context.Context, path string, body any) (model.Receipt, error) {
	var out relayResponse
	status, err := r.do(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return model.Receipt{}, err
	}
	if status < 200 || status > 299 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return model.Receipt{}, errors.Wrapf(model.ErrLedgerRejected, "%s: status %d: %s", path, status, msg)
	}
	if !out.Confirmed || out.Error != "" {
		return model.Receipt{TxRef: out.TxHash}, errors.Wrapf(model.ErrLedgerRejected, "%s: not confirmed: %s", path, out.Error)
	}
	return model.Receipt{Confirmed: true, TxRef: out.TxHash}, nil
}

func (r *RelayLedger) do(ctx context.Context, method, path string, body, out any) (int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, errors.Wrapf(model.ErrTransientNetwork, "relay rate limiter: %v", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(model.ErrTransientNetwork, "relay %s: %v", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrapf(model.ErrTransientNetwork, "relay %s read body: %v", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, errors.Wrapf(model.ErrLedgerRejected, "relay %s decode: %v", path, err)
		}
	}
	return resp.StatusCode, nil
}
