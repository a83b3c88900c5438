// Package server exposes the bot control surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"PositionSentinel/internal/ledger"
	"PositionSentinel/internal/metrics"
	"PositionSentinel/internal/model"
	"PositionSentinel/internal/recorder"
	"PositionSentinel/internal/scheduler"
)

// Config controls the control server.
type Config struct {
	Addr         string
	TOTPSecret   string
	OwnerAddress string
	MinDeposit   float64
}

// Server runs the control API, the activity stream and /metrics.
type Server struct {
	cfg      Config
	bot      *scheduler.Scheduler
	ledger   ledger.Ledger
	recorder recorder.Recorder
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	srv      *http.Server
}

// New creates a control server.
func New(cfg Config, bot *scheduler.Scheduler, l ledger.Ledger, rec recorder.Recorder, m *metrics.Metrics, log *zap.SugaredLogger) *Server {
	if cfg.MinDeposit <= 0 {
		cfg.MinDeposit = ledger.MinDeposit
	}
	s := &Server{cfg: cfg, bot: bot, ledger: l, recorder: rec, metrics: m, log: log}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/bot/start-bot", s.handleStart)
	mux.HandleFunc("POST /api/bot/stop-bot", s.handleStop)
	mux.HandleFunc("GET /api/bot/bot-status", s.handleStatus)
	mux.HandleFunc("GET /api/bot/current-trade", s.handleCurrentTrade)
	mux.HandleFunc("GET /api/bot/log", s.handleLog)
	mux.HandleFunc("GET /api/bot/last-action", s.handleLastAction)
	mux.HandleFunc("GET /api/bot/trades", s.handleTrades)
	mux.HandleFunc("GET /api/bot/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/bot/settings", s.requireOTP(s.handleUpdateSettings))
	mux.HandleFunc("POST /api/bot/deposit", s.requireOTP(s.handleDeposit))
	mux.HandleFunc("POST /api/bot/withdraw", s.requireOTP(s.handleWithdraw))
	mux.HandleFunc("GET /api/bot/balance", s.handleBalance)
	mux.HandleFunc("GET /api/bot/current-price", s.handleCurrentPrice)
	mux.HandleFunc("GET /api/bot/stream", s.handleStream)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.bot.Running()})
	})
	mux.Handle("GET /metrics", s.metrics.Handler())

	return withCORS(mux)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Infof("[server] listening on %s", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("[server] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	TxHash  string `json:"txHash,omitempty"`
}

type currentTrade struct {
	Active       bool            `json:"active"`
	Position     *model.Position `json:"position,omitempty"`
	CurrentPrice float64         `json:"currentPrice,omitempty"`
	PnLPct       float64         `json:"pnlPct,omitempty"`
}

type depositRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.bot.Start(); err != nil {
		writeFailure(w, http.StatusBadRequest, "Bot already running", err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Bot activated"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.bot.Stop()
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Bot stopped manually"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bot.Status())
}

func (s *Server) handleCurrentTrade(w http.ResponseWriter, r *http.Request) {
	pos, ok := s.bot.CurrentPosition()
	if !ok {
		writeJSON(w, http.StatusOK, currentTrade{Active: false})
		return
	}
	out := currentTrade{Active: true, Position: &pos}
	if snap, ok := s.bot.LastSnapshot(); ok {
		out.CurrentPrice = snap.CurrentPrice
		out.PnLPct = pos.ChangePct(snap.CurrentPrice)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bot.RecentLog(queryInt(r, "limit", 0)))
}

func (s *Server) handleLastAction(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.bot.Activity().Last()
	if !ok {
		writeFailure(w, http.StatusNotFound, "No activity yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.recorder.RecentTrades(queryInt(r, "limit", 20))
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "Failed to read trade journal", err)
		return
	}
	if trades == nil {
		trades = []recorder.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req model.TradeSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}
	if err := ledger.ValidateSettings(req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}

	receipt, err := s.ledger.UpdateSettings(r.Context(), req)
	if err != nil {
		writeLedgerFailure(w, "Settings update failed", err)
		return
	}
	if err := s.bot.ApplySettings(req); err != nil {
		writeFailure(w, http.StatusInternalServerError, "Settings saved on-chain but not applied", err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Settings saved", TxHash: receipt.TxRef})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}
	if err := ledger.ValidateDeposit(req.Amount, s.cfg.MinDeposit); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid deposit amount", err)
		return
	}

	receipt, err := s.ledger.Deposit(r.Context(), req.Amount)
	if err != nil {
		writeLedgerFailure(w, "Deposit failed", err)
		return
	}
	s.bot.Activity().Addf(model.LevelInfo, "Deposited %g ETH", req.Amount)
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Deposit successful", TxHash: receipt.TxRef})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.bot.Stop()
	receipt, err := s.ledger.EmergencyWithdraw(r.Context(), s.cfg.OwnerAddress)
	if err != nil {
		writeLedgerFailure(w, "Withdraw failed", err)
		return
	}
	s.bot.Activity().Add(model.LevelInfo, "Emergency withdrawal executed")
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Withdraw successful", TxHash: receipt.TxRef})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ledger.Balance(r.Context())
	if err != nil {
		writeLedgerFailure(w, "Failed to fetch balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": bal})
}

func (s *Server) handleCurrentPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.bot.LatestPrice(r.Context())
	if err != nil {
		writeFailure(w, http.StatusServiceUnavailable, "Failed to get price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"price": price})
}

// requireOTP rejects the request unless X-OTP holds a valid code for the
// configured secret. Without a secret the guard is disabled.
func (s *Server) requireOTP(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TOTPSecret != "" && !totp.Validate(r.Header.Get("X-OTP"), s.cfg.TOTPSecret) {
			writeFailure(w, http.StatusUnauthorized, "Invalid or missing one-time code", nil)
			return
		}
		next(w, r)
	}
}

// withCORS sets CORS headers and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-OTP")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, message string, err error) {
	resp := response{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerFailure maps the ledger error taxonomy onto HTTP statuses.
func writeLedgerFailure(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, model.ErrTransientNetwork) {
		status = http.StatusServiceUnavailable
	}
	writeFailure(w, status, message, err)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
