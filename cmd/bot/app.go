package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"PositionSentinel/internal/calculator"
	"PositionSentinel/internal/collector"
	"PositionSentinel/internal/config"
	"PositionSentinel/internal/ledger"
	"PositionSentinel/internal/logger"
	"PositionSentinel/internal/metrics"
	"PositionSentinel/internal/model"
	"PositionSentinel/internal/notifier"
	"PositionSentinel/internal/position"
	"PositionSentinel/internal/recorder"
	"PositionSentinel/internal/scheduler"
	"PositionSentinel/internal/server"
	"PositionSentinel/internal/strategy"
)

// app holds the wired components. closers run in reverse order on close.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	ledger   ledger.Ledger
	store    position.Store
	recorder recorder.Recorder
	notifier notifier.Notifier
	telegram *notifier.TelegramNotifier
	metrics  *metrics.Metrics
	sched    *scheduler.Scheduler
	closers  []func() error
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation")
	}
	return cfg, nil
}

func newFetcher(cfg *config.Config) (collector.Fetcher, string) {
	switch cfg.DataSource.Provider {
	case "coingecko":
		return collector.NewCoinGeckoFetcher(cfg.DataSource.BaseURL, cfg.Proxy), cfg.DataSource.CoinID
	case "mock":
		return &collector.MockFetcher{Price: 2500}, cfg.DataSource.Symbol
	default:
		return collector.NewBinanceFetcher(cfg.DataSource.BaseURL, cfg.Proxy), cfg.DataSource.Symbol
	}
}

func (a *app) openStore() error {
	cfg := a.cfg.Store
	if cfg.Backend != "redis" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return errors.Wrap(err, "create store dir")
		}
	}
	switch cfg.Backend {
	case "bolt":
		bs, err := position.OpenBoltStore(cfg.Path)
		if err != nil {
			return err
		}
		a.store = bs
		a.closers = append(a.closers, bs.Close)
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return errors.Wrapf(err, "redis ping %s", cfg.RedisAddr)
		}
		a.store = position.NewRedisStore(rdb, cfg.Key)
		a.closers = append(a.closers, rdb.Close)
	default:
		a.store = position.NewFileStore(cfg.Path)
	}
	return nil
}

func (a *app) openRecorder() {
	path := a.cfg.Database.SQLitePath
	if path == "" {
		a.recorder = recorder.NewNoopRecorder()
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		a.log.Warnf("[main] create journal dir failed, using noop: %v", err)
		a.recorder = recorder.NewNoopRecorder()
		return
	}
	sr, err := recorder.NewSQLiteRecorder(path, a.log)
	if err != nil {
		a.log.Warnf("[main] init sqlite recorder failed, using noop: %v", err)
		a.recorder = recorder.NewNoopRecorder()
		return
	}
	a.recorder = sr
	a.closers = append(a.closers, sr.Close)
}

func (a *app) openNotifier() {
	a.notifier = notifier.NoopNotifier{}
	if a.cfg.Telegram.BotToken == "" {
		return
	}
	tn, err := notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy, a.log)
	if err != nil {
		a.log.Warnf("[main] init telegram failed, notifications disabled: %v", err)
		return
	}
	a.notifier = tn
	a.telegram = tn
}

func (a *app) openLedger() {
	cfg := a.cfg
	settings := model.TradeSettings{TradeAmount: cfg.Ledger.TradeAmount, Leverage: cfg.Strategy.Leverage}
	if cfg.Ledger.Mode == "relay" {
		a.ledger = ledger.NewRelayLedger(ledger.RelayConfig{
			BaseURL:      cfg.Ledger.RelayURL,
			APIKey:       cfg.Ledger.APIKey,
			OwnerAddress: cfg.Ledger.OwnerAddress,
			RatePerSec:   cfg.Ledger.RatePerSec,
		}, settings)
		return
	}
	a.ledger = ledger.NewPaperLedger(cfg.Ledger.PaperBalance, settings)
}

// newApp wires every component from cfg. ctx is the parent of tick contexts.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, errors.Wrap(err, "init logger")
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	a.closers = append(a.closers, func() error { _ = log.Sync(); return nil })

	fetcher, symbol := newFetcher(cfg)
	log.Infof("[main] data source: %s (%s %s)", fetcher.Name(), symbol, cfg.DataSource.Interval)
	params := collector.IndicatorParams{
		MAPeriod: cfg.Strategy.MAPeriod,
		StochRSI: calculator.StochRSIParams{
			RSIPeriod:   cfg.Strategy.RSIPeriod,
			StochPeriod: cfg.Strategy.StochPeriod,
			KSmoothing:  cfg.Strategy.KSmoothing,
			DSmoothing:  cfg.Strategy.DSmoothing,
		},
		RetracementWindow: cfg.Strategy.RetracementWindow,
	}
	col := collector.NewCollector(fetcher, symbol, cfg.DataSource.Interval, cfg.DataSource.Limit, params, log)

	if err := a.openStore(); err != nil {
		a.close()
		return nil, errors.Wrap(err, "open position store")
	}
	a.openLedger()
	log.Infof("[main] ledger: %s", a.ledger.Name())

	pm, err := position.NewManager(a.ledger, a.store, position.Config{
		StopLoss:   cfg.Strategy.StopLoss,
		TakeProfit: cfg.Strategy.TakeProfit,
		Leverage:   cfg.Strategy.Leverage,
	}, log)
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "init position manager")
	}

	a.openRecorder()
	a.openNotifier()

	a.sched, err = scheduler.NewScheduler(ctx, scheduler.Config{
		Interval:   cfg.Schedule.Interval,
		RunOnStart: cfg.Schedule.RunOnStart,
		Thresholds: strategy.Thresholds{
			Oversold:   cfg.Strategy.Oversold,
			Overbought: cfg.Strategy.Overbought,
			Level:      cfg.Strategy.Level,
		},
	}, col, pm, a.notifier, a.recorder, a.metrics, log)
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "init scheduler")
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warnf("[main] close: %v", err)
		}
	}
	a.closers = nil
}

func runBot(parent context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.log.Info("[main] PositionSentinel starting...")

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		TOTPSecret:   cfg.Server.TOTPSecret,
		OwnerAddress: cfg.Ledger.OwnerAddress,
		MinDeposit:   cfg.Ledger.MinDeposit,
	}, a.sched, a.ledger, a.recorder, a.metrics, a.log)
	srv.Start()

	if a.telegram != nil {
		go a.telegram.StartPolling(ctx, a.sched.HandleCommand)
		a.log.Info("[main] telegram command polling started")
	}

	if err := a.sched.Start(); err != nil {
		return errors.Wrap(err, "start scheduler")
	}
	a.log.Info("[main] PositionSentinel is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	a.log.Info("[main] shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		a.log.Warnf("[main] server shutdown: %v", err)
	}
	a.sched.Shutdown(shutdownCtx)
	a.log.Info("[main] PositionSentinel stopped.")
	return nil
}

func runTick(ctx context.Context, cfgPath string, out io.Writer) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	tickErr := a.sched.Tick(ctx)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a.sched.Status()); err != nil {
		return err
	}
	return tickErr
}

func printStatus(cfgPath string, limit int, out io.Writer) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, log: logger.Nop()}
	defer a.close()

	if err := a.openStore(); err != nil {
		return errors.Wrap(err, "open position store")
	}
	pos, err := a.store.Load()
	if err != nil {
		return errors.Wrap(err, "load position")
	}
	if pos == nil || pos.Status != model.StatusOpen {
		fmt.Fprintln(out, "No open position.")
	} else {
		fmt.Fprintf(out, "Open %s x%d at %.2f since %s (size %.4f, tx %s)\n",
			pos.Direction, pos.Leverage, pos.EntryPrice, pos.OpenedAt.UTC().Format(time.RFC3339), pos.Size(), pos.TxRef)
	}

	a.openRecorder()
	trades, err := a.recorder.RecentTrades(limit)
	if err != nil {
		return errors.Wrap(err, "read journal")
	}
	if len(trades) == 0 {
		fmt.Fprintln(out, "No journal trades.")
		return nil
	}
	fmt.Fprintln(out, "Recent trades:")
	for _, t := range trades {
		fmt.Fprintf(out, "  %s  %-12s %-5s price=%.2f size=%.4f %s\n",
			t.Time.Format(time.RFC3339), t.Action, t.Direction, t.Price, t.Size, t.TxRef)
	}
	return nil
}
