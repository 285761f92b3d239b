package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/updown/config"
	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/adapters/polymarket"
	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/trader"
	"github.com/alejandrodnm/updown/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	slug := flag.String("market", "", "market slug (e.g. bitcoin-up-or-down-august-31-305pm-et)")
	dryRun := flag.Bool("dry-run", false, "simulate orders against a virtual balance")
	balance := flag.Float64("balance", 100, "virtual USDC balance for dry-run")
	replaySession := flag.String("replay", "", "replay a recorded session instead of trading")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *replaySession != "" {
		if err := trader.Replay(ctx, store, console, *replaySession); err != nil {
			slog.Error("replay failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if *slug == "" {
		slog.Error("missing -market slug")
		flag.Usage()
		os.Exit(1)
	}

	sessionID := uuid.NewString()
	slog.Info("updown starting",
		"config", *configPath,
		"market", *slug,
		"session", sessionID,
		"dry_run", *dryRun,
	)

	var markets ports.MarketProvider = polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)
	market, err := markets.FetchMarket(ctx, *slug)
	if err != nil {
		slog.Error("failed to resolve market", "err", err, "slug", *slug)
		os.Exit(1)
	}
	// Sin feed del oráculo conocido se opera igualmente, solo que sin guard:
	// el libro sigue siendo la señal de entrada.
	hasOracle := market.FeedSymbol() != ""
	if !hasOracle {
		slog.Warn("market has no known oracle feed, trading without oracle guard",
			"slug", *slug, "asset", market.Asset)
	}
	if time.Now().After(market.WindowEnd) {
		slog.Error("market window already closed", "slug", *slug, "window_end", market.WindowEnd)
		os.Exit(1)
	}

	var (
		executor ports.Executor
		verify   func(ctx context.Context, tokenID string) (bool, error)
	)
	if *dryRun {
		executor = trader.NewDryRunExecutor(*balance)
	} else {
		auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.PrivateKeyHex)
		if err != nil {
			slog.Error("failed to build auth client", "err", err)
			os.Exit(1)
		}
		tc, err := polymarket.NewTradingClient(auth, cfg.API.PolygonRPC)
		if err != nil {
			slog.Error("failed to build trading client", "err", err)
			os.Exit(1)
		}
		executor = tc
		// Gamma a veces no trae el flag negRisk; el CLOB es la fuente de
		// verdad y firmar contra el exchange equivocado rechaza la orden.
		if negRisk, err := tc.IsNegRisk(ctx, market.UpTokenID); err != nil {
			slog.Warn("could not confirm neg-risk flag, keeping gamma value",
				"err", err, "neg_risk", market.NegRisk)
		} else {
			market.NegRisk = negRisk
		}
		verify = func(ctx context.Context, tokenID string) (bool, error) {
			held, err := tc.TokenBalance(ctx, tokenID)
			if err != nil {
				return false, err
			}
			return held > 0, nil
		}
	}

	initialBalance, err := executor.Balance(ctx)
	if err != nil {
		slog.Warn("could not read starting balance, breaker will fail closed", "err", err)
		initialBalance = 0
	}

	now := time.Now()
	tracker := trader.NewTracker(market)
	guard := trader.NewGuard(trader.GuardConfig{
		Enabled:          hasOracle,
		Window:           cfg.OracleWindow(),
		MinPoints:        cfg.Oracle.MinPoints,
		MaxVolPct:        cfg.Oracle.MaxVolPct,
		MinAbsZ:          cfg.Oracle.MinAbsZ,
		BeatMaxLag:       time.Duration(cfg.Oracle.BeatMaxLagSecs) * time.Second,
		StaleAfter:       time.Duration(cfg.Oracle.MaxStaleSecs) * time.Second,
		MaxReversalSlope: cfg.Oracle.MaxReversalSlope,
	}, market.WindowStart)
	risk := trader.NewRisk(trader.RiskConfig{
		TradeSize:    cfg.Trading.TradeSizeUSDC,
		MinTradeUSDC: cfg.Trading.MinTradeUSDC,
		MaxTradeUSDC: cfg.Trading.MaxTradeUSDC,
		BalancePct:   cfg.Risk.BalancePct,
		MaxLossPct:   cfg.Risk.MaxDailyLossPct,
		MaxTrades:    cfg.Risk.MaxDailyTrades,
	}, now, initialBalance)
	// Los límites diarios sobreviven a reinicios: si el día ya cruzó el tope
	// de pérdida antes de arrancar, el breaker nace abierto.
	if err := risk.SeedFromStore(ctx, store); err != nil {
		slog.Warn("could not read daily stats, breaker fails closed for today", "err", err)
	}
	execution := trader.NewExecution(executor, store, console, sessionID, *dryRun)
	positions := trader.NewPositions(trader.StopsConfig{
		StopLossPct:      cfg.Stops.StopLossPct,
		StopLossAbsolute: cfg.Stops.StopLossAbsolute,
		TrailingPct:      cfg.Stops.TrailingStopPct,
		TakeProfitPct:    cfg.Stops.TakeProfitPct,
		CheckInterval:    cfg.StopCheckInterval(),
	}, execution, risk, store)
	journal := trader.NewJournal(store, sessionID)

	if err := positions.Recover(ctx, verify); err != nil {
		slog.Error("failed to recover open positions", "err", err)
		os.Exit(1)
	}

	strategy := trader.NewStrategy(trader.StrategyConfig{
		MinConfidence:   cfg.Trading.MinConfidence,
		MaxPrice:        cfg.Trading.MaxPrice,
		PriceEpsilon:    cfg.Trading.PriceEpsilon,
		MinLiquidity:    cfg.Trading.MinLiquidity,
		LateWindow:      cfg.LateWindow(),
		EarlyEntry:      cfg.Trading.EarlyEntry,
		EarlyFrom:       time.Duration(cfg.Trading.EarlyFromSecs) * time.Second,
		EarlyUntil:      time.Duration(cfg.Trading.EarlyUntilSecs) * time.Second,
		EarlyBidFloor:   cfg.Trading.EarlyBidFloor,
		MaxAttempts:     cfg.Trading.MaxOrderRetries,
		AttemptCooldown: 2 * time.Second,
	}, market, tracker, guard, risk, execution, positions, journal, console, executor.Balance)

	marketStream := polymarket.NewMarketStream(cfg.API.MarketWSBase,
		[]string{market.UpTokenID, market.DownTokenID})
	var oracleStream ports.OracleStream
	if hasOracle {
		oracleStream = polymarket.NewOracleStream(cfg.API.OracleWSBase, market.FeedSymbol())
	}

	engine := trader.NewEngine(market, marketStream, oracleStream, tracker, guard,
		strategy, positions, execution, journal, store, console, console)

	if err := engine.Run(ctx); err != nil {
		slog.Error("trader exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("updown stopped cleanly", "session", sessionID)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
