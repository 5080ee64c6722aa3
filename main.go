package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/api"
	"grid-trading-bot/internal/backtest"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/bot"
	"grid-trading-bot/internal/cache"
	"grid-trading-bot/internal/circuit"
	"grid-trading-bot/internal/database"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/logging"
	"grid-trading-bot/internal/notification"
	"grid-trading-bot/internal/portfolio"
	"grid-trading-bot/internal/scanner"
	"grid-trading-bot/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("load configuration")
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	logger.Info().Str("pair", cfg.Pair.Symbol).Bool("mock", cfg.Exchange.MockMode).Msg("starting grid trading engine")

	bus := events.NewEventBus()

	var exchange binance.ExchangeClient
	if cfg.Exchange.MockMode {
		exchange = binance.NewMockClient(cfg.Exchange.MockSeed)
		logger.Warn().Msg("running against the simulated exchange")
	} else {
		exchange = binance.NewClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.BaseURL)
	}

	ctx := context.Background()

	// Redis candle cache, optional
	marketCache, err := cache.New(ctx, cache.Config{
		Enabled:  cfg.Redis.Enabled,
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logging.Component(logger, "cache"))
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, candle caching disabled")
	}
	defer marketCache.Close()

	// Redis-backed read-through when available, in-process TTL cache
	// otherwise: the analyzer never hits the exchange on every cycle.
	var candles analysis.CandleProvider
	if marketCache != nil {
		candles = cache.NewCandleProvider(marketCache, exchange)
	} else {
		candles = analysis.NewCandleCache(exchange)
	}

	// PostgreSQL persistence, optional
	var repo *database.Repository
	if cfg.Database.Enabled && cfg.Database.URL != "" {
		dbLogger := logging.Component(logger, "database")
		db, err := database.NewDB(ctx, cfg.Database.URL, dbLogger)
		if err != nil {
			logger.Warn().Err(err).Msg("database unavailable, persistence disabled")
		} else {
			defer db.Close()
			if err := db.RunMigrations(ctx); err != nil {
				logger.Error().Err(err).Msg("database migrations failed")
			} else {
				repo = database.NewRepository(db)
				database.NewRecorder(repo, dbLogger).Attach(bus)
			}
		}
	}

	params := strategy.DefaultIndicatorParams()
	weights := strategy.DefaultScoreWeights()

	analyzer := analysis.NewAnalyzer(candles, params, weights, cfg.MTF, logging.Component(logger, "analysis"))
	breaker := circuit.New(circuit.Config{
		Enabled:              cfg.CircuitBreaker.Enabled,
		MaxLossPerHour:       cfg.CircuitBreaker.MaxLossPerHour,
		MaxDailyLoss:         cfg.RiskManagement.MaxDailyLoss,
		MaxConsecutiveLosses: cfg.CircuitBreaker.MaxConsecutiveLosses,
		CooldownMinutes:      cfg.CircuitBreaker.CooldownMinutes,
	}, logging.Component(logger, "circuit"))

	engine := bot.NewEngine(cfg, exchange, analyzer, breaker, bus, logging.Component(logger, "bot"))

	marketScanner := scanner.NewScanner(exchange, params, weights, cfg.Scanner, bus, logging.Component(logger, "scanner"))
	if cfg.Scanner.AutoScanEnabled {
		marketScanner.StartAutoScan()
	}

	allocator, err := portfolio.NewAllocator(portfolio.Config{
		TotalCapital:    cfg.RiskManagement.TotalCapital,
		ReserveFraction: cfg.RiskManagement.ReserveFraction,
		MaxPairs:        cfg.RiskManagement.MaxPairs,
		TickInterval:    time.Duration(cfg.Portfolio.TickSeconds) * time.Second,
		Grid:            cfg.GridConfigFor("", 1, 1),
	}, exchange, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid portfolio configuration")
	}

	runner := backtest.NewRunner(exchange, params, weights, cfg.MTF, backtest.Config{
		Interval:     cfg.Backtest.Interval,
		FeePercent:   cfg.Backtest.FeePercent,
		NumLevels:    cfg.Grid.NumLevels,
		SpacingMode:  grid.SpacingMode(cfg.Grid.SpacingMode),
		SpacingValue: cfg.Grid.SpacingValue,
		UseMTF:       cfg.Backtest.UseMTF,
		MTFEvery:     cfg.Backtest.MTFEvery,
	}, bus, logger)

	notifier := notification.NewManager(cfg.Notification.Enabled, logging.Component(logger, "notification"))
	notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
		Enabled:  cfg.Notification.Telegram.Enabled,
		BotToken: cfg.Notification.Telegram.BotToken,
		ChatID:   cfg.Notification.Telegram.ChatID,
	}))
	notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
		Enabled:    cfg.Notification.Discord.Enabled,
		WebhookURL: cfg.Notification.Discord.WebhookURL,
	}))
	notifier.Attach(bus)

	server := api.NewServer(cfg.Server, api.Deps{
		Config:    cfg,
		Engine:    engine,
		Runner:    runner,
		Scanner:   marketScanner,
		Allocator: allocator,
		Analyzer:  analyzer,
		Repo:      repo,
		Bus:       bus,
	}, logging.Component(logger, "api"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("API server failed")
	}

	if engine.IsRunning() {
		if err := engine.Stop(); err != nil {
			logger.Error().Err(err).Msg("stop engine")
		}
	}
	if allocator.Running() {
		if err := allocator.Stop(); err != nil {
			logger.Error().Err(err).Msg("stop portfolio")
		}
	}
	marketScanner.StopAutoScan()
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("engine stopped")
}
