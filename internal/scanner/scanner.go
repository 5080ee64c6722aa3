package scanner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/strategy"
)

// Config holds scanner settings, including the auto-scan loop.
type Config struct {
	EMAFastPeriod           int  `json:"ema_fast_period"`
	EMASlowPeriod           int  `json:"ema_slow_period"`
	AutoScanEnabled         bool `json:"auto_scan_enabled"`
	AutoScanIntervalMinutes int  `json:"auto_scan_interval_minutes"`

	WorkerCount int     `json:"worker_count"`
	CandleLimit int     `json:"candle_limit"`
	Timeframe   string  `json:"timeframe"`
	QuoteAsset  string  `json:"quote_asset"`
	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
}

// DefaultConfig returns the standard scanner configuration
func DefaultConfig() Config {
	return Config{
		EMAFastPeriod:           12,
		EMASlowPeriod:           26,
		AutoScanIntervalMinutes: 15,
		WorkerCount:             8,
		CandleLimit:             150,
		Timeframe:               "1h",
		QuoteAsset:              "USDT",
		MinPrice:                0.01,
		MaxPrice:                100000,
	}
}

// Request describes one scan: the price filter, the timeframe and the
// EMA periods to score with.
type Request struct {
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	Timeframe     string  `json:"timeframe"`
	QuoteCurrency string  `json:"quote_currency"`
	EMAFastPeriod int     `json:"ema_fast_period"`
	EMASlowPeriod int     `json:"ema_slow_period"`
}

// Result is one scored pair.
type Result struct {
	Pair       string                 `json:"pair"`
	Price      float64                `json:"price"`
	Score      float64                `json:"score"`
	Signal     strategy.Signal        `json:"signal"`
	Indicators *strategy.IndicatorSet `json:"indicators"`
	Flags      strategy.SignalFlags   `json:"flags"`
	Scores     strategy.SubScores     `json:"scores"`
}

// Summary is a completed scan: ranked results plus the bookkeeping
// counts. Pairs lacking candle history are excluded, not failed.
type Summary struct {
	Results        []Result      `json:"results"`
	SymbolsScanned int           `json:"symbols_scanned"`
	Insufficient   int           `json:"insufficient_history"`
	Duration       time.Duration `json:"duration"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Scanner fans indicator computation out over the candidate universe
// with a bounded worker pool. Scans are read-only over candle data, so
// workers need no coordination beyond the result channel.
type Scanner struct {
	exchange binance.ExchangeClient
	params   strategy.IndicatorParams
	weights  strategy.ScoreWeights
	bus      *events.EventBus
	logger   zerolog.Logger

	mu       sync.RWMutex
	config   Config
	last     *Summary
	stopChan chan struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewScanner creates a market scanner
func NewScanner(exchange binance.ExchangeClient, params strategy.IndicatorParams, weights strategy.ScoreWeights, cfg Config, bus *events.EventBus, logger zerolog.Logger) *Scanner {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 150
	}
	return &Scanner{
		exchange: exchange,
		params:   params,
		weights:  weights,
		config:   cfg,
		bus:      bus,
		logger:   logger.With().Str("component", "scanner").Logger(),
	}
}

// Scan runs one cycle: filter the universe by last price, score every
// surviving pair concurrently, rank descending by score with the pair
// symbol as the stable tie-break.
func (sc *Scanner) Scan(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()

	sc.mu.RLock()
	cfg := sc.config
	sc.mu.RUnlock()

	if req.Timeframe == "" {
		req.Timeframe = cfg.Timeframe
	}
	if req.QuoteCurrency == "" {
		req.QuoteCurrency = cfg.QuoteAsset
	}
	if req.MaxPrice <= 0 {
		req.MaxPrice = cfg.MaxPrice
	}

	params := sc.params
	if req.EMAFastPeriod > 0 {
		params.EMAFastPeriod = req.EMAFastPeriod
	}
	if req.EMASlowPeriod > 0 {
		params.EMASlowPeriod = req.EMASlowPeriod
	}

	tickers, err := sc.exchange.Get24hrTickers()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		symbol string
		price  float64
	}
	universe := make([]candidate, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, req.QuoteCurrency) {
			continue
		}
		if t.LastPrice < req.MinPrice || t.LastPrice > req.MaxPrice {
			continue
		}
		universe = append(universe, candidate{symbol: t.Symbol, price: t.LastPrice})
	}

	symbolChan := make(chan candidate, len(universe))
	resultChan := make(chan Result, len(universe))
	skippedChan := make(chan struct{}, len(universe))

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range symbolChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				result, err := sc.scoreSymbol(c.symbol, c.price, req.Timeframe, cfg.CandleLimit, params)
				if err != nil {
					if errors.Is(err, strategy.ErrInsufficientData) {
						skippedChan <- struct{}{}
					} else {
						sc.logger.Warn().Err(err).Str("pair", c.symbol).Msg("scan failed for pair")
					}
					continue
				}
				resultChan <- *result
			}
		}()
	}

	for _, c := range universe {
		symbolChan <- c
	}
	close(symbolChan)

	wg.Wait()
	close(resultChan)
	close(skippedChan)

	summary := &Summary{
		Results:        make([]Result, 0, len(universe)),
		SymbolsScanned: len(universe),
		Insufficient:   len(skippedChan),
		Timestamp:      start,
	}
	for result := range resultChan {
		summary.Results = append(summary.Results, result)
	}

	sort.Slice(summary.Results, func(i, j int) bool {
		if summary.Results[i].Score != summary.Results[j].Score {
			return summary.Results[i].Score > summary.Results[j].Score
		}
		return summary.Results[i].Pair < summary.Results[j].Pair
	})

	summary.Duration = time.Since(start)

	sc.mu.Lock()
	sc.last = summary
	sc.mu.Unlock()

	sc.logger.Info().
		Int("scanned", summary.SymbolsScanned).
		Int("scored", len(summary.Results)).
		Int("insufficient_history", summary.Insufficient).
		Dur("duration", summary.Duration).
		Msg("scan completed")

	if sc.bus != nil {
		sc.bus.Publish(events.Event{
			Type: events.EventScanCompleted,
			Data: map[string]interface{}{
				"scanned": summary.SymbolsScanned,
				"scored":  len(summary.Results),
			},
		})
	}
	return summary, nil
}

// scoreSymbol runs the indicator engine and scorer for a single pair.
func (sc *Scanner) scoreSymbol(symbol string, price float64, timeframe string, limit int, params strategy.IndicatorParams) (*Result, error) {
	klines, err := sc.exchange.GetKlines(symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}

	current, err := strategy.Compute(klines, params)
	if err != nil {
		return nil, err
	}

	var previous *strategy.IndicatorSet
	if prev, err := strategy.Compute(klines[:len(klines)-1], params); err == nil {
		previous = prev
	}

	scored := strategy.ScoreSignals(current, previous, sc.weights)

	return &Result{
		Pair:       symbol,
		Price:      price,
		Score:      scored.Score,
		Signal:     scored.Signal,
		Indicators: current,
		Flags:      scored.Flags,
		Scores:     scored.SubScores,
	}, nil
}

// StartAutoScan launches the background loop if enabled in config.
func (sc *Scanner) StartAutoScan() {
	sc.mu.Lock()
	if !sc.config.AutoScanEnabled || sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = true
	sc.stopChan = make(chan struct{})
	interval := time.Duration(sc.config.AutoScanIntervalMinutes) * time.Minute
	sc.mu.Unlock()

	if interval <= 0 {
		interval = 15 * time.Minute
	}

	sc.wg.Add(1)
	go sc.autoScanLoop(interval)
	sc.logger.Info().Dur("interval", interval).Msg("auto-scan started")
}

func (sc *Scanner) autoScanLoop(interval time.Duration) {
	defer sc.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.mu.RLock()
			cfg := sc.config
			sc.mu.RUnlock()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			_, err := sc.Scan(ctx, Request{
				MinPrice:      cfg.MinPrice,
				MaxPrice:      cfg.MaxPrice,
				Timeframe:     cfg.Timeframe,
				QuoteCurrency: cfg.QuoteAsset,
				EMAFastPeriod: cfg.EMAFastPeriod,
				EMASlowPeriod: cfg.EMASlowPeriod,
			})
			cancel()
			if err != nil {
				sc.logger.Error().Err(err).Msg("auto-scan cycle failed")
			}
		case <-sc.stopChan:
			return
		}
	}
}

// StopAutoScan halts the background loop.
func (sc *Scanner) StopAutoScan() {
	sc.mu.Lock()
	if !sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = false
	close(sc.stopChan)
	sc.mu.Unlock()

	sc.wg.Wait()
	sc.logger.Info().Msg("auto-scan stopped")
}

// Config returns the current scanner configuration.
func (sc *Scanner) Config() Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// UpdateConfig applies new settings and restarts the auto-scan loop to
// pick them up.
func (sc *Scanner) UpdateConfig(cfg Config) {
	sc.StopAutoScan()

	sc.mu.Lock()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = sc.config.WorkerCount
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = sc.config.CandleLimit
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = sc.config.Timeframe
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = sc.config.QuoteAsset
	}
	sc.config = cfg
	sc.mu.Unlock()

	sc.StartAutoScan()
}

// LastScan returns the most recent scan summary, or nil before the
// first scan completes.
func (sc *Scanner) LastScan() *Summary {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.last
}
