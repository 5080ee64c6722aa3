package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/backtest"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/bot"
	"grid-trading-bot/internal/circuit"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/portfolio"
	"grid-trading-bot/internal/scanner"
	"grid-trading-bot/internal/strategy"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "config.json"))

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Pair.TickSeconds = 3600

	logger := zerolog.Nop()
	bus := events.NewEventBus()
	exchange := binance.NewMockClient(1)
	params := strategy.DefaultIndicatorParams()
	weights := strategy.DefaultScoreWeights()

	analyzer := analysis.NewAnalyzer(exchange, params, weights, cfg.MTF, logger)
	breaker := circuit.New(circuit.DefaultConfig(), logger)
	engine := bot.NewEngine(cfg, exchange, nil, breaker, bus, logger)
	runner := backtest.NewRunner(exchange, params, weights, cfg.MTF, backtest.Config{
		Interval:     cfg.Backtest.Interval,
		FeePercent:   cfg.Backtest.FeePercent,
		NumLevels:    cfg.Grid.NumLevels,
		SpacingMode:  grid.SpacingMode(cfg.Grid.SpacingMode),
		SpacingValue: cfg.Grid.SpacingValue,
	}, bus, logger)
	scan := scanner.NewScanner(exchange, params, weights, cfg.Scanner, bus, logger)
	allocator, err := portfolio.NewAllocator(portfolio.Config{
		TotalCapital:    cfg.RiskManagement.TotalCapital,
		ReserveFraction: cfg.RiskManagement.ReserveFraction,
		MaxPairs:        cfg.RiskManagement.MaxPairs,
		Grid:            cfg.GridConfigFor("", 1, 1),
	}, exchange, bus, logger)
	if err != nil {
		t.Fatal(err)
	}

	return NewServer(cfg.Server, Deps{
		Config:    cfg,
		Engine:    engine,
		Runner:    runner,
		Scanner:   scan,
		Allocator: allocator,
		Analyzer:  analyzer,
		Bus:       bus,
	}, logger)
}

func doRequest(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var payload map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s %s: invalid JSON response: %v\n%s", method, path, err, w.Body.String())
		}
	}
	return w, payload
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if payload["status"] != "ok" {
		t.Errorf("payload = %v", payload)
	}
}

func TestConfigEndpointHidesSecrets(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodGet, "/api/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	for _, key := range []string{"pair", "grid", "exchange", "grid_config", "risk_management"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("config payload missing %q", key)
		}
	}
	exchange := payload["exchange"].(map[string]interface{})
	if _, leaked := exchange["api_key"]; leaked {
		t.Error("api_key leaked through /api/config")
	}
	if _, leaked := exchange["secret_key"]; leaked {
		t.Error("secret_key leaked through /api/config")
	}
}

func TestConfigUpdateMerges(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodPost, "/api/config/update",
		`{"grid":{"num_levels":12}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, payload)
	}
	if payload["success"] != true {
		t.Fatalf("payload = %v", payload)
	}
	if s.deps.Config.Grid.NumLevels != 12 {
		t.Errorf("num_levels = %d, want 12", s.deps.Config.Grid.NumLevels)
	}
	// untouched sections survive
	if s.deps.Config.Pair.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q after partial update", s.deps.Config.Pair.Symbol)
	}
}

func TestConfigUpdateRejectsInvalid(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodPost, "/api/config/update",
		`{"grid":{"num_levels":7}}`)
	if w.Code == http.StatusOK {
		t.Fatalf("odd num_levels accepted: %v", payload)
	}
	if payload["success"] != false {
		t.Errorf("error envelope = %v, want success:false", payload)
	}
	if _, ok := payload["message"].(string); !ok {
		t.Errorf("error envelope missing message: %v", payload)
	}
}

func TestBotLifecycleOverHTTP(t *testing.T) {
	s := testServer(t)

	w, _ := doRequest(t, s, http.MethodPost, "/api/bot/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	defer doRequest(t, s, http.MethodPost, "/api/bot/stop", "")

	// second start conflicts
	w, payload := doRequest(t, s, http.MethodPost, "/api/bot/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", w.Code)
	}
	if payload["success"] != false {
		t.Errorf("conflict envelope = %v", payload)
	}

	w, payload = doRequest(t, s, http.MethodGet, "/api/bot/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if payload["running"] != true {
		t.Errorf("running = %v", payload["running"])
	}
	if payload["trading_pair"] != "BTCUSDT" {
		t.Errorf("trading_pair = %v", payload["trading_pair"])
	}
	gridPayload, ok := payload["grid"].(map[string]interface{})
	if !ok {
		t.Fatalf("grid section missing: %v", payload)
	}
	for _, key := range []string{"central_price", "num_grids", "buy_grids", "sell_grids"} {
		if _, ok := gridPayload[key]; !ok {
			t.Errorf("grid payload missing %q", key)
		}
	}

	w, payload = doRequest(t, s, http.MethodGet, "/api/bot/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics code = %d", w.Code)
	}
	for _, key := range []string{"total_orders", "open_orders", "filled_orders", "total_fees"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("metrics payload missing %q", key)
		}
	}
}

func TestBotMetricsWhileStopped(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodGet, "/api/bot/metrics", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if payload["success"] != false {
		t.Errorf("envelope = %v", payload)
	}
}

func TestBacktestResultsBeforeAnyRun(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodGet, "/api/backtest/results", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if payload["success"] != false {
		t.Errorf("envelope = %v", payload)
	}
}

func TestBacktestRejectsUnknownStrategy(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodPost, "/api/backtest/run",
		`{"pair":"BTCUSDT","start_date":"2024-01-01","end_date":"2024-02-01","capital":1000,"grid_levels":4,"strategy":"martingale"}`)
	if w.Code == http.StatusOK {
		t.Fatalf("unknown strategy accepted: %v", payload)
	}
	if payload["success"] != false {
		t.Errorf("envelope = %v", payload)
	}
}

func TestScannerConfigRoundTrip(t *testing.T) {
	s := testServer(t)

	w, payload := doRequest(t, s, http.MethodPost, "/api/market/scanner-config",
		`{"ema_fast_period":9,"ema_slow_period":21,"auto_scan_enabled":false,"auto_scan_interval_minutes":15}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if payload["ema_fast_period"] != float64(9) || payload["ema_slow_period"] != float64(21) {
		t.Errorf("echoed config = %v", payload)
	}

	w, payload = doRequest(t, s, http.MethodGet, "/api/market/scanner-config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if payload["auto_scan_interval_minutes"] != float64(15) {
		t.Errorf("persisted config = %v", payload)
	}
}

func TestMTFStatusWithoutAnalysis(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodGet, "/api/mtf/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if payload["status"] != "no_analysis" {
		t.Errorf("payload = %v", payload)
	}
}

func TestMultiPairStatusShape(t *testing.T) {
	s := testServer(t)
	w, payload := doRequest(t, s, http.MethodGet, "/api/multi-pair/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload = %v", payload)
	}
	for _, key := range []string{"running", "enabled", "active_pairs_count", "summary", "pairs"} {
		if _, ok := data[key]; !ok {
			t.Errorf("multi-pair data missing %q", key)
		}
	}
	if data["running"] != false {
		t.Errorf("running = %v before start", data["running"])
	}
}

func TestHistoryEndpointsWithoutPersistence(t *testing.T) {
	s := testServer(t)
	paths := []string{
		"/api/history/fills",
		"/api/history/trades",
		"/api/backtest/results/3f2e9a50-1111-2222-3333-444455556666",
	}
	for _, path := range paths {
		w, payload := doRequest(t, s, http.MethodGet, path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want %d", path, w.Code, http.StatusBadRequest)
		}
		if payload["success"] != false {
			t.Errorf("GET %s envelope = %v, want success:false", path, payload)
		}
	}
}
