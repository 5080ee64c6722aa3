package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("CONFIG_FILE", path)
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	testConfigFile(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pair.Symbol != "BTCUSDT" {
		t.Errorf("default symbol = %q, want BTCUSDT", cfg.Pair.Symbol)
	}
	if cfg.Grid.NumLevels != 10 {
		t.Errorf("default num_levels = %d, want 10", cfg.Grid.NumLevels)
	}
	if !cfg.Exchange.MockMode {
		t.Error("default config should start in mock mode")
	}
}

func TestLoadReadsFileAndKeepsDefaultsForGaps(t *testing.T) {
	path := testConfigFile(t)
	doc := `{"pair":{"symbol":"ETHUSDT"},"grid":{"num_levels":6}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pair.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q, want ETHUSDT", cfg.Pair.Symbol)
	}
	if cfg.Grid.NumLevels != 6 {
		t.Errorf("num_levels = %d, want 6", cfg.Grid.NumLevels)
	}
	if cfg.Grid.SpacingMode != "geometric" {
		t.Errorf("spacing_mode = %q, want default geometric", cfg.Grid.SpacingMode)
	}
	if cfg.RiskManagement.TotalCapital != 10000 {
		t.Errorf("total_capital = %f, want default 10000", cfg.RiskManagement.TotalCapital)
	}
}

func TestEnvOverrides(t *testing.T) {
	testConfigFile(t)
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("WEB_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" {
		t.Errorf("api key = %q, want env-key", cfg.Exchange.APIKey)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestUpdateMergesPartialDocument(t *testing.T) {
	testConfigFile(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Pair.Symbol = "SOLUSDT"

	err = cfg.Update(map[string]interface{}{
		"grid": map[string]interface{}{"num_levels": float64(12)},
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if cfg.Grid.NumLevels != 12 {
		t.Errorf("num_levels = %d, want 12", cfg.Grid.NumLevels)
	}
	// untouched sections must survive the merge
	if cfg.Pair.Symbol != "SOLUSDT" {
		t.Errorf("symbol = %q, want SOLUSDT", cfg.Pair.Symbol)
	}
	if cfg.Grid.SpacingValue != 0.02 {
		t.Errorf("spacing_value = %f, want 0.02", cfg.Grid.SpacingValue)
	}

	// merge must be persisted
	reloaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Grid.NumLevels != 12 {
		t.Errorf("reloaded num_levels = %d, want 12", reloaded.Grid.NumLevels)
	}
	if reloaded.Pair.Symbol != "SOLUSDT" {
		t.Errorf("reloaded symbol = %q, want SOLUSDT", reloaded.Pair.Symbol)
	}
}

func TestUpdateRejectsInvalidValues(t *testing.T) {
	testConfigFile(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	cases := []map[string]interface{}{
		{"grid": map[string]interface{}{"num_levels": float64(7)}},
		{"grid": map[string]interface{}{"spacing_value": float64(-1)}},
		{"risk_management": map[string]interface{}{"reserve_fraction": float64(1.5)}},
		{"server": map[string]interface{}{"port": float64(0)}},
	}
	for _, partial := range cases {
		if err := cfg.Update(partial); err == nil {
			t.Errorf("Update(%v) accepted invalid value", partial)
		}
	}

	// a rejected update must not leak into the live config
	if cfg.Grid.NumLevels != 10 {
		t.Errorf("num_levels = %d after rejected updates, want 10", cfg.Grid.NumLevels)
	}
}

func TestMergeMapsNested(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	src := map[string]interface{}{
		"a": map[string]interface{}{"y": 9.0},
	}
	out := mergeMaps(dst, src)

	inner := out["a"].(map[string]interface{})
	if inner["x"] != 1.0 || inner["y"] != 9.0 {
		t.Errorf("nested merge wrong: %v", inner)
	}
	if out["b"] != "keep" {
		t.Errorf("sibling key lost: %v", out["b"])
	}
}
