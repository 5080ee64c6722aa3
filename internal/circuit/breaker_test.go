package circuit

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testBreaker(cfg Config) *Breaker {
	return New(cfg, zerolog.Nop())
}

func TestConsecutiveLossesTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	cfg.MaxLossPerHour = 1000
	cfg.MaxDailyLoss = 1000
	b := testBreaker(cfg)

	for i := 0; i < 2; i++ {
		b.RecordTrade(-0.1)
	}
	if ok, _ := b.CanTrade(); !ok {
		t.Fatal("breaker tripped before the limit")
	}

	b.RecordTrade(-0.1)
	if b.GetState() != StateOpen {
		t.Fatalf("state = %s after 3 losses, want open", b.GetState())
	}
	ok, reason := b.CanTrade()
	if ok {
		t.Fatal("CanTrade = true with breaker open")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Errorf("reason = %q, want cooldown mention", reason)
	}
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	cfg.MaxLossPerHour = 1000
	cfg.MaxDailyLoss = 1000
	b := testBreaker(cfg)

	b.RecordTrade(-0.1)
	b.RecordTrade(-0.1)
	b.RecordTrade(0.2)
	b.RecordTrade(-0.1)
	b.RecordTrade(-0.1)

	if b.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", b.GetState())
	}
}

func TestHourlyLossTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLossPerHour = 2.0
	cfg.MaxConsecutiveLosses = 100
	cfg.MaxDailyLoss = 1000
	b := testBreaker(cfg)

	b.RecordTrade(-1.5)
	if b.GetState() != StateClosed {
		t.Fatal("tripped below the hourly limit")
	}
	b.RecordTrade(-0.6)
	if b.GetState() != StateOpen {
		t.Fatalf("state = %s after 2.1%% hourly loss, want open", b.GetState())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	cfg.CooldownMinutes = 0
	b := testBreaker(cfg)

	b.RecordTrade(-0.1)
	if b.GetState() != StateOpen {
		t.Fatal("breaker did not trip")
	}

	// zero cooldown: the next CanTrade probes half-open. Consecutive
	// losses still block entry until a winner lands.
	b.ForceReset()
	if ok, _ := b.CanTrade(); !ok {
		t.Fatal("CanTrade = false after reset")
	}
}

func TestTripCallbackFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	b := testBreaker(cfg)

	tripped := make(chan string, 1)
	b.OnTrip(func(reason string) { tripped <- reason })

	b.RecordTrade(-0.5)

	select {
	case reason := <-tripped:
		if !strings.Contains(reason, "consecutive losses") {
			t.Errorf("trip reason = %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("trip callback not fired")
	}
}

func TestDisabledBreakerAllowsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.MaxConsecutiveLosses = 1
	b := testBreaker(cfg)

	b.RecordTrade(-50)
	if ok, _ := b.CanTrade(); !ok {
		t.Fatal("disabled breaker blocked trading")
	}
}

func TestNonFiniteResultsIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	b := testBreaker(cfg)

	nan := 0.0
	b.RecordTrade(nan / nan)
	if b.GetState() != StateClosed {
		t.Fatal("NaN result tripped the breaker")
	}
}
