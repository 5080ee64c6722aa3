package notification

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/events"
)

type captureNotifier struct {
	mu       sync.Mutex
	enabled  bool
	err      error
	received []Notification
}

func (c *captureNotifier) Send(n *Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, *n)
	return c.err
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) IsEnabled() bool { return c.enabled }

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestDisabledManagerSendsNothing(t *testing.T) {
	capture := &captureNotifier{enabled: true}
	m := NewManager(false, zerolog.Nop())
	m.AddNotifier(capture)

	m.SendFill("BTCUSDT", "BUY", 100, 0.5)
	if capture.count() != 0 {
		t.Fatalf("disabled manager delivered %d notifications", capture.count())
	}
}

func TestDisabledProviderSkipped(t *testing.T) {
	off := &captureNotifier{enabled: false}
	on := &captureNotifier{enabled: true}
	m := NewManager(true, zerolog.Nop())
	m.AddNotifier(off)
	m.AddNotifier(on)

	m.SendFill("BTCUSDT", "SELL", 105, 0.5)
	if off.count() != 0 {
		t.Error("disabled provider received a notification")
	}
	if on.count() != 1 {
		t.Errorf("enabled provider received %d notifications, want 1", on.count())
	}
}

func TestProviderErrorDoesNotStopFanout(t *testing.T) {
	failing := &captureNotifier{enabled: true, err: errors.New("boom")}
	healthy := &captureNotifier{enabled: true}
	m := NewManager(true, zerolog.Nop())
	m.AddNotifier(failing)
	m.AddNotifier(healthy)

	m.SendError("grid", "submit failed")
	if healthy.count() != 1 {
		t.Errorf("healthy provider received %d notifications, want 1", healthy.count())
	}
}

func TestAttachForwardsBusEvents(t *testing.T) {
	capture := &captureNotifier{enabled: true}
	m := NewManager(true, zerolog.Nop())
	m.AddNotifier(capture)

	bus := events.NewEventBus()
	m.Attach(bus)

	bus.PublishOrderFilled("ETHUSDT", "7f9c3c4e", "BUY", 2500, 0.1)
	bus.PublishError("scanner", "ticker fetch failed")

	deadline := time.Now().Add(time.Second)
	for capture.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("forwarded %d notifications, want 2", capture.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	types := map[Type]bool{}
	for _, n := range capture.received {
		types[n.Type] = true
	}
	if !types[NotifyFill] || !types[NotifyError] {
		t.Errorf("notification types = %v, want fill and error", types)
	}
}
