// Package notification pushes engine events to external channels.
// Providers are small HTTP clients behind the Notifier interface; the
// Manager fans out to all enabled providers and can be attached to the
// event bus so fills, re-centers and errors are forwarded without the
// trading path knowing about Telegram or Discord.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/events"
)

type Type string

const (
	NotifyFill     Type = "fill"
	NotifyRecenter Type = "recenter"
	NotifyPause    Type = "pause"
	NotifyError    Type = "error"
	NotifyInfo     Type = "info"
)

// Notification is one outbound message
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Pair      string
	Price     float64
	Timestamp time.Time
}

// Notifier is implemented by each delivery channel
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider
type Manager struct {
	notifiers []Notifier
	enabled   bool
	logger    zerolog.Logger
}

func NewManager(enabled bool, logger zerolog.Logger) *Manager {
	return &Manager{enabled: enabled, logger: logger}
}

func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Attach subscribes the manager to the engine events worth pushing
// externally. Delivery failures are logged, never propagated back into
// the trading path.
func (m *Manager) Attach(bus *events.EventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.EventOrderFilled, func(e events.Event) {
		pair, _ := e.Data["pair"].(string)
		side, _ := e.Data["side"].(string)
		price, _ := e.Data["price"].(float64)
		quantity, _ := e.Data["quantity"].(float64)
		m.SendFill(pair, side, price, quantity)
	})
	bus.Subscribe(events.EventGridRecentered, func(e events.Event) {
		pair, _ := e.Data["pair"].(string)
		central, _ := e.Data["central_price"].(float64)
		m.SendRecenter(pair, central)
	})
	bus.Subscribe(events.EventTradingPaused, func(e events.Event) {
		reason, _ := e.Data["reason"].(string)
		m.send(&Notification{
			Type:    NotifyPause,
			Title:   "Trading paused",
			Message: reason,
		})
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		component, _ := e.Data["component"].(string)
		message, _ := e.Data["message"].(string)
		m.SendError(component, message)
	})
}

func (m *Manager) send(n *Notification) {
	if !m.enabled {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().Err(err).Str("provider", notifier.Name()).Msg("notification delivery failed")
		}
	}
}

// SendFill pushes a grid fill
func (m *Manager) SendFill(pair, side string, price, quantity float64) {
	m.send(&Notification{
		Type:    NotifyFill,
		Title:   fmt.Sprintf("Grid fill: %s", pair),
		Message: fmt.Sprintf("%s %.8f @ %.4f", side, quantity, price),
		Pair:    pair,
		Price:   price,
	})
}

// SendRecenter pushes a grid re-center
func (m *Manager) SendRecenter(pair string, centralPrice float64) {
	m.send(&Notification{
		Type:    NotifyRecenter,
		Title:   fmt.Sprintf("Grid re-centered: %s", pair),
		Message: fmt.Sprintf("new central price %.4f", centralPrice),
		Pair:    pair,
		Price:   centralPrice,
	})
}

// SendError pushes an engine error
func (m *Manager) SendError(component, message string) {
	m.send(&Notification{
		Type:    NotifyError,
		Title:   fmt.Sprintf("Error in %s", component),
		Message: message,
	})
}

// TelegramNotifier delivers via the Telegram bot API
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// DiscordNotifier delivers via a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

type DiscordConfig struct {
	Enabled    bool
	WebhookURL string
}

func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(n *Notification) error {
	color := 0x2ECC71
	if n.Type == NotifyError || n.Type == NotifyPause {
		color = 0xE74C3C
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}
	if n.Pair != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Pair", "value": n.Pair, "inline": true},
			{"name": "Price", "value": fmt.Sprintf("%.4f", n.Price), "inline": true},
		}
	}

	data, err := json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
