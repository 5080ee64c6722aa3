package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventOrderPlaced      EventType = "ORDER_PLACED"
	EventOrderFilled      EventType = "ORDER_FILLED"
	EventOrderCancelled   EventType = "ORDER_CANCELLED"
	EventGridInitialized  EventType = "GRID_INITIALIZED"
	EventGridRecentered   EventType = "GRID_RECENTERED"
	EventTradingPaused    EventType = "TRADING_PAUSED"
	EventTradingResumed   EventType = "TRADING_RESUMED"
	EventBotStarted       EventType = "BOT_STARTED"
	EventBotStopped       EventType = "BOT_STOPPED"
	EventBacktestProgress EventType = "BACKTEST_PROGRESS"
	EventBacktestFinished EventType = "BACKTEST_FINISHED"
	EventScanCompleted    EventType = "SCAN_COMPLETED"
	EventPairAllocated    EventType = "PAIR_ALLOCATED"
	EventPairRemoved      EventType = "PAIR_REMOVED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer cannot stall the trading loop.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishOrderFilled publishes an order filled event
func (eb *EventBus) PublishOrderFilled(pair, orderID, side string, price, quantity float64) {
	eb.Publish(Event{
		Type: EventOrderFilled,
		Data: map[string]interface{}{
			"pair":     pair,
			"order_id": orderID,
			"side":     side,
			"price":    price,
			"quantity": quantity,
		},
	})
}

// PublishOrderPlaced publishes an order placed event
func (eb *EventBus) PublishOrderPlaced(pair, orderID, side string, price, quantity float64) {
	eb.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"pair":     pair,
			"order_id": orderID,
			"side":     side,
			"price":    price,
			"quantity": quantity,
		},
	})
}

// PublishOrderCancelled publishes an order cancelled event
func (eb *EventBus) PublishOrderCancelled(pair, orderID, side string, price, quantity float64) {
	eb.Publish(Event{
		Type: EventOrderCancelled,
		Data: map[string]interface{}{
			"pair":     pair,
			"order_id": orderID,
			"side":     side,
			"price":    price,
			"quantity": quantity,
		},
	})
}

// PublishBacktestProgress publishes simulator progress
func (eb *EventBus) PublishBacktestProgress(runID string, progress float64) {
	eb.Publish(Event{
		Type: EventBacktestProgress,
		Data: map[string]interface{}{
			"run_id":   runID,
			"progress": progress,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(component, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"message":   message,
		},
	})
}
