package watcher

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventBalanceUpdated  EventType = "balance_updated"
	EventStatusUpdated   EventType = "status_updated"
	EventWalletsChanged  EventType = "wallets_changed"
	EventPaymentReceived EventType = "payment_received"
)

// Event represents a monitoring event.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
