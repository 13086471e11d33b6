package watcher

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventStoreChanged   EventType = "store_changed"
	EventNetworkChanged EventType = "network_changed"
	EventWalletChanged  EventType = "wallet_changed"
	EventRefreshed      EventType = "refreshed"
	EventInitial        EventType = "initial"
)

// Event represents a sync event.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
