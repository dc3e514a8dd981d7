package events

// Event is implemented by the typed ledger events and by committed Records.
type Event interface {
	EventType() string
}
