package types

// Event is the canonical payload emitted by native modules when state
// transitions complete. Attributes hold stringified values so payloads stay
// stable across storage and RPC encodings.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent constructs an event with an initialised attribute map.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: make(map[string]string)}
}
