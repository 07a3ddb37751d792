package models

// EventType tags an element of a generation stream.
type EventType string

const (
	// EventToken carries one answer fragment in generation order.
	EventToken EventType = "token"
	// EventCitations is the terminal event of a successful stream.
	EventCitations EventType = "citations"
	// EventError is the terminal event of a failed stream. Any tokens delivered
	// before it are valid partial content.
	EventError EventType = "error"
)

// Event is one element of an answer stream. A stream is an ordered sequence of
// zero or more EventToken events followed by exactly one terminal event
// (EventCitations or EventError); the channel is closed after the terminal event.
type Event struct {
	Type      EventType  `json:"type"`
	Token     string     `json:"token,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Err       error      `json:"-"`
	// Partial reports whether tokens were already delivered before a terminal
	// EventError, so the caller knows the answer is truncated rather than absent.
	Partial bool `json:"partial,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventCitations || e.Type == EventError
}
