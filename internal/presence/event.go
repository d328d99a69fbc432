package presence

// EventKind names an outbound live event
type EventKind string

const (
	EventConnected   EventKind = "connected"
	EventJoined      EventKind = "joined"
	EventLeft        EventKind = "left"
	EventMessage     EventKind = "message"
	EventMessageSent EventKind = "message_sent"
	EventMessages    EventKind = "messages"
	EventTyping      EventKind = "typing"
	EventRead        EventKind = "read"
	EventMarkedRead  EventKind = "marked_read"
	EventUnreadCount EventKind = "unread_count"
	EventRooms       EventKind = "rooms"
	EventRoom        EventKind = "room"
	EventError       EventKind = "error"
)

// Event is a single unit pushed to a live connection.
// Ref echoes the reference of the inbound frame the event answers, it is empty for pushes.
type Event struct {
	Kind EventKind   `json:"event"`
	Ref  string      `json:"ref,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// Sink delivers events to one live connection. Push must not block:
// an implementation that cannot accept the event returns an error instead.
type Sink interface {
	Push(evt Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(evt Event) error

func (f SinkFunc) Push(evt Event) error { return f(evt) }
