package stream

import (
	"time"

	"solana-signal-lab/internal/domain"
)

// EventType tags a telemetry event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventRaw          EventType = "raw_event"
	EventError        EventType = "error"
	EventGaveUp       EventType = "gave_up"
)

// Event is delivered on Client.Events. Raw is set for EventRaw; Reason for
// EventDisconnected and EventGaveUp; Err for EventError.
type Event struct {
	Type    EventType
	Raw     *domain.RawEvent
	Reason  string
	Err     error
	Attempt int
	At      time.Time
}
