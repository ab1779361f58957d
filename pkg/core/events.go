package core

import "fmt"

// EventType represents the kind of change applied from the remote.
type EventType string

const (
	EventCreate  EventType = "CREATE"
	EventModify  EventType = "MODIFY"
	EventDelete  EventType = "DELETE"
	EventRewrite EventType = "REWRITE"
	EventResync  EventType = "RESYNC"
)

// Event represents a change in the replica caused by a sync round.
type Event struct {
	Type EventType
	ID   string
	// OldID is set for EventRewrite: the provisional ID that was replaced.
	OldID     string
	Timestamp int64 // Unix timestamp
}

// String implements lifecycle.Event.
func (e Event) String() string {
	if e.Type == EventRewrite {
		return fmt.Sprintf("%s %s -> %s", e.Type, e.OldID, e.ID)
	}
	return fmt.Sprintf("%s %s", e.Type, e.ID)
}
