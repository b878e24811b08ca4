package alarm

import "time"

// EventKind classifies an alarm history event
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventDeleted   EventKind = "deleted"
	EventTriggered EventKind = "triggered"
	EventSnoozed   EventKind = "snoozed"
	EventDismissed EventKind = "dismissed"
)

// Event is an advisory history record for a single alarm. Events are
// stored in the lower-assurance tier: useful for display, never
// required for correct firing.
type Event struct {
	ID      string    `json:"id"`
	AlarmID string    `json:"alarm_id"`
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	Note    string    `json:"note,omitempty"`
}

// IsMutation reports whether the event kind changes the alarm set.
// Mutation events feed the monitor's frequency heuristic.
func (k EventKind) IsMutation() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}
