// Package observer carries immutable room lifecycle events to admin monitoring sinks.
package observer

import "time"

// EventType names a lifecycle event.
type EventType string

const (
	EventRoomCreated       EventType = "room_created"
	EventRoomRestored      EventType = "room_restored"
	EventRoomClosed        EventType = "room_closed"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventCallRinging       EventType = "call_ringing"
	EventCallStarted       EventType = "call_started"
	EventCallEnded         EventType = "call_ended"
	EventCallMissed        EventType = "call_missed"
	EventParticipantsInfo  EventType = "participants_info"
)

// ParticipantInfo is a copy of participant metadata; never a reference into a Room.
type ParticipantInfo struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	IP         string `json:"ip,omitempty"`
	Location   string `json:"location,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Initiator  bool   `json:"initiator,omitempty"`
}

// Event is an immutable record. Producers build a fresh value per event and
// never retain the Participants slice.
type Event struct {
	Type           EventType         `json:"type"`
	RoomID         string            `json:"room_id"`
	At             time.Time         `json:"at"`
	ParticipantID  string            `json:"participant_id,omitempty"`
	TargetID       string            `json:"target_id,omitempty"`
	CallType       string            `json:"call_type,omitempty"`
	ConnectionType string            `json:"connection_type,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Duration       *float64          `json:"duration_seconds,omitempty"`
	Participants   []ParticipantInfo `json:"participants,omitempty"`
}

// Observer receives lifecycle events. Publish must not block.
type Observer interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Fanout publishes to every sink in order.
type Fanout []Observer

func (f Fanout) Publish(e Event) {
	for _, o := range f {
		o.Publish(e)
	}
}
