package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ParticipantStatus is available or busy.
type ParticipantStatus string

const (
	StatusAvailable ParticipantStatus = "available"
	StatusBusy      ParticipantStatus = "busy"
)

// Metadata is captured once at join and is opaque to the engine.
type Metadata struct {
	IP         string
	Location   string
	DeviceType string
	UserAgent  string
}

// DeviceClass returns a coarse device class from a user agent string.
func DeviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

// Participant is one connected peer. Status and the outbound queue are guarded
// by the owning Room's mutex; the transport writer only reads from Outbound.
type Participant struct {
	ID       string
	Meta     Metadata
	JoinedAt time.Time

	status ParticipantStatus
	send   chan []byte
	closed bool

	closeCode   int
	closeReason string
}

// NewParticipant issues a fresh id. Ids are random UUIDs and never reissued.
func NewParticipant(meta Metadata, buffer int) *Participant {
	if buffer <= 0 {
		buffer = 64
	}
	return &Participant{
		ID:     uuid.NewString(),
		Meta:   meta,
		status: StatusAvailable,
		send:   make(chan []byte, buffer),
	}
}

// Outbound yields frames in the order the Room issued them. It is closed when
// the Room drops the participant; CloseStatus is valid after that.
func (p *Participant) Outbound() <-chan []byte {
	return p.send
}

// CloseStatus returns the close code and reason to send on the transport.
func (p *Participant) CloseStatus() (int, string) {
	return p.closeCode, p.closeReason
}

// enqueue must be called with the room mutex held. A full queue closes the
// participant so the transport tears down and the disconnect path runs.
func (p *Participant) enqueue(frame []byte) bool {
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.shut(websocket.ClosePolicyViolation, "slow consumer")
		return false
	}
}

// shut must be called with the room mutex held.
func (p *Participant) shut(code int, reason string) {
	if p.closed {
		return
	}
	p.closed = true
	p.closeCode = code
	p.closeReason = reason
	close(p.send)
}
