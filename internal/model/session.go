package model

import "time"

// SessionStatus represents room session state.
type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusClosed  SessionStatus = "closed"
)

// RoomType affects only the expiry horizon of a room.
type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeAdmin   RoomType = "admin"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomTypePrivate || t == RoomTypeAdmin
}

// CallType is the media kind requested by call_user.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// ConnectionType is the ICE candidate type the peers ended up on.
type ConnectionType string

const (
	ConnectionTypeHost    ConnectionType = "host"
	ConnectionTypeSrflx   ConnectionType = "srflx"
	ConnectionTypeRelay   ConnectionType = "relay"
	ConnectionTypeUnknown ConnectionType = "unknown"
)

// ParseConnectionType maps client-reported candidate types; anything else is unknown.
func ParseConnectionType(s string) ConnectionType {
	switch ConnectionType(s) {
	case ConnectionTypeHost, ConnectionTypeSrflx, ConnectionTypeRelay:
		return ConnectionType(s)
	}
	return ConnectionTypeUnknown
}

// Close reasons persisted in call_sessions.close_reason and sent as WebSocket close reasons.
const (
	ReasonExpired        = "Room lifetime expired"
	ReasonClosedByAdmin  = "Closed by admin"
	ReasonClosedByUser   = "Closed by user"
	ReasonRoomFull       = "Room is full"
	ReasonRoomNotFound   = "Room not found"
	ReasonServerShutdown = "Server shutting down"
)

// RoomSession is the persisted room record (not GORM entity).
type RoomSession struct {
	RoomID      string        `json:"room_id"`
	CreatorID   int64         `json:"creator_id"`
	RoomType    RoomType      `json:"room_type"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	CloseReason *string       `json:"close_reason,omitempty"`
}

// Routable reports whether the room accepts signaling at now.
func (s *RoomSession) Routable(now time.Time) bool {
	return s != nil && s.ClosedAt == nil && now.Before(s.ExpiresAt)
}

// NewSession carries the fields needed to insert a session.
type NewSession struct {
	RoomID    string
	CreatorID int64
	CreatedAt time.Time
	ExpiresAt time.Time
	RoomType  RoomType
}

// CallRecord is one call inside a room session.
type CallRecord struct {
	ID                     string          `json:"id"`
	SessionID              string          `json:"session_id"`
	CallType               CallType        `json:"call_type"`
	StartedAt              time.Time       `json:"started_at"`
	EndedAt                *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds        *float64        `json:"duration_seconds,omitempty"`
	ConnectionType         *ConnectionType `json:"connection_type,omitempty"`
	InitiatorParticipantID *string         `json:"initiator_participant_id,omitempty"`
}

// ConnectionRecord is participant metadata captured at join.
type ConnectionRecord struct {
	SessionID     string
	ParticipantID string
	IPAddress     string
	Location      string
	DeviceType    string
	UserAgent     string
	ConnectedAt   time.Time
}

// AdminToken is a bearer token for the admin API.
type AdminToken struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateRoomRequest is the request body for POST /api/admin/room.
type CreateRoomRequest struct {
	CreatorID int64    `json:"creator_id" binding:"required"`
	RoomType  RoomType `json:"room_type"`
}

// CreateRoomResponse is the response for POST /api/admin/room.
type CreateRoomResponse struct {
	RoomID    string    `json:"room_id"`
	URL       string    `json:"url"`
	WSURL     string    `json:"ws_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CloseRoomResponse is the response for DELETE /api/admin/room/:room_id.
type CloseRoomResponse struct {
	Status string `json:"status"`
	RoomID string `json:"room_id"`
}

// UserCloseRequest is the body for POST /room/close/:room_id.
type UserCloseRequest struct {
	ParticipantID string `json:"participant_id"`
}

// RoomCallsResponse is the response for GET /api/admin/room/:room_id/calls.
type RoomCallsResponse struct {
	RoomID string       `json:"room_id"`
	Calls  []CallRecord `json:"calls"`
}
