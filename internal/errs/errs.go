package errs

import "errors"

// Доменные сентинель-ошибки для маппинга в HTTP коды и close-коды WebSocket в handlers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotRoutable     = errors.New("room is not routable")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomClosed      = errors.New("room closed")
	ErrNotParticipant  = errors.New("not a participant of the room")
	ErrConflict        = errors.New("room already exists")

	ErrBadFrame    = errors.New("bad frame")
	ErrStaleTarget = errors.New("target is not in the room")

	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrInvalidToken = errors.New("invalid or expired admin token")
	ErrBadRequest   = errors.New("bad request")
)
