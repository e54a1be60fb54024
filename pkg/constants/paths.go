package constants

// Пути health, ready, metrics монтируются в корень; остальные под BASE_PATH.
const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"

	PathRoomPage    = "/call/:room_id"
	PathSignalingWS = "/ws/private/:room_id"
	PathICEServers  = "/api/ice-servers"
	PathUserClose   = "/room/close/:room_id"

	PathAdminRoom      = "/api/admin/room"
	PathAdminRoomByID  = "/api/admin/room/:room_id"
	PathAdminRoomCalls = "/api/admin/room/:room_id/calls"
	PathAdminRooms     = "/api/admin/rooms"
	PathAdminEventsWS  = "/ws/admin/events"
)
