package model

import "time"

// CallSession: сущность комнаты (GORM), таблица call_sessions.
type CallSession struct {
	RoomID      string     `gorm:"column:room_id;type:uuid;primaryKey"`
	CreatorID   int64      `gorm:"column:creator_id;not null;index"`
	RoomType    string     `gorm:"column:room_type;size:20;not null;default:private"`
	Status      string     `gorm:"size:20;not null;default:pending"` // pending, active, closed
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null;index"`
	ClosedAt    *time.Time `gorm:"column:closed_at"`
	CloseReason *string    `gorm:"column:close_reason;size:255"`

	Calls []CallHistory `gorm:"foreignKey:SessionID;references:RoomID"`
}

func (CallSession) TableName() string { return "call_sessions" }

// CallHistory: один звонок внутри комнаты (GORM).
type CallHistory struct {
	ID                     string     `gorm:"type:uuid;primaryKey"`
	SessionID              string     `gorm:"column:session_id;type:uuid;not null;index"`
	CallType               string     `gorm:"column:call_type;size:10;not null"`
	StartedAt              time.Time  `gorm:"column:started_at;not null"`
	EndedAt                *time.Time `gorm:"column:ended_at"`
	DurationSeconds        *float64   `gorm:"column:duration_seconds"`
	ConnectionType         *string    `gorm:"column:connection_type;size:10"`
	InitiatorParticipantID *string    `gorm:"column:initiator_participant_id;size:64"`
}

func (CallHistory) TableName() string { return "call_history" }

// Connection: метаданные подключения участника (информационная таблица).
type Connection struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	SessionID      string     `gorm:"column:session_id;type:uuid;not null;index"`
	ParticipantID  string     `gorm:"column:participant_id;size:64;not null;index"`
	IPAddress      string     `gorm:"column:ip_address;size:64"`
	Location       string     `gorm:"column:location;size:128"`
	DeviceType     string     `gorm:"column:device_type;size:20"`
	UserAgent      string     `gorm:"column:user_agent"`
	ConnectedAt    time.Time  `gorm:"column:connected_at;not null"`
	DisconnectedAt *time.Time `gorm:"column:disconnected_at"`
}

func (Connection) TableName() string { return "connections" }

// AdminTokenEntity: токен администратора с TTL.
type AdminTokenEntity struct {
	Token     string    `gorm:"primaryKey;size:128"`
	UserID    int64     `gorm:"column:user_id;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
}

func (AdminTokenEntity) TableName() string { return "admin_tokens" }
