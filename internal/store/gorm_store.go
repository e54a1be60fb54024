package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/metrics"
	"github.com/alexsmy/bot-29-sub000/internal/model"
)

// GormStore is the PostgreSQL-backed Store.
// Session mutations lock the call_sessions row (SELECT ... FOR UPDATE) for the transaction.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a store on an opened GORM connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ Store = (*GormStore)(nil)

func unavailable(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %w", op, errs.ErrStoreUnavailable, err)
}

func (s *GormStore) CreateSession(ctx context.Context, ns model.NewSession) (*model.RoomSession, error) {
	ent := &model.CallSession{
		RoomID:    ns.RoomID,
		CreatorID: ns.CreatorID,
		RoomType:  string(ns.RoomType),
		Status:    string(model.SessionStatusPending),
		CreatedAt: ns.CreatedAt.UTC(),
		ExpiresAt: ns.ExpiresAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(ent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.ErrConflict
		}
		return nil, unavailable("create_session", err)
	}
	return entityToSession(ent), nil
}

func (s *GormStore) Lookup(ctx context.Context, roomID string) (*model.RoomSession, error) {
	var ent model.CallSession
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND expires_at > ? AND closed_at IS NULL", roomID, s.now()).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, unavailable("lookup", err)
	}
	return entityToSession(&ent), nil
}

func (s *GormStore) Get(ctx context.Context, roomID string) (*model.RoomSession, error) {
	var ent model.CallSession
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, unavailable("get", err)
	}
	return entityToSession(&ent), nil
}

func (s *GormStore) MarkClosed(ctx context.Context, roomID, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ent, err := lockSession(tx, roomID)
		if err != nil {
			return err
		}
		if ent.ClosedAt != nil {
			return nil
		}
		return tx.Model(ent).Updates(map[string]interface{}{
			"status":       string(model.SessionStatusClosed),
			"closed_at":    s.now(),
			"close_reason": reason,
		}).Error
	})
	return s.wrap("mark_closed", err)
}

func (s *GormStore) OpenCall(ctx context.Context, roomID string, callType model.CallType, initiatorID string) (string, error) {
	callID := uuid.NewString()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ent, err := lockSession(tx, roomID)
		if err != nil {
			return err
		}
		now := s.now()
		if _, err := finishOpenCall(tx, roomID, now); err != nil {
			return err
		}
		rec := &model.CallHistory{
			ID:        callID,
			SessionID: roomID,
			CallType:  string(callType),
			StartedAt: now,
		}
		if initiatorID != "" {
			rec.InitiatorParticipantID = &initiatorID
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		if ent.ClosedAt == nil {
			return tx.Model(ent).Update("status", string(model.SessionStatusActive)).Error
		}
		return nil
	})
	if err != nil {
		return "", s.wrap("open_call", err)
	}
	return callID, nil
}

func (s *GormStore) CloseOpenCall(ctx context.Context, roomID string) (*float64, error) {
	var duration *float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ent, err := lockSession(tx, roomID)
		if err != nil {
			return err
		}
		duration, err = finishOpenCall(tx, roomID, s.now())
		if err != nil || duration == nil {
			return err
		}
		if ent.Status == string(model.SessionStatusActive) {
			return tx.Model(ent).Update("status", string(model.SessionStatusPending)).Error
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("close_open_call", err)
	}
	return duration, nil
}

func (s *GormStore) UpdateConnectionType(ctx context.Context, roomID string, ct model.ConnectionType) error {
	err := s.db.WithContext(ctx).Model(&model.CallHistory{}).
		Where("session_id = ? AND ended_at IS NULL", roomID).
		Update("connection_type", string(ct)).Error
	return s.wrap("update_connection_type", err)
}

func (s *GormStore) ListCalls(ctx context.Context, roomID string) ([]model.CallRecord, error) {
	var rows []model.CallHistory
	if err := s.db.WithContext(ctx).Where("session_id = ?", roomID).Order("started_at").Find(&rows).Error; err != nil {
		return nil, unavailable("list_calls", err)
	}
	out := make([]model.CallRecord, 0, len(rows))
	for i := range rows {
		out = append(out, entityToCall(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) RecordConnection(ctx context.Context, rec model.ConnectionRecord) error {
	ent := &model.Connection{
		ID:            uuid.NewString(),
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		IPAddress:     rec.IPAddress,
		Location:      rec.Location,
		DeviceType:    rec.DeviceType,
		UserAgent:     rec.UserAgent,
		ConnectedAt:   rec.ConnectedAt.UTC(),
	}
	return s.wrap("record_connection", s.db.WithContext(ctx).Create(ent).Error)
}

func (s *GormStore) CloseConnection(ctx context.Context, roomID, participantID string) error {
	err := s.db.WithContext(ctx).Model(&model.Connection{}).
		Where("session_id = ? AND participant_id = ? AND disconnected_at IS NULL", roomID, participantID).
		Update("disconnected_at", s.now()).Error
	return s.wrap("close_connection", err)
}

func (s *GormStore) CreateAdminToken(ctx context.Context, userID int64, ttl time.Duration) (*model.AdminToken, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	ent := &model.AdminTokenEntity{Token: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.db.WithContext(ctx).Create(ent).Error; err != nil {
		return nil, unavailable("create_admin_token", err)
	}
	return &model.AdminToken{Token: ent.Token, UserID: ent.UserID, CreatedAt: ent.CreatedAt, ExpiresAt: ent.ExpiresAt}, nil
}

func (s *GormStore) ValidateAdminToken(ctx context.Context, token string) (*model.AdminToken, error) {
	var ent model.AdminTokenEntity
	err := s.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, s.now()).First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrInvalidToken
		}
		return nil, unavailable("validate_admin_token", err)
	}
	return &model.AdminToken{Token: ent.Token, UserID: ent.UserID, CreatedAt: ent.CreatedAt, ExpiresAt: ent.ExpiresAt}, nil
}

// wrap keeps domain errors as-is and marks everything else as a store failure.
func (s *GormStore) wrap(op string, err error) error {
	if err == nil || errors.Is(err, errs.ErrSessionNotFound) {
		return err
	}
	return unavailable(op, err)
}

func lockSession(tx *gorm.DB, roomID string) (*model.CallSession, error) {
	var ent model.CallSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("room_id = ?", roomID).First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	return &ent, nil
}

func finishOpenCall(tx *gorm.DB, roomID string, now time.Time) (*float64, error) {
	var open model.CallHistory
	err := tx.Where("session_id = ? AND ended_at IS NULL", roomID).First(&open).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := durationSeconds(open.StartedAt, now)
	if err := tx.Model(&open).Updates(map[string]interface{}{
		"ended_at":         now,
		"duration_seconds": d,
	}).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func entityToSession(ent *model.CallSession) *model.RoomSession {
	return &model.RoomSession{
		RoomID:      ent.RoomID,
		CreatorID:   ent.CreatorID,
		RoomType:    model.RoomType(ent.RoomType),
		Status:      model.SessionStatus(ent.Status),
		CreatedAt:   ent.CreatedAt,
		ExpiresAt:   ent.ExpiresAt,
		ClosedAt:    ent.ClosedAt,
		CloseReason: ent.CloseReason,
	}
}

func entityToCall(ent *model.CallHistory) model.CallRecord {
	rec := model.CallRecord{
		ID:                     ent.ID,
		SessionID:              ent.SessionID,
		CallType:               model.CallType(ent.CallType),
		StartedAt:              ent.StartedAt,
		EndedAt:                ent.EndedAt,
		DurationSeconds:        ent.DurationSeconds,
		InitiatorParticipantID: ent.InitiatorParticipantID,
	}
	if ent.ConnectionType != nil {
		ct := model.ConnectionType(*ent.ConnectionType)
		rec.ConnectionType = &ct
	}
	return rec
}
