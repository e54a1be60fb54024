package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/store"
)

// Lifetimes holds the expiry horizon per room type.
type Lifetimes struct {
	Private    time.Duration
	Admin      time.Duration
	AdminToken time.Duration
}

// For returns the lifetime of a room type.
func (l Lifetimes) For(t model.RoomType) time.Duration {
	if t == model.RoomTypeAdmin {
		return l.Admin
	}
	return l.Private
}

// RoomService is the HTTP/CLI facing facade over the registry and the store.
type RoomService struct {
	registry  *Registry
	store     store.Store
	urls      *URLConfig
	lifetimes Lifetimes
	log       *zap.Logger
}

// NewRoomService creates a room service.
func NewRoomService(reg *Registry, st store.Store, urls *URLConfig, lt Lifetimes, log *zap.Logger) *RoomService {
	return &RoomService{registry: reg, store: st, urls: urls, lifetimes: lt, log: log}
}

// Registry exposes the underlying registry for the gateway.
func (s *RoomService) Registry() *Registry { return s.registry }

// URLs returns the URL builder.
func (s *RoomService) URLs() *URLConfig { return s.urls }

// CreateRoom persists and materialises a room for creatorID.
func (s *RoomService) CreateRoom(ctx context.Context, req model.CreateRoomRequest) (*model.CreateRoomResponse, error) {
	if req.RoomType == "" {
		req.RoomType = model.RoomTypePrivate
	}
	if !req.RoomType.Valid() {
		return nil, fmt.Errorf("room_type %q: %w", req.RoomType, errs.ErrBadRequest)
	}
	room, err := s.registry.GetOrCreate(ctx, CreateParams{
		CreatorID: req.CreatorID,
		Lifetime:  s.lifetimes.For(req.RoomType),
		RoomType:  req.RoomType,
	})
	if err != nil {
		return nil, err
	}
	return &model.CreateRoomResponse{
		RoomID:    room.ID,
		URL:       s.urls.RoomURL(room.ID),
		WSURL:     s.urls.WSURL(room.ID),
		ExpiresAt: room.ExpiresAt,
	}, nil
}

// Routable reports whether roomID accepts signaling, restoring it if needed.
func (s *RoomService) Routable(ctx context.Context, roomID string) (bool, error) {
	room, err := s.registry.GetOrRestore(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room != nil, nil
}

// CloseByAdmin closes a room with the admin reason. Closing an already closed room succeeds.
func (s *RoomService) CloseByAdmin(ctx context.Context, roomID string) error {
	err := s.registry.Close(ctx, roomID, model.ReasonClosedByAdmin)
	if err != nil && !errors.Is(err, errs.ErrSessionNotFound) {
		s.log.Warn("admin close", zap.String("room_id", roomID), zap.Error(err))
	}
	return err
}

// CloseByParticipant schedules a user-initiated close.
func (s *RoomService) CloseByParticipant(roomID, participantID string) error {
	return s.registry.CloseByParticipant(roomID, participantID)
}

// Rooms lists live rooms.
func (s *RoomService) Rooms() []RoomInfo {
	return s.registry.Snapshot()
}

// Calls returns the call history of a room.
func (s *RoomService) Calls(ctx context.Context, roomID string) (*model.RoomCallsResponse, error) {
	if _, err := s.store.Get(ctx, roomID); err != nil {
		return nil, err
	}
	calls, err := s.store.ListCalls(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &model.RoomCallsResponse{RoomID: roomID, Calls: calls}, nil
}

// IssueAdminToken creates a bearer token for userID.
func (s *RoomService) IssueAdminToken(ctx context.Context, userID int64) (*model.AdminToken, error) {
	return s.store.CreateAdminToken(ctx, userID, s.lifetimes.AdminToken)
}

// Authenticate validates a bearer token.
func (s *RoomService) Authenticate(ctx context.Context, token string) (*model.AdminToken, error) {
	if token == "" {
		return nil, errs.ErrInvalidToken
	}
	return s.store.ValidateAdminToken(ctx, token)
}
