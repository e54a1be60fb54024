package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
)

// MemoryStore is a mutex-based in-memory Store.
// Used by tests and by STORE_DRIVER=memory development runs; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*model.RoomSession
	calls       map[string][]*model.CallRecord // room id -> calls in start order
	connections map[string][]*memoryConnection
	tokens      map[string]*model.AdminToken
	now         func() time.Time
	log         *zap.Logger
}

type memoryConnection struct {
	rec            model.ConnectionRecord
	disconnectedAt *time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(log *zap.Logger) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*model.RoomSession),
		calls:       make(map[string][]*model.CallRecord),
		connections: make(map[string][]*memoryConnection),
		tokens:      make(map[string]*model.AdminToken),
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.Named("memory-store"),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateSession(ctx context.Context, ns model.NewSession) (*model.RoomSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[ns.RoomID]; exists {
		return nil, errs.ErrConflict
	}
	sess := &model.RoomSession{
		RoomID:    ns.RoomID,
		CreatorID: ns.CreatorID,
		RoomType:  ns.RoomType,
		Status:    model.SessionStatusPending,
		CreatedAt: ns.CreatedAt.UTC(),
		ExpiresAt: ns.ExpiresAt.UTC(),
	}
	s.sessions[ns.RoomID] = sess
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, roomID string) (*model.RoomSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[roomID]
	if !ok || !sess.Routable(s.now()) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Get(ctx context.Context, roomID string) (*model.RoomSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[roomID]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) MarkClosed(ctx context.Context, roomID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok {
		return errs.ErrSessionNotFound
	}
	if sess.Status == model.SessionStatusClosed {
		return nil
	}
	now := s.now()
	sess.Status = model.SessionStatusClosed
	sess.ClosedAt = &now
	sess.CloseReason = &reason
	return nil
}

func (s *MemoryStore) OpenCall(ctx context.Context, roomID string, callType model.CallType, initiatorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok {
		return "", errs.ErrSessionNotFound
	}
	now := s.now()
	if open := s.openCallLocked(roomID); open != nil {
		s.log.Warn("closing dangling open call", zap.String("room_id", roomID), zap.String("call_id", open.ID))
		s.finishLocked(open, now)
	}
	rec := &model.CallRecord{
		ID:        uuid.NewString(),
		SessionID: roomID,
		CallType:  callType,
		StartedAt: now,
	}
	if initiatorID != "" {
		id := initiatorID
		rec.InitiatorParticipantID = &id
	}
	s.calls[roomID] = append(s.calls[roomID], rec)
	if sess.Status != model.SessionStatusClosed {
		sess.Status = model.SessionStatusActive
	}
	return rec.ID, nil
}

func (s *MemoryStore) CloseOpenCall(ctx context.Context, roomID string) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.openCallLocked(roomID)
	if open == nil {
		return nil, nil
	}
	d := s.finishLocked(open, s.now())
	if sess, ok := s.sessions[roomID]; ok && sess.Status == model.SessionStatusActive {
		sess.Status = model.SessionStatusPending
	}
	return &d, nil
}

func (s *MemoryStore) UpdateConnectionType(ctx context.Context, roomID string, ct model.ConnectionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if open := s.openCallLocked(roomID); open != nil {
		c := ct
		open.ConnectionType = &c
	}
	return nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, roomID string) ([]model.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CallRecord, 0, len(s.calls[roomID]))
	for _, c := range s.calls[roomID] {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) RecordConnection(ctx context.Context, rec model.ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections[rec.SessionID] = append(s.connections[rec.SessionID], &memoryConnection{rec: rec})
	return nil
}

func (s *MemoryStore) CloseConnection(ctx context.Context, roomID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, c := range s.connections[roomID] {
		if c.rec.ParticipantID == participantID && c.disconnectedAt == nil {
			c.disconnectedAt = &now
		}
	}
	return nil
}

// Connections returns connection records for a room (tests, admin views).
func (s *MemoryStore) Connections(roomID string) []model.ConnectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ConnectionRecord, 0, len(s.connections[roomID]))
	for _, c := range s.connections[roomID] {
		out = append(out, c.rec)
	}
	return out
}

func (s *MemoryStore) CreateAdminToken(ctx context.Context, userID int64, ttl time.Duration) (*model.AdminToken, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &model.AdminToken{Token: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	s.mu.Lock()
	s.tokens[token] = t
	s.mu.Unlock()

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ValidateAdminToken(ctx context.Context, token string) (*model.AdminToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok || !s.now().Before(t.ExpiresAt) {
		return nil, errs.ErrInvalidToken
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) openCallLocked(roomID string) *model.CallRecord {
	for _, c := range s.calls[roomID] {
		if c.EndedAt == nil {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) finishLocked(c *model.CallRecord, now time.Time) float64 {
	d := durationSeconds(c.StartedAt, now)
	c.EndedAt = &now
	c.DurationSeconds = &d
	return d
}
