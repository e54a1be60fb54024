// Package store persists room sessions, call history, connection metadata and admin tokens.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/alexsmy/bot-29-sub000/internal/model"
)

// Store defines the persistence operations the engine relies on.
// Implementations serialize operations per room id.
type Store interface {
	// CreateSession inserts a pending session; errs.ErrConflict if the id exists.
	CreateSession(ctx context.Context, s model.NewSession) (*model.RoomSession, error)

	// Lookup returns the session iff it is routable, nil otherwise.
	Lookup(ctx context.Context, roomID string) (*model.RoomSession, error)

	// Get returns the session regardless of routability.
	Get(ctx context.Context, roomID string) (*model.RoomSession, error)

	// MarkClosed is idempotent; the first reason wins.
	MarkClosed(ctx context.Context, roomID, reason string) error

	OpenCall(ctx context.Context, roomID string, callType model.CallType, initiatorID string) (string, error)

	// CloseOpenCall returns nil duration when there was no open call.
	CloseOpenCall(ctx context.Context, roomID string) (*float64, error)

	UpdateConnectionType(ctx context.Context, roomID string, ct model.ConnectionType) error

	ListCalls(ctx context.Context, roomID string) ([]model.CallRecord, error)

	RecordConnection(ctx context.Context, rec model.ConnectionRecord) error
	CloseConnection(ctx context.Context, roomID, participantID string) error

	CreateAdminToken(ctx context.Context, userID int64, ttl time.Duration) (*model.AdminToken, error)
	ValidateAdminToken(ctx context.Context, token string) (*model.AdminToken, error)
}

func newToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func durationSeconds(started, ended time.Time) float64 {
	d := ended.Sub(started).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
