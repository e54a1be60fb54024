package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/metrics"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/observer"
	"github.com/alexsmy/bot-29-sub000/internal/store"
)

// CreateParams describes a room to create.
type CreateParams struct {
	RoomID    string // empty: a new UUID is issued
	CreatorID int64
	Lifetime  time.Duration
	RoomType  model.RoomType
}

// Registry owns the id -> Room map. At most one live Room exists per id.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	closing map[string]*Room
	shut    bool

	group singleflight.Group
	bg    sync.WaitGroup

	store    store.Store
	observer observer.Observer
	log      *zap.Logger
	opts     Options
}

// NewRegistry creates a registry backed by st. obs may be nil.
func NewRegistry(st store.Store, obs observer.Observer, log *zap.Logger, opts Options) *Registry {
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		closing:  make(map[string]*Room),
		store:    st,
		observer: obs,
		log:      log,
		opts:     opts.withDefaults(),
	}
}

// SendBuffer is the outbound queue size for new participants.
func (g *Registry) SendBuffer() int { return g.opts.SendBuffer }

// GetOrCreate returns the live room for p.RoomID, or persists and materialises a new one.
// errs.ErrConflict surfaces when the id already exists in the store but is not live.
func (g *Registry) GetOrCreate(ctx context.Context, p CreateParams) (*Room, error) {
	if p.RoomID == "" {
		p.RoomID = uuid.NewString()
	}
	if !p.RoomType.Valid() {
		p.RoomType = model.RoomTypePrivate
	}
	if p.Lifetime <= 0 {
		return nil, errors.New("registry: lifetime must be positive")
	}
	if r := g.Get(p.RoomID); r != nil {
		return r, nil
	}

	// A restore flight for the same id answers nil when the id is not stored
	// yet; the next round runs the create itself.
	for attempt := 0; attempt < 3; attempt++ {
		v, err, _ := g.group.Do(p.RoomID, func() (interface{}, error) {
			return g.create(ctx, p)
		})
		if err != nil {
			return nil, err
		}
		if r := v.(*Room); r != nil {
			return r, nil
		}
	}
	return nil, errs.ErrRoomClosed
}

func (g *Registry) create(ctx context.Context, p CreateParams) (*Room, error) {
	if r := g.Get(p.RoomID); r != nil {
		return r, nil
	}
	if g.isShut() {
		return nil, errs.ErrRoomClosed
	}
	now := g.opts.Now().UTC()
	sess, err := g.store.CreateSession(ctx, model.NewSession{
		RoomID:    p.RoomID,
		CreatorID: p.CreatorID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.Lifetime),
		RoomType:  p.RoomType,
	})
	if err != nil {
		return nil, err
	}
	r, fresh := g.materialize(sess, p.Lifetime)
	if r == nil {
		return nil, errs.ErrRoomClosed
	}
	if !fresh {
		return r, nil
	}
	g.publish(observer.EventRoomCreated, sess.RoomID)
	g.log.Info("room created",
		zap.String("room_id", sess.RoomID),
		zap.String("room_type", string(sess.RoomType)),
		zap.Time("expires_at", sess.ExpiresAt))
	return r, nil
}

// GetOrRestore returns the live room, or rematerialises a routable session from
// the store. It returns nil, nil when the room is not routable.
func (g *Registry) GetOrRestore(ctx context.Context, roomID string) (*Room, error) {
	if r := g.Get(roomID); r != nil {
		return r, nil
	}
	v, err, _ := g.group.Do(roomID, func() (interface{}, error) {
		if r := g.Get(roomID); r != nil {
			return r, nil
		}
		if g.isClosing(roomID) || g.isShut() {
			return (*Room)(nil), nil
		}
		sess, err := g.store.Lookup(ctx, roomID)
		if err != nil {
			return nil, err
		}
		now := g.opts.Now()
		if !sess.Routable(now) {
			return (*Room)(nil), nil
		}
		r, fresh := g.materialize(sess, sess.ExpiresAt.Sub(now))
		if r == nil || !fresh {
			return r, nil
		}
		// A process that died mid-call leaves an open record behind.
		r.jobs.push("recover_open_call", func(ctx context.Context) error {
			d, err := g.store.CloseOpenCall(ctx, roomID)
			if err == nil && d != nil {
				g.log.Info("closed dangling call record", zap.String("room_id", roomID), zap.Float64("duration_seconds", *d))
			}
			return err
		})
		g.publish(observer.EventRoomRestored, roomID)
		g.log.Info("room restored", zap.String("room_id", roomID), zap.Time("expires_at", sess.ExpiresAt))
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// materialize builds the room, arms its expiry timer and publishes it in the map.
// A room already live under the same id wins and is returned with fresh=false.
func (g *Registry) materialize(sess *model.RoomSession, ttl time.Duration) (*Room, bool) {
	r := newRoom(sess, g.store, g.observer, g.log.Named("room"), g.opts)
	id := sess.RoomID

	g.mu.Lock()
	if g.shut {
		g.mu.Unlock()
		r.terminate(closeSpecFor(model.ReasonServerShutdown))
		return nil, false
	}
	if existing := g.rooms[id]; existing != nil {
		g.mu.Unlock()
		r.jobs.close()
		return existing, false
	}
	g.rooms[id] = r
	metrics.ActiveRooms.Inc()
	g.mu.Unlock()

	r.armExpiry(ttl, func() {
		if err := g.Close(context.Background(), id, model.ReasonExpired); err != nil {
			g.log.Warn("expire room", zap.String("room_id", id), zap.Error(err))
		}
	})
	return r, true
}

// Get returns the live room or nil.
func (g *Registry) Get(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

// Close tears the room down and persists the closure. It is idempotent and
// the first reason wins. For a room that is not live only the store is updated;
// errs.ErrSessionNotFound is returned when the id never existed.
func (g *Registry) Close(ctx context.Context, roomID, reason string) error {
	g.mu.Lock()
	r, live := g.rooms[roomID]
	if live {
		delete(g.rooms, roomID)
		g.closing[roomID] = r
		metrics.ActiveRooms.Dec()
	} else {
		r = g.closing[roomID]
	}
	g.mu.Unlock()

	if r == nil {
		if _, err := g.store.Get(ctx, roomID); err != nil {
			return err
		}
		return g.store.MarkClosed(ctx, roomID, reason)
	}

	if live && r.terminate(closeSpecFor(reason)) {
		metrics.RoomsClosed.WithLabelValues(closeLabel(reason)).Inc()
	}
	err := r.Wait(ctx)
	if live {
		g.mu.Lock()
		if g.closing[roomID] == r {
			delete(g.closing, roomID)
		}
		g.mu.Unlock()
	}
	return err
}

// CloseByParticipant starts an asynchronous close on behalf of a connected participant.
func (g *Registry) CloseByParticipant(roomID, participantID string) error {
	r := g.Get(roomID)
	if r == nil || participantID == "" || !r.HasParticipant(participantID) {
		return errs.ErrNotParticipant
	}
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		if err := g.Close(context.Background(), roomID, model.ReasonClosedByUser); err != nil {
			g.log.Warn("user close", zap.String("room_id", roomID), zap.Error(err))
		}
	}()
	g.log.Info("room close requested", zap.String("room_id", roomID), zap.String("participant_id", participantID))
	return nil
}

// Snapshot returns a copy of every live room, oldest first.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len is the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Shutdown drops every live room with 1001 without marking sessions closed,
// so they can be restored after a restart.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shut = true
	rooms := make([]*Room, 0, len(g.rooms))
	for id, r := range g.rooms {
		rooms = append(rooms, r)
		g.closing[id] = r
		delete(g.rooms, id)
		metrics.ActiveRooms.Dec()
	}
	g.mu.Unlock()

	spec := closeSpecFor(model.ReasonServerShutdown)
	for _, r := range rooms {
		r.terminate(spec)
	}

	done := make(chan struct{})
	go func() {
		g.bg.Wait()
		close(done)
	}()
	var firstErr error
	for _, r := range rooms {
		if err := r.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	g.log.Info("registry shut down", zap.Int("rooms", len(rooms)))
	return firstErr
}

func (g *Registry) isShut() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.shut
}

func (g *Registry) isClosing(roomID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.closing[roomID]
	return ok
}

func (g *Registry) publish(t observer.EventType, roomID string) {
	g.observer.Publish(observer.Event{Type: t, RoomID: roomID, At: g.opts.Now().UTC()})
}

func closeLabel(reason string) string {
	switch reason {
	case model.ReasonExpired:
		return "expired"
	case model.ReasonClosedByAdmin:
		return "admin"
	case model.ReasonClosedByUser:
		return "user"
	default:
		return "other"
	}
}
