package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/observer"
	"github.com/alexsmy/bot-29-sub000/internal/store"
)

func seedSession(t *testing.T, f *fixture, lifetime time.Duration) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := f.store.CreateSession(context.Background(), model.NewSession{
		RoomID:    id,
		CreatorID: 7,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
		RoomType:  model.RoomTypePrivate,
	})
	require.NoError(t, err)
	return id
}

func TestRegistry_GetOrCreateThenRestoreReturnsSameRoom(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r := f.room(t, 3*time.Hour)
	again, err := f.reg.GetOrRestore(ctx, r.ID)
	require.NoError(t, err)
	assert.Same(t, r, again)

	same, err := f.reg.GetOrCreate(ctx, CreateParams{RoomID: r.ID, CreatorID: 42, Lifetime: time.Hour})
	require.NoError(t, err)
	assert.Same(t, r, same)

	sess, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPending, sess.Status)
	assert.WithinDuration(t, sess.CreatedAt.Add(3*time.Hour), sess.ExpiresAt, time.Second)
	assert.Len(t, f.events.ofType(observer.EventRoomCreated), 1)
}

func TestRegistry_GetOrCreateConflict(t *testing.T) {
	f := newFixture(t, Options{})
	id := seedSession(t, f, time.Hour)

	_, err := f.reg.GetOrCreate(context.Background(), CreateParams{RoomID: id, CreatorID: 1, Lifetime: time.Hour})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestRegistry_ExpiryMidCall(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := f.room(t, time.Second)
	a, b := joinPair(t, r)
	startCall(t, r, a, b)

	for _, p := range []*Participant{a, b} {
		assert.Equal(t, model.ReasonExpired, expectFrame(t, p, TypeRoomExpired)["reason"])
		expectClosed(t, p)
		code, reason := p.CloseStatus()
		assert.Equal(t, websocket.CloseNormalClosure, code)
		assert.Equal(t, model.ReasonExpired, reason)
	}

	require.Eventually(t, func() bool {
		sess, err := f.store.Get(ctx, r.ID)
		return err == nil && sess.Status == model.SessionStatusClosed
	}, 3*time.Second, 10*time.Millisecond)

	sess, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.CloseReason)
	assert.Equal(t, model.ReasonExpired, *sess.CloseReason)

	calls, err := f.store.ListCalls(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].DurationSeconds)
	assert.InDelta(t, 1.0, *calls[0].DurationSeconds, 0.5)

	assert.Nil(t, f.reg.Get(r.ID))
	restored, err := f.reg.GetOrRestore(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)
	assert.ErrorIs(t, r.Join(NewParticipant(Metadata{}, 4)), errs.ErrRoomClosed)
}

func TestRegistry_RestoreFromStore(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := seedSession(t, f, time.Hour)
	// a call left open by a previous process
	_, err := f.store.OpenCall(ctx, id, model.CallTypeAudio, "old-participant")
	require.NoError(t, err)

	r, err := f.reg.GetOrRestore(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, r)
	sess, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sess.ExpiresAt, r.ExpiresAt)

	calls := f.calls(t, r)
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].EndedAt)

	a := join(t, r)
	assert.NotEqual(t, "old-participant", a.ID)
	assert.Equal(t, a.ID, expectFrame(t, a, TypeIdentity)["id"])
	assert.Len(t, f.events.ofType(observer.EventRoomRestored), 1)
}

func TestRegistry_RestoreRefusesNonRoutable(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r, err := f.reg.GetOrRestore(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, r)

	expired := seedSession(t, f, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	r, err = f.reg.GetOrRestore(ctx, expired)
	require.NoError(t, err)
	assert.Nil(t, r)

	closed := seedSession(t, f, time.Hour)
	require.NoError(t, f.store.MarkClosed(ctx, closed, model.ReasonClosedByAdmin))
	r, err = f.reg.GetOrRestore(ctx, closed)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRegistry_ConcurrentRestoreHasSingleRoom(t *testing.T) {
	f := newFixture(t, Options{})
	id := seedSession(t, f, time.Hour)

	const n = 32
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.reg.GetOrRestore(context.Background(), id)
			assert.NoError(t, err)
			rooms[i] = r
		}()
	}
	wg.Wait()
	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, 1, f.reg.Len())
}

func TestRegistry_CloseIsIdempotentFirstReasonWins(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := f.room(t, time.Hour)
	a, b := joinPair(t, r)

	require.NoError(t, f.reg.Close(ctx, r.ID, model.ReasonClosedByAdmin))
	require.NoError(t, f.reg.Close(ctx, r.ID, model.ReasonClosedByUser))

	for _, p := range []*Participant{a, b} {
		assert.Equal(t, model.ReasonClosedByAdmin, expectFrame(t, p, TypeRoomClosedByUser)["reason"])
		expectClosed(t, p)
	}
	sess, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusClosed, sess.Status)
	require.NotNil(t, sess.CloseReason)
	assert.Equal(t, model.ReasonClosedByAdmin, *sess.CloseReason)

	restored, err := f.reg.GetOrRestore(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestRegistry_CloseNotLive(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, f.reg.Close(ctx, uuid.NewString(), model.ReasonClosedByAdmin), errs.ErrSessionNotFound)

	id := seedSession(t, f, time.Hour)
	require.NoError(t, f.reg.Close(ctx, id, model.ReasonClosedByAdmin))
	sess, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusClosed, sess.Status)
}

func TestRegistry_CloseByParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := f.room(t, time.Hour)
	a, b := joinPair(t, r)

	assert.ErrorIs(t, f.reg.CloseByParticipant(r.ID, "stranger"), errs.ErrNotParticipant)
	assert.ErrorIs(t, f.reg.CloseByParticipant(uuid.NewString(), a.ID), errs.ErrNotParticipant)

	require.NoError(t, f.reg.CloseByParticipant(r.ID, a.ID))
	assert.Equal(t, model.ReasonClosedByUser, expectFrame(t, b, TypeRoomClosedByUser)["reason"])
	expectClosed(t, b)

	require.Eventually(t, func() bool {
		sess, err := f.store.Get(ctx, r.ID)
		return err == nil && sess.CloseReason != nil && *sess.CloseReason == model.ReasonClosedByUser
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_ShutdownKeepsSessionsRestorable(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := f.room(t, time.Hour)
	a, b := joinPair(t, r)
	startCall(t, r, a, b)

	require.NoError(t, f.reg.Shutdown(ctx))
	for _, p := range []*Participant{a, b} {
		expectClosed(t, p)
		code, _ := p.CloseStatus()
		assert.Equal(t, websocket.CloseGoingAway, code)
	}

	sess, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, sess.ClosedAt)
	calls, err := f.store.ListCalls(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].EndedAt)

	gone, err := f.reg.GetOrRestore(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	next := NewRegistry(f.store, nil, zap.NewNop(), Options{})
	defer func() { _ = next.Shutdown(ctx) }()
	restored, err := next.GetOrRestore(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
}

func TestRegistry_Snapshot(t *testing.T) {
	f := newFixture(t, Options{})
	first := f.room(t, time.Hour)
	time.Sleep(2 * time.Millisecond)
	second := f.room(t, time.Hour)
	a, b := joinPair(t, second)
	startCall(t, second, a, b)

	snap := f.reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].RoomID)
	assert.Equal(t, "idle", snap[0].Phase)
	assert.Equal(t, "in-call", snap[1].Phase)
	require.Len(t, snap[1].Participants, 2)
	assert.True(t, snap[1].Participants[0].Initiator)
	assert.Equal(t, "busy", snap[1].Participants[1].Status)
}

// gatedLookupStore holds Lookup until release is closed.
type gatedLookupStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedLookupStore) Lookup(ctx context.Context, roomID string) (*model.RoomSession, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.MemoryStore.Lookup(ctx, roomID)
}

func TestRegistry_CreateJoiningPendingRestoreStillCreates(t *testing.T) {
	st := &gatedLookupStore{
		MemoryStore: store.NewMemoryStore(zap.NewNop()),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	reg := NewRegistry(st, nil, zap.NewNop(), Options{})
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })
	id := uuid.NewString()
	ctx := context.Background()

	restored := make(chan *Room, 1)
	go func() {
		r, err := reg.GetOrRestore(ctx, id)
		assert.NoError(t, err)
		restored <- r
	}()
	<-st.entered

	type result struct {
		room *Room
		err  error
	}
	created := make(chan result, 1)
	go func() {
		r, err := reg.GetOrCreate(ctx, CreateParams{RoomID: id, CreatorID: 1, Lifetime: time.Hour})
		created <- result{r, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(st.release)

	assert.Nil(t, <-restored, "id was not stored when the restore looked it up")
	res := <-created
	require.NoError(t, res.err)
	require.NotNil(t, res.room)
	assert.Equal(t, id, res.room.ID)
	assert.Same(t, res.room, reg.Get(id))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_MaterializeKeepsLiveRoom(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.room(t, time.Hour)
	sess, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)

	again, fresh := f.reg.materialize(sess, time.Hour)
	assert.False(t, fresh)
	assert.Same(t, r, again)
	assert.Same(t, r, f.reg.Get(r.ID))
	assert.Equal(t, 1, f.reg.Len())
}
