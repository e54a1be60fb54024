package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/observer"
	"github.com/alexsmy/bot-29-sub000/internal/store"
)

const frameWait = 2 * time.Second

type eventLog struct {
	mu     sync.Mutex
	events []observer.Event
}

func (l *eventLog) Publish(e observer.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t observer.EventType) []observer.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []observer.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	reg    *Registry
	store  *store.MemoryStore
	events *eventLog
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.NewMemoryStore(zap.NewNop())
	events := &eventLog{}
	reg := NewRegistry(st, events, zap.NewNop(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &fixture{reg: reg, store: st, events: events}
}

func (f *fixture) room(t *testing.T, lifetime time.Duration) *Room {
	t.Helper()
	r, err := f.reg.GetOrCreate(context.Background(), CreateParams{CreatorID: 42, Lifetime: lifetime, RoomType: model.RoomTypePrivate})
	require.NoError(t, err)
	return r
}

func (f *fixture) calls(t *testing.T, r *Room) []model.CallRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()
	require.NoError(t, r.Sync(ctx))
	calls, err := f.store.ListCalls(ctx, r.ID)
	require.NoError(t, err)
	return calls
}

func join(t *testing.T, r *Room) *Participant {
	t.Helper()
	p := NewParticipant(Metadata{IP: "10.0.0.1", DeviceType: "desktop", UserAgent: "test"}, 64)
	require.NoError(t, r.Join(p))
	return p
}

// joinPair seats A and B and drains their join frames.
func joinPair(t *testing.T, r *Room) (*Participant, *Participant) {
	t.Helper()
	a := join(t, r)
	expectFrame(t, a, TypeIdentity)
	expectFrame(t, a, TypeUserList)
	b := join(t, r)
	expectFrame(t, b, TypeIdentity)
	expectFrame(t, b, TypeUserList)
	expectFrame(t, a, TypeUserList)
	return a, b
}

// startCall brings A and B to in-call with A as the caller.
func startCall(t *testing.T, r *Room, a, b *Participant) {
	t.Helper()
	send(t, r, a, `{"type":"call_user","data":{"target_id":"`+b.ID+`","call_type":"audio"}}`)
	expectFrame(t, b, TypeIncomingCall)
	send(t, r, b, `{"type":"call_accepted","data":{"target_id":"`+a.ID+`"}}`)
	expectFrame(t, a, TypeCallAccepted)
}

func send(t *testing.T, r *Room, from *Participant, raw string) {
	t.Helper()
	in, err := ParseInbound([]byte(raw))
	require.NoError(t, err)
	r.Handle(from.ID, in)
}

func nextFrame(t *testing.T, p *Participant) (Frame, bool) {
	t.Helper()
	select {
	case raw, ok := <-p.Outbound():
		if !ok {
			return Frame{}, false
		}
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f, true
	case <-time.After(frameWait):
		t.Fatalf("participant %s: no frame within %s", p.ID, frameWait)
		return Frame{}, false
	}
}

func expectFrame(t *testing.T, p *Participant, typ MessageType) map[string]any {
	t.Helper()
	f, ok := nextFrame(t, p)
	require.True(t, ok, "outbound closed while waiting for %s", typ)
	require.Equal(t, typ, f.Type)
	var data map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &data))
	return data
}

func expectClosed(t *testing.T, p *Participant) {
	t.Helper()
	_, ok := nextFrame(t, p)
	require.False(t, ok, "expected outbound to be closed")
}

func expectNoFrame(t *testing.T, p *Participant) {
	t.Helper()
	select {
	case raw, ok := <-p.Outbound():
		if ok {
			t.Fatalf("unexpected frame: %s", raw)
		}
		t.Fatalf("unexpected close")
	case <-time.After(50 * time.Millisecond):
	}
}

func userIDs(t *testing.T, data map[string]any) []string {
	t.Helper()
	users, ok := data["users"].([]any)
	require.True(t, ok)
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.(map[string]any)["id"].(string))
	}
	return ids
}

func status(t *testing.T, r *Room, p *Participant) ParticipantStatus {
	t.Helper()
	st, ok := r.ParticipantStatus(p.ID)
	require.True(t, ok)
	return st
}
