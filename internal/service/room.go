package service

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/metrics"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/observer"
	"github.com/alexsmy/bot-29-sub000/internal/store"
)

// MaxParticipants is the seat count of every room.
const MaxParticipants = 2

// Options tunes rooms created by a Registry.
type Options struct {
	CallTimeout  time.Duration
	StoreTimeout time.Duration
	SendBuffer   int
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type ring struct {
	key      CallKey
	caller   string
	callee   string
	callType model.CallType
	timer    *time.Timer
}

type activeCall struct {
	key                CallKey
	initiator          string
	callType           model.CallType
	startedAt          time.Time
	connectionReported bool
}

// Room is the per-room concurrency unit. Every handler runs under mu and never
// performs store or network I/O while holding it: frames go to participant
// queues and store writes go to the room's job queue.
type Room struct {
	ID        string
	CreatorID int64
	Type      model.RoomType
	CreatedAt time.Time
	ExpiresAt time.Time

	mu           sync.Mutex
	participants map[string]*Participant
	order        []string
	rings        map[CallKey]*ring
	call         *activeCall
	closed       bool
	expiry       *time.Timer

	jobs     *jobQueue
	store    store.Store
	observer observer.Observer
	log      *zap.Logger
	opts     Options
}

func newRoom(sess *model.RoomSession, st store.Store, obs observer.Observer, log *zap.Logger, opts Options) *Room {
	l := log.With(zap.String("room_id", sess.RoomID))
	return &Room{
		ID:           sess.RoomID,
		CreatorID:    sess.CreatorID,
		Type:         sess.RoomType,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		participants: make(map[string]*Participant, MaxParticipants),
		rings:        make(map[CallKey]*ring),
		jobs:         newJobQueue(opts.StoreTimeout, l),
		store:        st,
		observer:     obs,
		log:          l,
		opts:         opts,
	}
}

// armExpiry schedules fn after d. Called once by the registry before the room is published.
func (r *Room) armExpiry(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiry = time.AfterFunc(d, fn)
}

// Join seats p, sends identity as its first frame and broadcasts user_list.
func (r *Room) Join(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errs.ErrRoomClosed
	}
	if len(r.participants) >= MaxParticipants {
		return errs.ErrRoomFull
	}
	p.JoinedAt = r.opts.Now()
	p.status = StatusAvailable
	r.participants[p.ID] = p
	r.order = append(r.order, p.ID)
	metrics.ConnectedParticipants.Inc()

	r.sendLocked(p, TypeIdentity, identityData{ID: p.ID})
	r.broadcastUserListLocked()

	rec := model.ConnectionRecord{
		SessionID:     r.ID,
		ParticipantID: p.ID,
		IPAddress:     p.Meta.IP,
		Location:      p.Meta.Location,
		DeviceType:    p.Meta.DeviceType,
		UserAgent:     p.Meta.UserAgent,
		ConnectedAt:   p.JoinedAt,
	}
	r.jobs.push("record_connection", func(ctx context.Context) error {
		return r.store.RecordConnection(ctx, rec)
	})
	r.publishLocked(observer.Event{Type: observer.EventParticipantJoined, ParticipantID: p.ID})
	r.log.Info("participant joined", zap.String("participant_id", p.ID), zap.Int("participants", len(r.participants)))
	return nil
}

// Leave runs the disconnect path for pid. Unknown ids are ignored.
func (r *Room) Leave(pid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[pid]
	if !ok {
		return
	}
	r.removeLocked(p)
	p.shut(websocket.CloseNormalClosure, "")

	for key, rg := range r.rings {
		if !key.Has(pid) {
			continue
		}
		r.stopRingLocked(rg)
		other := key.Other(pid)
		r.setStatusLocked(other, StatusAvailable)
		r.sendToLocked(other, TypeCallEnded, fromData{From: pid, Reason: endReasonPeerLeft})
		metrics.CallsEnded.WithLabelValues("abandoned").Inc()
	}
	if r.call != nil && r.call.key.Has(pid) {
		other := r.call.key.Other(pid)
		r.endCallLocked("peer_left")
		r.setStatusLocked(other, StatusAvailable)
		r.sendToLocked(other, TypeCallEnded, fromData{From: pid, Reason: endReasonPeerLeft})
	}

	r.broadcastUserListLocked()
	r.jobs.push("close_connection", func(ctx context.Context) error {
		return r.store.CloseConnection(ctx, r.ID, pid)
	})
	r.publishLocked(observer.Event{Type: observer.EventParticipantLeft, ParticipantID: pid})
	r.log.Info("participant left", zap.String("participant_id", pid), zap.Int("participants", len(r.participants)))
}

// Handle applies one inbound frame from sender. Frames from unknown senders,
// frames to stale targets and frames that do not fit the current phase are dropped.
func (r *Room) Handle(sender string, in Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if _, ok := r.participants[sender]; !ok {
		metrics.DroppedFrames.WithLabelValues("unknown_sender").Inc()
		return
	}
	metrics.Frames.WithLabelValues(string(in.Type)).Inc()

	switch in.Type {
	case TypeCallUser:
		r.callUserLocked(sender, in.TargetID, in.CallType)
	case TypeCallAccepted:
		r.callAcceptedLocked(sender, in.TargetID)
	case TypeCallDeclined:
		r.callDeclinedLocked(sender, in.TargetID)
	case TypeOffer, TypeAnswer, TypeCandidate:
		r.relayLocked(sender, in)
	case TypeHangup:
		r.hangupLocked(sender, in.TargetID)
	case TypeConnectionEstablished:
		r.connectionEstablishedLocked(sender, in.ConnectionType)
	default:
		metrics.DroppedFrames.WithLabelValues("unknown_type").Inc()
	}
}

func (r *Room) callUserLocked(sender, target string, callType model.CallType) {
	if target == sender {
		r.sendToLocked(sender, TypeCallEnded, fromData{Reason: endReasonInvalid})
		return
	}
	callee, ok := r.participants[target]
	if !ok {
		r.dropStaleLocked(TypeCallUser, target)
		return
	}
	caller := r.participants[sender]
	if caller.status != StatusAvailable || callee.status != StatusAvailable {
		r.sendLocked(caller, TypeCallEnded, fromData{From: target, Reason: endReasonBusy})
		return
	}

	caller.status = StatusBusy
	callee.status = StatusBusy
	key := NewCallKey(sender, target)
	if prev := r.rings[key]; prev != nil {
		prev.timer.Stop()
	}
	rg := &ring{key: key, caller: sender, callee: target, callType: callType}
	rg.timer = time.AfterFunc(r.opts.CallTimeout, func() { r.ringTimeout(rg) })
	r.rings[key] = rg

	r.sendLocked(callee, TypeIncomingCall, incomingCallData{From: sender, CallType: callType})
	r.publishLocked(observer.Event{
		Type:          observer.EventCallRinging,
		ParticipantID: sender,
		TargetID:      target,
		CallType:      string(callType),
	})
}

func (r *Room) callAcceptedLocked(sender, caller string) {
	key := NewCallKey(sender, caller)
	rg := r.rings[key]
	if rg == nil || rg.caller != caller || rg.callee != sender {
		metrics.DroppedFrames.WithLabelValues("no_pending_call").Inc()
		return
	}
	r.stopRingLocked(rg)

	r.call = &activeCall{
		key:       key,
		initiator: caller,
		callType:  rg.callType,
		startedAt: r.opts.Now(),
	}
	callType := rg.callType
	r.jobs.push("open_call", func(ctx context.Context) error {
		_, err := r.store.OpenCall(ctx, r.ID, callType, caller)
		return err
	})
	metrics.CallsStarted.WithLabelValues(string(callType)).Inc()

	r.sendToLocked(caller, TypeCallAccepted, fromData{From: sender})
	r.publishLocked(observer.Event{
		Type:          observer.EventCallStarted,
		ParticipantID: caller,
		TargetID:      sender,
		CallType:      string(callType),
	})
}

func (r *Room) callDeclinedLocked(sender, target string) {
	rg := r.rings[NewCallKey(sender, target)]
	if rg == nil {
		metrics.DroppedFrames.WithLabelValues("no_pending_call").Inc()
		return
	}
	r.stopRingLocked(rg)
	r.setStatusLocked(sender, StatusAvailable)
	r.setStatusLocked(target, StatusAvailable)
	r.sendToLocked(target, TypeCallEnded, fromData{From: sender, Reason: endReasonDeclined})
	metrics.CallsEnded.WithLabelValues("declined").Inc()
	r.publishLocked(observer.Event{
		Type:          observer.EventCallEnded,
		ParticipantID: sender,
		TargetID:      target,
		Reason:        endReasonDeclined,
	})
}

func (r *Room) relayLocked(sender string, in Inbound) {
	if in.TargetID == sender {
		metrics.DroppedFrames.WithLabelValues("self_target").Inc()
		return
	}
	target, ok := r.participants[in.TargetID]
	if !ok {
		r.dropStaleLocked(in.Type, in.TargetID)
		return
	}
	frame, err := relayFrame(in, sender)
	if err != nil {
		r.log.DPanic("encode relay frame", zap.Error(err))
		return
	}
	target.enqueue(frame)
}

func (r *Room) hangupLocked(sender, target string) {
	key := NewCallKey(sender, target)
	matched := false
	if rg := r.rings[key]; rg != nil {
		r.stopRingLocked(rg)
		metrics.CallsEnded.WithLabelValues("cancelled").Inc()
		matched = true
	}
	if r.call != nil && r.call.key == key {
		r.endCallLocked("hangup")
		matched = true
	}
	if !matched {
		if _, ok := r.participants[target]; !ok {
			r.dropStaleLocked(TypeHangup, target)
			return
		}
	}
	r.setStatusLocked(sender, StatusAvailable)
	r.setStatusLocked(target, StatusAvailable)
	r.sendToLocked(target, TypeCallEnded, fromData{From: sender, Reason: endReasonHangup})
}

func (r *Room) connectionEstablishedLocked(sender, reported string) {
	if r.call == nil || !r.call.key.Has(sender) {
		metrics.DroppedFrames.WithLabelValues("no_active_call").Inc()
		return
	}
	if r.call.connectionReported {
		return
	}
	r.call.connectionReported = true
	ct := model.ParseConnectionType(reported)
	r.jobs.push("update_connection_type", func(ctx context.Context) error {
		return r.store.UpdateConnectionType(ctx, r.ID, ct)
	})
	r.publishLocked(observer.Event{
		Type:           observer.EventParticipantsInfo,
		ParticipantID:  sender,
		CallType:       string(r.call.callType),
		ConnectionType: string(ct),
		Participants:   r.participantInfosLocked(),
	})
}

// ringTimeout fires from the ring timer. A ring that was cancelled or
// replaced before the timer callback took the lock is ignored.
func (r *Room) ringTimeout(rg *ring) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.rings[rg.key] != rg {
		return
	}
	delete(r.rings, rg.key)
	r.setStatusLocked(rg.caller, StatusAvailable)
	r.setStatusLocked(rg.callee, StatusAvailable)
	r.sendToLocked(rg.caller, TypeCallMissed, fromData{From: rg.callee, Reason: endReasonTimeout})
	r.sendToLocked(rg.callee, TypeCallEnded, fromData{From: rg.caller, Reason: endReasonTimeout})
	metrics.CallsEnded.WithLabelValues("missed").Inc()
	r.publishLocked(observer.Event{
		Type:          observer.EventCallMissed,
		ParticipantID: rg.caller,
		TargetID:      rg.callee,
		CallType:      string(rg.callType),
	})
	r.log.Info("call timed out", zap.String("caller", rg.caller), zap.String("callee", rg.callee))
}

// closeSpec describes how a room is torn down.
type closeSpec struct {
	reason  string
	notify  MessageType // empty: no notification frame
	code    int
	persist bool
}

func closeSpecFor(reason string) closeSpec {
	switch reason {
	case model.ReasonExpired:
		return closeSpec{reason: reason, notify: TypeRoomExpired, code: websocket.CloseNormalClosure, persist: true}
	case model.ReasonServerShutdown:
		return closeSpec{reason: reason, code: websocket.CloseGoingAway}
	default:
		return closeSpec{reason: reason, notify: TypeRoomClosedByUser, code: websocket.CloseNormalClosure, persist: true}
	}
}

// terminate notifies and drops every participant, cancels timers, closes the
// open call and (optionally) persists the closure. Only the first call has any effect.
func (r *Room) terminate(spec closeSpec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.closed = true
	if r.expiry != nil {
		r.expiry.Stop()
	}
	for _, rg := range r.rings {
		r.stopRingLocked(rg)
	}
	if r.call != nil {
		r.endCallLocked("room_closed")
	}
	for _, id := range append([]string(nil), r.order...) {
		p := r.participants[id]
		if spec.notify != "" {
			r.sendLocked(p, spec.notify, reasonData{Reason: spec.reason})
		}
		p.shut(spec.code, spec.reason)
		r.removeLocked(p)
		pid := id
		r.jobs.push("close_connection", func(ctx context.Context) error {
			return r.store.CloseConnection(ctx, r.ID, pid)
		})
	}
	if spec.persist {
		reason := spec.reason
		r.jobs.push("mark_closed", func(ctx context.Context) error {
			return r.store.MarkClosed(ctx, r.ID, reason)
		})
	}
	r.publishLocked(observer.Event{Type: observer.EventRoomClosed, Reason: spec.reason})
	r.jobs.close()
	r.log.Info("room closed", zap.String("reason", spec.reason))
	return true
}

// Sync waits until every store write issued so far has run.
func (r *Room) Sync(ctx context.Context) error {
	return r.jobs.flush(ctx)
}

// Wait blocks until a terminated room has finished its store writes.
func (r *Room) Wait(ctx context.Context) error {
	return r.jobs.wait(ctx)
}

// Closed reports whether the room has been torn down.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// HasParticipant reports whether pid is currently seated.
func (r *Room) HasParticipant(pid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[pid]
	return ok
}

// ParticipantStatus returns the status of pid.
func (r *Room) ParticipantStatus(pid string) (ParticipantStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pid]
	if !ok {
		return "", false
	}
	return p.status, true
}

// RoomInfo is an immutable snapshot of a room for admin views.
type RoomInfo struct {
	RoomID       string                     `json:"room_id"`
	RoomType     model.RoomType             `json:"room_type"`
	CreatorID    int64                      `json:"creator_id"`
	CreatedAt    time.Time                  `json:"created_at"`
	ExpiresAt    time.Time                  `json:"expires_at"`
	Phase        string                     `json:"phase"`
	CallType     model.CallType             `json:"call_type,omitempty"`
	Participants []observer.ParticipantInfo `json:"participants"`
}

// Info returns a snapshot of the room.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RoomInfo{
		RoomID:       r.ID,
		RoomType:     r.Type,
		CreatorID:    r.CreatorID,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		Phase:        r.phaseLocked(),
		Participants: r.participantInfosLocked(),
	}
	if r.call != nil {
		info.CallType = r.call.callType
	}
	return info
}

func (r *Room) phaseLocked() string {
	switch {
	case r.closed:
		return "ended"
	case r.call != nil:
		return "in-call"
	case len(r.rings) > 0:
		return "ringing"
	default:
		return "idle"
	}
}

func (r *Room) participantInfosLocked() []observer.ParticipantInfo {
	out := make([]observer.ParticipantInfo, 0, len(r.order))
	for _, id := range r.order {
		p := r.participants[id]
		out = append(out, observer.ParticipantInfo{
			ID:         p.ID,
			Status:     string(p.status),
			IP:         p.Meta.IP,
			Location:   p.Meta.Location,
			DeviceType: p.Meta.DeviceType,
			UserAgent:  p.Meta.UserAgent,
			Initiator:  r.call != nil && r.call.initiator == p.ID,
		})
	}
	return out
}

func (r *Room) endCallLocked(outcome string) {
	r.call = nil
	r.jobs.push("close_open_call", func(ctx context.Context) error {
		d, err := r.store.CloseOpenCall(ctx, r.ID)
		if err != nil {
			return err
		}
		metrics.RecordCallEnded(outcome, d)
		r.observer.Publish(observer.Event{
			Type:     observer.EventCallEnded,
			RoomID:   r.ID,
			At:       r.opts.Now().UTC(),
			Reason:   outcome,
			Duration: d,
		})
		return nil
	})
}

func (r *Room) stopRingLocked(rg *ring) {
	rg.timer.Stop()
	if r.rings[rg.key] == rg {
		delete(r.rings, rg.key)
	}
}

func (r *Room) removeLocked(p *Participant) {
	delete(r.participants, p.ID)
	for i, id := range r.order {
		if id == p.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.ConnectedParticipants.Dec()
}

func (r *Room) setStatusLocked(pid string, st ParticipantStatus) {
	if p, ok := r.participants[pid]; ok {
		p.status = st
	}
}

func (r *Room) broadcastUserListLocked() {
	users := make([]UserEntry, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, UserEntry{ID: id, Status: r.participants[id].status})
	}
	frame, err := encodeFrame(TypeUserList, userListData{Users: users})
	if err != nil {
		r.log.DPanic("encode user_list", zap.Error(err))
		return
	}
	for _, id := range r.order {
		r.participants[id].enqueue(frame)
	}
}

func (r *Room) sendToLocked(pid string, t MessageType, data any) {
	if p, ok := r.participants[pid]; ok {
		r.sendLocked(p, t, data)
	}
}

func (r *Room) sendLocked(p *Participant, t MessageType, data any) {
	frame, err := encodeFrame(t, data)
	if err != nil {
		r.log.DPanic("encode frame", zap.String("type", string(t)), zap.Error(err))
		return
	}
	p.enqueue(frame)
}

func (r *Room) dropStaleLocked(t MessageType, target string) {
	metrics.DroppedFrames.WithLabelValues("stale_target").Inc()
	r.log.Debug("stale target, frame dropped", zap.String("type", string(t)), zap.String("target_id", target))
}

func (r *Room) publishLocked(e observer.Event) {
	e.RoomID = r.ID
	e.At = r.opts.Now().UTC()
	r.observer.Publish(e)
}
