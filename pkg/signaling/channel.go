// Package signaling implements the persisted mailbox both call participants
// use to exchange handshake payloads: one call_records row per call attempt,
// append-only call_signals rows for ICE candidates, and an in-process hub
// that fans record snapshots out to subscribers.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/events"
	"github.com/tripzi-app/calling/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type subscriber struct {
	pred    Predicate
	handler func(Event)
}

// Channel is the signaling channel over a gorm-backed record store.
// Delivery to subscribers is at-least-once and may reorder rapid successive
// updates; every event carries a full current-state snapshot so consumers
// never have to reassemble deltas.
type Channel struct {
	db *gorm.DB

	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewChannel creates a signaling channel on top of db
func NewChannel(db *gorm.DB) *Channel {
	return &Channel{
		db:   db,
		subs: make(map[string]*subscriber),
	}
}

// CreateCall inserts a new call record with status ringing and notifies
// subscribers. The caller must abort call setup when this fails.
func (ch *Channel) CreateCall(ctx context.Context, callerID, receiverID string, callType models.CallType) (*models.CallRecord, error) {
	if callerID == "" || receiverID == "" {
		return nil, &ValidationError{Field: "participants", Reason: "caller and receiver are required"}
	}
	if callerID == receiverID {
		return nil, &ValidationError{Field: "participants", Reason: "caller and receiver must differ"}
	}
	if callType != models.CallTypeAudio && callType != models.CallTypeVideo {
		return nil, &ValidationError{Field: "callType", Reason: "must be audio or video"}
	}

	record := &models.CallRecord{
		CallID:     uuid.NewString(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     models.CallStatusRinging,
	}
	if err := models.CreateCallRecord(ch.db.WithContext(ctx), record); err != nil {
		return nil, &PersistenceError{Op: "create call", Err: err}
	}

	ch.publish(Event{Type: EventCallCreated, Record: *record})
	events.PublishEvent(events.CallCreated, map[string]interface{}{
		"callId":     record.CallID,
		"callerId":   record.CallerID,
		"receiverId": record.ReceiverID,
		"callType":   string(record.CallType),
	}, "signaling")

	return record, nil
}

// UpdateCall applies a partial update to the record and notifies subscribers
// with the resulting snapshot. Updates against a record already in a
// terminal state are dropped silently, which keeps end/decline idempotent
// across both participants.
func (ch *Channel) UpdateCall(ctx context.Context, callID string, patch Patch) (*models.CallRecord, error) {
	record, err := ch.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if record.Status.Terminal() {
		return record, nil
	}

	updates := map[string]interface{}{}

	if patch.OfferSDP != nil {
		if err := validateSDP("offer", *patch.OfferSDP); err != nil {
			return nil, err
		}
		updates["offer_sdp"] = *patch.OfferSDP
	}
	if patch.AnswerSDP != nil {
		if err := validateSDP("answer", *patch.AnswerSDP); err != nil {
			return nil, err
		}
		updates["answer_sdp"] = *patch.AnswerSDP
	}
	if patch.EndReason != nil {
		updates["end_reason"] = *patch.EndReason
	}
	if patch.Status != nil {
		status := *patch.Status
		switch status {
		case models.CallStatusAnswered:
			now := time.Now()
			updates["status"] = status
			updates["answered_at"] = &now
		case models.CallStatusDeclined, models.CallStatusEnded:
			now := time.Now()
			updates["status"] = status
			updates["ended_at"] = &now
			if record.AnsweredAt != nil {
				updates["duration_sec"] = int64(now.Sub(*record.AnsweredAt) / time.Second)
			}
		case models.CallStatusRinging:
			return nil, &ValidationError{Field: "status", Reason: "cannot transition back to ringing"}
		default:
			return nil, &ValidationError{Field: "status", Reason: "unknown status"}
		}
	}

	if len(updates) == 0 {
		return record, nil
	}

	// the status guard makes the terminal latch atomic: two racing terminal
	// writes cannot both land, the loser's update matches zero rows
	res := ch.db.WithContext(ctx).
		Model(&models.CallRecord{}).
		Where("call_id = ? AND status IN ?", callID,
			[]models.CallStatus{models.CallStatusRinging, models.CallStatusAnswered}).
		Updates(updates)
	if res.Error != nil {
		return nil, &PersistenceError{Op: "update call", Err: res.Error}
	}

	// reload so the published snapshot reflects the stored row
	record, err = ch.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		// lost the race to a concurrent terminal write
		return record, nil
	}

	ch.publish(Event{Type: EventCallUpdated, Record: *record})
	ch.publishLifecycle(record, patch.Status)

	return record, nil
}

// AddCandidate appends one ICE candidate as its own signal row and notifies
// subscribers. Candidates never overwrite each other or a pending answer.
func (ch *Channel) AddCandidate(ctx context.Context, callID, fromID string, candidate webrtc.ICECandidateInit) (uint, error) {
	if candidate.Candidate == "" {
		return 0, &ValidationError{Field: "candidate", Reason: "empty candidate"}
	}
	record, err := ch.load(ctx, callID)
	if err != nil {
		return 0, err
	}
	if record.Status.Terminal() {
		return 0, nil
	}

	payload, err := json.Marshal(candidate)
	if err != nil {
		return 0, &ValidationError{Field: "candidate", Reason: err.Error()}
	}

	signal := &models.CallSignal{
		CallID:  callID,
		Kind:    models.SignalICE,
		FromID:  fromID,
		Payload: string(payload),
	}
	if err := models.AppendCallSignal(ch.db.WithContext(ctx), signal); err != nil {
		return 0, &PersistenceError{Op: "append candidate", Err: err}
	}

	ch.publish(Event{
		Type:      EventCandidate,
		Record:    *record,
		Candidate: &candidate,
		Seq:       signal.ID,
		From:      fromID,
	})
	return signal.ID, nil
}

// Candidates replays ICE candidates appended after seq, in insertion order.
// Late subscribers use this to catch up before relying on live events.
func (ch *Channel) Candidates(ctx context.Context, callID string, afterSeq uint) ([]Event, error) {
	signals, err := models.GetCallSignals(ch.db.WithContext(ctx), callID, afterSeq, models.SignalICE)
	if err != nil {
		return nil, &PersistenceError{Op: "list candidates", Err: err}
	}
	record, err := ch.load(ctx, callID)
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(signals))
	for _, s := range signals {
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(s.Payload), &candidate); err != nil {
			logger.Warn("skipping malformed candidate row",
				zap.String("callId", callID), zap.Uint("seq", s.ID))
			continue
		}
		out = append(out, Event{
			Type:      EventCandidate,
			Record:    *record,
			Candidate: &candidate,
			Seq:       s.ID,
			From:      s.FromID,
		})
	}
	return out, nil
}

// Get returns the current record snapshot
func (ch *Channel) Get(ctx context.Context, callID string) (*models.CallRecord, error) {
	return ch.load(ctx, callID)
}

// Subscribe registers a change-feed handler for records matching pred.
// The returned function removes the subscription; calling it more than once
// is safe. Handlers run on their own goroutine per event and must tolerate
// out-of-order delivery.
func (ch *Channel) Subscribe(pred Predicate, handler func(Event)) func() {
	id, err := gonanoid.Nanoid()
	if err != nil {
		id = uuid.NewString()
	}

	ch.mu.Lock()
	ch.subs[id] = &subscriber{pred: pred, handler: handler}
	ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ch.mu.Lock()
			delete(ch.subs, id)
			ch.mu.Unlock()
		})
	}
}

// ExpireRinging transitions ringing calls created before the cutoff to
// ended with the ring_timeout reason. Returns how many were expired.
func (ch *Channel) ExpireRinging(ctx context.Context, olderThan time.Time) (int64, error) {
	stale, err := models.GetRingingCallsOlderThan(ch.db.WithContext(ctx), olderThan)
	if err != nil {
		return 0, &PersistenceError{Op: "list ringing calls", Err: err}
	}

	ended := models.CallStatusEnded
	reason := models.EndReasonTimeout
	var n int64
	for i := range stale {
		if _, err := ch.UpdateCall(ctx, stale[i].CallID, Patch{Status: &ended, EndReason: &reason}); err != nil {
			logger.Error("failed to expire ringing call",
				zap.String("callId", stale[i].CallID), zap.Error(err))
			continue
		}
		events.PublishEvent(events.CallExpired, map[string]interface{}{
			"callId": stale[i].CallID,
		}, "signaling")
		n++
	}
	return n, nil
}

func (ch *Channel) load(ctx context.Context, callID string) (*models.CallRecord, error) {
	record, err := models.GetCallRecordByCallID(ch.db.WithContext(ctx), callID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "load call", Err: err}
	}
	return record, nil
}

func (ch *Channel) publish(ev Event) {
	ch.mu.RLock()
	matched := make([]*subscriber, 0, len(ch.subs))
	for _, sub := range ch.subs {
		if sub.pred == nil || sub.pred(&ev.Record) {
			matched = append(matched, sub)
		}
	}
	ch.mu.RUnlock()

	for _, sub := range matched {
		go sub.handler(ev)
	}
}

func (ch *Channel) publishLifecycle(record *models.CallRecord, status *models.CallStatus) {
	if status == nil {
		return
	}
	data := map[string]interface{}{
		"callId":     record.CallID,
		"callerId":   record.CallerID,
		"receiverId": record.ReceiverID,
		"callType":   string(record.CallType),
	}
	switch *status {
	case models.CallStatusAnswered:
		events.PublishEvent(events.CallAnswered, data, "signaling")
	case models.CallStatusDeclined:
		events.PublishEvent(events.CallDeclined, data, "signaling")
	case models.CallStatusEnded:
		data["durationSec"] = record.DurationSec
		data["endReason"] = record.EndReason
		events.PublishEvent(events.CallEnded, data, "signaling")
	}
}

func validateSDP(field, raw string) error {
	if raw == "" {
		return &ValidationError{Field: field, Reason: "empty SDP"}
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	return nil
}
