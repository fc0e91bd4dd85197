package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/tripzi-app/calling/internal/models"
)

// ErrNotFound is returned when no call record matches the given id
var ErrNotFound = errors.New("signaling: call not found")

// PersistenceError wraps a store failure. Callers must treat the call
// attempt as failed; no retry happens at this layer.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("signaling: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError rejects a write whose payload fails boundary validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("signaling: invalid %s: %s", e.Field, e.Reason)
}

// EventType discriminates change-feed events
type EventType string

const (
	// EventCallCreated fires once per call attempt, right after insert
	EventCallCreated EventType = "call_created"
	// EventCallUpdated fires on every record mutation (status, answer, end)
	EventCallUpdated EventType = "call_updated"
	// EventCandidate fires for each appended ICE candidate
	EventCandidate EventType = "candidate"
)

// Event is one change-feed notification. Record always carries the current
// full state of the call at publish time, never a delta; consumers must not
// assume events arrive in write order.
type Event struct {
	Type      EventType                `json:"type"`
	Record    models.CallRecord        `json:"record"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Seq       uint                     `json:"seq,omitempty"`
	From      string                   `json:"from,omitempty"`
}

// Predicate filters change-feed events by their record snapshot
type Predicate func(record *models.CallRecord) bool

// ForReceiver matches records addressed to the given user
func ForReceiver(uid string) Predicate {
	return func(record *models.CallRecord) bool {
		return record.ReceiverID == uid
	}
}

// ForCall matches one call attempt
func ForCall(callID string) Predicate {
	return func(record *models.CallRecord) bool {
		return record.CallID == callID
	}
}

// ForParticipant matches records where the user is either side
func ForParticipant(uid string) Predicate {
	return func(record *models.CallRecord) bool {
		return record.CallerID == uid || record.ReceiverID == uid
	}
}

// Patch is a partial call-record update. Nil fields are left untouched;
// set fields win last-write per field, there is no optimistic concurrency.
type Patch struct {
	Status    *models.CallStatus
	OfferSDP  *string
	AnswerSDP *string
	EndReason *string
}
