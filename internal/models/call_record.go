package models

import (
	"time"

	"gorm.io/gorm"
)

// CallType distinguishes audio-only from audio+video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is the authoritative call lifecycle state, mutated by either
// participant through the signaling channel
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusDeclined CallStatus = "declined"
	CallStatusEnded    CallStatus = "ended"
)

// Terminal reports whether the status is a terminal state
func (s CallStatus) Terminal() bool {
	return s == CallStatusDeclined || s == CallStatusEnded
}

// End reasons recorded when a call reaches a terminal state
const (
	EndReasonHangup   = "hangup"
	EndReasonDeclined = "declined"
	EndReasonTimeout  = "ring_timeout"
	EndReasonFailed   = "failed"
)

// CallRecord is one call attempt. Caller, receiver and call type are
// immutable after creation; status, answer SDP and the end timestamps are
// the only mutable fields. Offer and answer SDP live in their own columns
// so concurrent writes from the two participants never collide.
type CallRecord struct {
	ID        uint       `json:"-" gorm:"primaryKey"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"-" gorm:"autoUpdateTime"`
	DeletedAt *time.Time `json:"-" gorm:"index"`

	CallID     string     `json:"callId" gorm:"uniqueIndex;size:64;not null"`
	CallerID   string     `json:"callerId" gorm:"size:128;index;not null"`
	ReceiverID string     `json:"receiverId" gorm:"size:128;index;not null"`
	CallType   CallType   `json:"callType" gorm:"size:10"`
	Status     CallStatus `json:"status" gorm:"size:20;index"`

	OfferSDP  string `json:"offerSdp,omitempty" gorm:"type:text"`
	AnswerSDP string `json:"answerSdp,omitempty" gorm:"type:text"`

	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	DurationSec int64      `json:"durationSec,omitempty"`
	EndReason   string     `json:"endReason,omitempty" gorm:"size:100"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// CreateCallRecord inserts a new call attempt
func CreateCallRecord(db *gorm.DB, record *CallRecord) error {
	return db.Create(record).Error
}

// GetCallRecordByCallID fetches one call attempt by its public id
func GetCallRecordByCallID(db *gorm.DB, callID string) (*CallRecord, error) {
	var record CallRecord
	err := db.Where("call_id = ?", callID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetCallsByStatus lists call attempts in a given status, newest first
func GetCallsByStatus(db *gorm.DB, status CallStatus, limit int) ([]CallRecord, error) {
	var records []CallRecord
	query := db.Where("status = ?", status).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// GetCallHistoryByUser lists call attempts where the user was either side,
// newest first
func GetCallHistoryByUser(db *gorm.DB, userID string, limit int) ([]CallRecord, error) {
	var records []CallRecord
	query := db.Where("caller_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// GetRingingCallsOlderThan lists ringing calls created before the cutoff,
// used by the ring-timeout sweeper
func GetRingingCallsOlderThan(db *gorm.DB, cutoff time.Time) ([]CallRecord, error) {
	var records []CallRecord
	err := db.Where("status = ? AND created_at < ?", CallStatusRinging, cutoff).
		Find(&records).Error
	return records, err
}
