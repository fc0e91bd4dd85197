package models

import (
	"time"

	"gorm.io/gorm"
)

// SignalKind discriminates handshake payload rows
type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
	SignalICE    SignalKind = "ice"
)

// CallSignal is one append-only handshake message. ICE candidates get one
// row each so rapid successive announcements never overwrite one another;
// the auto-increment ID doubles as the per-call delivery sequence.
type CallSignal struct {
	ID        uint      `json:"seq" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`

	CallID  string     `json:"callId" gorm:"size:64;index;not null"`
	Kind    SignalKind `json:"kind" gorm:"size:10;index"`
	FromID  string     `json:"fromId" gorm:"size:128"`
	Payload string     `json:"payload" gorm:"type:text"`
}

func (CallSignal) TableName() string {
	return "call_signals"
}

// AppendCallSignal inserts a signal row
func AppendCallSignal(db *gorm.DB, signal *CallSignal) error {
	return db.Create(signal).Error
}

// GetCallSignals lists signal rows for a call with ID greater than afterSeq,
// in insertion order. Kinds filters the result when non-empty.
func GetCallSignals(db *gorm.DB, callID string, afterSeq uint, kinds ...SignalKind) ([]CallSignal, error) {
	var signals []CallSignal
	query := db.Where("call_id = ? AND id > ?", callID, afterSeq).Order("id ASC")
	if len(kinds) > 0 {
		query = query.Where("kind IN ?", kinds)
	}
	err := query.Find(&signals).Error
	return signals, err
}
