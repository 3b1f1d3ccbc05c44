package models

import (
	"time"
)

// EventRecord is the persisted copy of a domain event, written in the same transaction as the
// state change it describes. Seq orders the stream for indexers.
type EventRecord struct {
	Seq           uint64    `json:"seq" gorm:"primaryKey;autoIncrement"`
	EventID       string    `json:"event_id" gorm:"uniqueIndex;not null"`
	Type          string    `json:"type" gorm:"not null;index"`
	CompetitionID uint64    `json:"competition_id" gorm:"index"`
	EntryID       uint64    `json:"entry_id"`
	Actor         string    `json:"actor"`
	Amount        uint64    `json:"amount"`
	Detail        string    `json:"detail,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
}
