package models

import (
	"time"
)

// Entry is a candidate or submission inside a competition.
// TotalStakeReceived is the only field that changes after registration.
type Entry struct {
	ID                 uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	CompetitionID      uint64    `json:"competition_id" gorm:"not null;uniqueIndex:idx_entry_key"`
	EntryID            uint64    `json:"entry_id" gorm:"not null;uniqueIndex:idx_entry_key"`
	Owner              string    `json:"owner" gorm:"not null;index"`
	Title              string    `json:"title"`
	Slug               string    `json:"slug"`
	Metadata           string    `json:"metadata" gorm:"type:text"`
	ContentURL         string    `json:"content_url,omitempty"`
	Sponsored          bool      `json:"sponsored" gorm:"default:false"`
	FeePaid            uint64    `json:"fee_paid" gorm:"not null;default:0"`
	TotalStakeReceived uint64    `json:"total_stake_received" gorm:"not null;default:0"`
	RegisteredAt       time.Time `json:"registered_at" gorm:"not null"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Calculated fields (not stored in DB)
	Rank int `json:"rank" gorm:"-"`
}

// RoyaltyClaim tracks the entry owner's one-time royalty withdrawal.
type RoyaltyClaim struct {
	ID            uint64     `json:"-" gorm:"primaryKey;autoIncrement"`
	CompetitionID uint64     `json:"competition_id" gorm:"not null;uniqueIndex:idx_royalty_key"`
	EntryID       uint64     `json:"entry_id" gorm:"not null;uniqueIndex:idx_royalty_key"`
	Owner         string     `json:"owner" gorm:"not null"`
	Claimed       bool       `json:"claimed" gorm:"default:false"`
	Amount        uint64     `json:"amount" gorm:"not null;default:0"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
}
