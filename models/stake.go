package models

import (
	"time"
)

// StakePosition accumulates every vote of one voter on one entry.
// Amount is voting weight; Escrowed is the token principal behind it (ballot weight carries none).
type StakePosition struct {
	ID            uint64     `json:"-" gorm:"primaryKey;autoIncrement"`
	CompetitionID uint64     `json:"competition_id" gorm:"not null;uniqueIndex:idx_position_key"`
	EntryID       uint64     `json:"entry_id" gorm:"not null;uniqueIndex:idx_position_key"`
	Voter         string     `json:"voter" gorm:"not null;uniqueIndex:idx_position_key"`
	Amount        uint64     `json:"amount" gorm:"not null;default:0"`
	Escrowed      uint64     `json:"escrowed" gorm:"not null;default:0"`
	Withdrawn     bool       `json:"withdrawn" gorm:"default:false"`
	WithdrawnAt   *time.Time `json:"withdrawn_at,omitempty"`
	PrincipalPaid uint64     `json:"principal_paid" gorm:"not null;default:0"`
	RewardPaid    uint64     `json:"reward_paid" gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// StakeComment is attached to a stake retraction.
type StakeComment struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID uint64    `json:"competition_id" gorm:"not null;index:idx_comment_entry"`
	EntryID       uint64    `json:"entry_id" gorm:"not null;index:idx_comment_entry"`
	Voter         string    `json:"voter" gorm:"not null"`
	Amount        uint64    `json:"amount"`
	Body          string    `json:"body" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BallotNullifier marks an anonymous proof as spent.
type BallotNullifier struct {
	Nullifier     string    `json:"nullifier" gorm:"primaryKey"` // base58
	CompetitionID uint64    `json:"competition_id" gorm:"not null;index"`
	EntryID       uint64    `json:"entry_id" gorm:"not null"`
	Recipient     string    `json:"recipient" gorm:"not null"`
	Weight        uint64    `json:"weight"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}
