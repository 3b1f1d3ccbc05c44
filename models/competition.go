package models

import (
	"fmt"
	"time"
)

// PayoutMode selects how a closed competition's pool is split
type PayoutMode string

const (
	PayoutModeRanked    PayoutMode = "ranked"
	PayoutModeThreshold PayoutMode = "threshold"
)

// Phase is never persisted; it is derived from EndTime on every read.
type Phase string

const (
	PhaseOpen   Phase = "open"
	PhaseClosed Phase = "closed"
)

// Competition is a single voting window. Community rounds are competitions with CommunityID set.
type Competition struct {
	ID          uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug" gorm:"index"`
	Creator     string     `json:"creator" gorm:"not null;index"`
	StakeToken  string     `json:"stake_token" gorm:"not null"`
	PayoutToken string     `json:"payout_token" gorm:"not null"`
	TierShares  []uint64   `json:"tier_shares" gorm:"serializer:json"`
	Mode        PayoutMode `json:"mode" gorm:"not null"`
	RoyaltyBps  uint32     `json:"royalty_bps" gorm:"not null;default:0"`
	EntryFee    uint64     `json:"entry_fee" gorm:"not null;default:0"`
	PrizePool   uint64     `json:"prize_pool" gorm:"not null;default:0"` // funded into escrow at creation
	CommunityID *uint64    `json:"community_id,omitempty" gorm:"uniqueIndex:idx_community_round"`
	Round       uint64     `json:"round,omitempty" gorm:"uniqueIndex:idx_community_round"`
	EndTime     time.Time  `json:"end_time" gorm:"not null;index"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	// Calculated fields (not stored in DB)
	Phase Phase `json:"phase" gorm:"-"`
}

// EscrowAccount is the custody account holding this competition's stakes, fees and prize pool.
func (c *Competition) EscrowAccount() string {
	return fmt.Sprintf("escrow:competition:%d", c.ID)
}
