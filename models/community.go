package models

import (
	"fmt"
	"time"
)

// Community runs back-to-back rounds of fixed duration; every round is a threshold-payout competition.
type Community struct {
	ID            uint64        `json:"id" gorm:"primaryKey;autoIncrement"`
	Name          string        `json:"name" gorm:"not null"`
	Slug          string        `json:"slug" gorm:"uniqueIndex"`
	Owner         string        `json:"owner" gorm:"not null"`
	Token         string        `json:"token" gorm:"not null"`
	RoundDuration time.Duration `json:"round_duration" gorm:"not null"`
	GenesisAt     time.Time     `json:"genesis_at" gorm:"not null"`
	BuildFee      uint64        `json:"build_fee" gorm:"not null;default:0"`
	RoyaltyBps    uint32        `json:"royalty_bps" gorm:"not null;default:0"`
	RoundEmission uint64        `json:"round_emission" gorm:"not null;default:0"`
	CreatedAt     time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"autoUpdateTime"`

	// Calculated fields (not stored in DB)
	CurrentRound uint64 `json:"current_round" gorm:"-"`
}

// TreasuryAccount funds each round's emission.
func (c *Community) TreasuryAccount() string {
	return fmt.Sprintf("treasury:community:%d", c.ID)
}
