// models/token.go
package models

import (
	"time"
)

// Token is a fungible token known to the custody ledger. Only whitelisted tokens may back a competition.
type Token struct {
	Symbol      string    `json:"symbol" gorm:"primaryKey;type:varchar(64)"`
	Name        string    `json:"name"`
	Whitelisted bool      `json:"whitelisted" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

type TokenAccount struct {
	Token     string    `json:"token" gorm:"primaryKey;type:varchar(64)"`
	Account   string    `json:"account" gorm:"primaryKey;type:varchar(128)"`
	Balance   uint64    `json:"balance" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TokenAllowance lets Spender move up to Amount of Owner's balance.
type TokenAllowance struct {
	Token     string    `json:"token" gorm:"primaryKey;type:varchar(64)"`
	Owner     string    `json:"owner" gorm:"primaryKey;type:varchar(128)"`
	Spender   string    `json:"spender" gorm:"primaryKey;type:varchar(128)"`
	Amount    uint64    `json:"amount" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

type TransferKind string

const (
	TransferKindMint     TransferKind = "mint"
	TransferKindTransfer TransferKind = "transfer"
	TransferKindPull     TransferKind = "transfer_from"
)

type TokenTransfer struct {
	ID        string       `json:"id" gorm:"primaryKey"`
	Token     string       `json:"token" gorm:"not null;index"`
	From      string       `json:"from" gorm:"column:from_account;index"`
	To        string       `json:"to" gorm:"column:to_account;not null;index"`
	Amount    uint64       `json:"amount" gorm:"not null"`
	Kind      TransferKind `json:"kind" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"autoCreateTime"`
}

// Deposit mirrors an external deposit reported by the sync service.
// Table name: deposits
type Deposit struct {
	ID         string     `gorm:"primaryKey;type:varchar(128)" json:"id"` // external deposit id
	Account    string     `gorm:"type:varchar(128);not null;index" json:"account"`
	Token      string     `gorm:"type:varchar(64);not null" json:"token"`
	Amount     uint64     `gorm:"not null" json:"amount"`
	Chain      string     `gorm:"type:varchar(64)" json:"chain"`
	TxHash     string     `gorm:"type:varchar(128)" json:"tx_hash"`
	Credited   bool       `gorm:"not null;default:false" json:"credited"`
	CreditedAt *time.Time `json:"credited_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}
