package models

import (
	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Competition{},
		&Entry{},
		&RoyaltyClaim{},
		&StakePosition{},
		&StakeComment{},
		&BallotNullifier{},
		&Community{},
		&Token{},
		&TokenAccount{},
		&TokenAllowance{},
		&TokenTransfer{},
		&Deposit{},
		&EventRecord{},
	)
}
