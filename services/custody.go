package services

import (
	"context"
	"errors"
	"fmt"

	"competition-protocol/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProtocolAccount is the spender users approve so the protocol can pull stakes and fees.
const ProtocolAccount = "protocol"

// TokenCustody moves fungible tokens between accounts. WithTx binds the custody to an open
// transaction so a transfer commits or rolls back with the ledger change that caused it.
type TokenCustody interface {
	WithTx(tx *gorm.DB) TokenCustody
	TransferFrom(ctx context.Context, token, spender, from, to string, amount uint64) error
	Transfer(ctx context.Context, token, from, to string, amount uint64) error
	BalanceOf(ctx context.Context, token, account string) (uint64, error)
	Mint(ctx context.Context, token, to string, amount uint64) error
	Approve(ctx context.Context, token, owner, spender string, amount uint64) error
	IsWhitelisted(ctx context.Context, token string) (bool, error)
}

// LedgerCustody keeps balances and allowances in the service database.
type LedgerCustody struct {
	DB *gorm.DB
}

func NewLedgerCustody(db *gorm.DB) *LedgerCustody {
	return &LedgerCustody{DB: db}
}

func (c *LedgerCustody) WithTx(tx *gorm.DB) TokenCustody {
	return &LedgerCustody{DB: tx}
}

// SetWhitelisted registers token if needed and sets its whitelist flag.
func (c *LedgerCustody) SetWhitelisted(ctx context.Context, token, name string, whitelisted bool) error {
	if token == "" {
		return fmt.Errorf("%w: token symbol required", ErrInvalidInput)
	}
	db := c.DB.WithContext(ctx)
	res := db.Model(&models.Token{}).Where("symbol = ?", token).Update("whitelisted", whitelisted)
	if res.Error != nil {
		return fmt.Errorf("update token: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := db.Create(&models.Token{Symbol: token, Name: name, Whitelisted: whitelisted}).Error; err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

func (c *LedgerCustody) IsWhitelisted(ctx context.Context, token string) (bool, error) {
	var t models.Token
	err := c.DB.WithContext(ctx).Where("symbol = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	return t.Whitelisted, nil
}

func (c *LedgerCustody) BalanceOf(ctx context.Context, token, account string) (uint64, error) {
	var acct models.TokenAccount
	err := c.DB.WithContext(ctx).Where("token = ? AND account = ?", token, account).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return acct.Balance, nil
}

func (c *LedgerCustody) Allowance(ctx context.Context, token, owner, spender string) (uint64, error) {
	var a models.TokenAllowance
	err := c.DB.WithContext(ctx).
		Where("token = ? AND owner = ? AND spender = ?", token, owner, spender).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load allowance: %w", err)
	}
	return a.Amount, nil
}

// Approve sets (not adds to) the spender's allowance.
func (c *LedgerCustody) Approve(ctx context.Context, token, owner, spender string, amount uint64) error {
	db := c.DB.WithContext(ctx)
	res := db.Model(&models.TokenAllowance{}).
		Where("token = ? AND owner = ? AND spender = ?", token, owner, spender).
		Update("amount", amount)
	if res.Error != nil {
		return fmt.Errorf("update allowance: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := db.Create(&models.TokenAllowance{Token: token, Owner: owner, Spender: spender, Amount: amount}).Error; err != nil {
		return fmt.Errorf("create allowance: %w", err)
	}
	return nil
}

func (c *LedgerCustody) Mint(ctx context.Context, token, to string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	db := c.DB.WithContext(ctx)
	var known int64
	if err := db.Model(&models.Token{}).Where("symbol = ?", token).Count(&known).Error; err != nil {
		return fmt.Errorf("check token: %w", err)
	}
	if known == 0 {
		if err := db.Create(&models.Token{Symbol: token, Name: token}).Error; err != nil {
			return fmt.Errorf("create token: %w", err)
		}
	}
	if err := credit(db, token, to, amount); err != nil {
		return err
	}
	return record(db, models.TransferKindMint, token, "", to, amount)
}

func (c *LedgerCustody) Transfer(ctx context.Context, token, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	db := c.DB.WithContext(ctx)
	if err := debit(db, token, from, amount); err != nil {
		return err
	}
	if err := credit(db, token, to, amount); err != nil {
		return err
	}
	return record(db, models.TransferKindTransfer, token, from, to, amount)
}

// TransferFrom moves amount out of from using spender's allowance.
func (c *LedgerCustody) TransferFrom(ctx context.Context, token, spender, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	db := c.DB.WithContext(ctx)
	if spender != from {
		res := db.Model(&models.TokenAllowance{}).
			Where("token = ? AND owner = ? AND spender = ? AND amount >= ?", token, from, spender, amount).
			UpdateColumn("amount", gorm.Expr("amount - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("spend allowance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotAuthorized
		}
	}
	if err := debit(db, token, from, amount); err != nil {
		return err
	}
	if err := credit(db, token, to, amount); err != nil {
		return err
	}
	return record(db, models.TransferKindPull, token, from, to, amount)
}

func debit(db *gorm.DB, token, account string, amount uint64) error {
	res := db.Model(&models.TokenAccount{}).
		Where("token = ? AND account = ? AND balance >= ?", token, account, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debit %s: %w", account, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func credit(db *gorm.DB, token, account string, amount uint64) error {
	res := db.Model(&models.TokenAccount{}).
		Where("token = ? AND account = ?", token, account).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("credit %s: %w", account, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := db.Create(&models.TokenAccount{Token: token, Account: account, Balance: amount}).Error; err != nil {
		return fmt.Errorf("open account %s: %w", account, err)
	}
	return nil
}

func record(db *gorm.DB, kind models.TransferKind, token, from, to string, amount uint64) error {
	t := models.TokenTransfer{
		ID:     uuid.NewString(),
		Token:  token,
		From:   from,
		To:     to,
		Amount: amount,
		Kind:   kind,
	}
	if err := db.Create(&t).Error; err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}
