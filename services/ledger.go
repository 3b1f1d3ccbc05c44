package services

import (
	"errors"
	"fmt"
	"time"

	"competition-protocol/models"

	"gorm.io/gorm"
)

// Payout is what a voter withdrawal releases: escrowed principal in the stake token and
// the settled reward in the payout token.
type Payout struct {
	CompetitionID uint64 `json:"competition_id"`
	EntryID       uint64 `json:"entry_id"`
	Principal     uint64 `json:"principal"`
	Reward        uint64 `json:"reward"`
	StakeToken    string `json:"stake_token"`
	PayoutToken   string `json:"payout_token"`
}

// StakeLedger authorizes amounts once. It never moves tokens itself.
type StakeLedger struct {
	Calculator SettlementCalculator
}

// Stake accumulates amount into the (competition, entry, voter) position. escrowed marks
// amount as token principal held in escrow; ballot weight is not.
func (l *StakeLedger) Stake(tx *gorm.DB, comp *models.Competition, entryID uint64, voter string, amount uint64, token string, escrowed bool, now time.Time) (*models.StakePosition, error) {
	if PhaseOf(comp, now) != models.PhaseOpen {
		return nil, ErrCompetitionClosed
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if token != comp.StakeToken {
		return nil, ErrWrongToken
	}
	if voter == "" {
		return nil, fmt.Errorf("%w: voter required", ErrInvalidInput)
	}

	var entries int64
	if err := tx.Model(&models.Entry{}).
		Where("competition_id = ? AND entry_id = ?", comp.ID, entryID).
		Count(&entries).Error; err != nil {
		return nil, fmt.Errorf("check entry: %w", err)
	}
	if entries == 0 {
		return nil, ErrUnknownEntry
	}

	var escrow uint64
	if escrowed {
		escrow = amount
	}

	pos, err := l.position(tx, comp.ID, entryID, voter)
	if errors.Is(err, ErrNoPosition) {
		pos = &models.StakePosition{
			CompetitionID: comp.ID,
			EntryID:       entryID,
			Voter:         voter,
			Amount:        amount,
			Escrowed:      escrow,
		}
		if err := tx.Create(pos).Error; err != nil {
			return nil, fmt.Errorf("create position: %w", err)
		}
		return pos, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Model(pos).Updates(map[string]interface{}{
		"amount":   gorm.Expr("amount + ?", amount),
		"escrowed": gorm.Expr("escrowed + ?", escrow),
	}).Error; err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	pos.Amount += amount
	pos.Escrowed += escrow
	return pos, nil
}

// Retract gives back part of the escrowed principal while the competition is open.
func (l *StakeLedger) Retract(tx *gorm.DB, comp *models.Competition, entryID uint64, voter string, amount uint64, now time.Time) (*models.StakePosition, error) {
	if PhaseOf(comp, now) != models.PhaseOpen {
		return nil, ErrCompetitionClosed
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	pos, err := l.position(tx, comp.ID, entryID, voter)
	if err != nil {
		return nil, err
	}
	if amount > pos.Escrowed {
		return nil, ErrInsufficientStake
	}

	if err := tx.Model(pos).Updates(map[string]interface{}{
		"amount":   gorm.Expr("amount - ?", amount),
		"escrowed": gorm.Expr("escrowed - ?", amount),
	}).Error; err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	pos.Amount -= amount
	pos.Escrowed -= amount
	return pos, nil
}

// WithdrawVoterShare computes the voter's payout and consumes the position.
func (l *StakeLedger) WithdrawVoterShare(tx *gorm.DB, comp *models.Competition, snap Snapshot, entryID uint64, voter string, now time.Time) (Payout, error) {
	if PhaseOf(comp, now) != models.PhaseClosed {
		return Payout{}, ErrCompetitionOpen
	}
	pos, err := l.position(tx, comp.ID, entryID, voter)
	if err != nil {
		return Payout{}, err
	}
	if pos.Withdrawn {
		return Payout{}, ErrAlreadyWithdrawn
	}

	settlement := l.Calculator.ComputeShares(snap)
	payout := Payout{
		CompetitionID: comp.ID,
		EntryID:       entryID,
		Principal:     pos.Escrowed,
		Reward:        settlement.VoterReward(entryID, pos.Amount),
		StakeToken:    comp.StakeToken,
		PayoutToken:   comp.PayoutToken,
	}

	res := tx.Model(&models.StakePosition{}).
		Where("id = ? AND withdrawn = ?", pos.ID, false).
		Updates(map[string]interface{}{
			"withdrawn":      true,
			"withdrawn_at":   now,
			"principal_paid": payout.Principal,
			"reward_paid":    payout.Reward,
		})
	if res.Error != nil {
		return Payout{}, fmt.Errorf("consume position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Payout{}, ErrAlreadyWithdrawn
	}
	return payout, nil
}

// WithdrawOwnerRoyalty computes the owner's royalty and consumes the claim.
func (l *StakeLedger) WithdrawOwnerRoyalty(tx *gorm.DB, comp *models.Competition, snap Snapshot, entry *models.Entry, owner string, now time.Time) (uint64, error) {
	if PhaseOf(comp, now) != models.PhaseClosed {
		return 0, ErrCompetitionOpen
	}
	if entry.Owner != owner {
		return 0, ErrNotOwner
	}

	var claim models.RoyaltyClaim
	err := forUpdate(tx).
		Where("competition_id = ? AND entry_id = ?", comp.ID, entry.EntryID).
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUnknownEntry
	}
	if err != nil {
		return 0, fmt.Errorf("load royalty claim: %w", err)
	}
	if claim.Claimed {
		return 0, ErrAlreadyClaimed
	}

	royalty := l.Calculator.ComputeShares(snap).OwnerRoyalty(entry.EntryID)
	res := tx.Model(&models.RoyaltyClaim{}).
		Where("id = ? AND claimed = ?", claim.ID, false).
		Updates(map[string]interface{}{
			"claimed":    true,
			"amount":     royalty,
			"claimed_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("consume royalty claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrAlreadyClaimed
	}
	return royalty, nil
}

func (l *StakeLedger) position(tx *gorm.DB, competitionID, entryID uint64, voter string) (*models.StakePosition, error) {
	var pos models.StakePosition
	err := forUpdate(tx).
		Where("competition_id = ? AND entry_id = ? AND voter = ?", competitionID, entryID, voter).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPosition
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return &pos, nil
}
