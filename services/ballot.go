package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"competition-protocol/events"
	"competition-protocol/models"

	"github.com/mr-tron/base58"
	"gorm.io/gorm"
)

// BallotProof is an anonymous vote as submitted by a client.
type BallotProof struct {
	CompetitionID uint64   `json:"competition_id"`
	Choice        uint64   `json:"choice"`
	Proof         []byte   `json:"proof"`
	PublicSignals []string `json:"public_signals"`
}

// VerifiedBallot is what a verifier vouches for. Recipient is the account that may later
// withdraw the ballot's reward; it is bound into the proof's public inputs.
type VerifiedBallot struct {
	Choice    uint64
	Weight    uint64
	Nullifier []byte
	Recipient string
}

// BallotVerifier checks a proof against the eligible voter set and weight table.
// It returns ErrInvalidProof for proofs it rejects.
type BallotVerifier interface {
	Verify(ctx context.Context, ballot BallotProof) (*VerifiedBallot, error)
}

// CastBallot records a verified anonymous vote. Ballot weight counts toward the entry total
// like a token stake but escrows no principal.
func (p *CompetitionProtocol) CastBallot(ctx context.Context, ballot BallotProof) (*models.StakePosition, error) {
	if p.Verifier == nil {
		return nil, fmt.Errorf("%w: ballot channel is not configured", ErrInvalidInput)
	}
	verified, err := p.Verifier.Verify(ctx, ballot)
	if err != nil {
		if errors.Is(err, ErrInvalidProof) {
			return nil, err
		}
		return nil, fmt.Errorf("verify ballot: %w", err)
	}
	if len(verified.Nullifier) == 0 {
		return nil, fmt.Errorf("%w: verifier returned no nullifier", ErrInvalidProof)
	}
	nullifier := base58.Encode(verified.Nullifier)
	recipient := verified.Recipient
	if recipient == "" {
		recipient = "ballot:" + nullifier
	}

	var pos *models.StakePosition
	err = p.execute(ctx, "ballot", func(o *op) error {
		comp, err := p.loadCompetition(o.tx, ballot.CompetitionID)
		if err != nil {
			return err
		}

		var spent models.BallotNullifier
		err = o.tx.Where("nullifier = ?", nullifier).First(&spent).Error
		if err == nil {
			return ErrNullifierReused
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check nullifier: %w", err)
		}

		if !p.Scheduler.IsOpen(comp, o.now) {
			return ErrCompetitionClosed
		}

		pos, err = p.Ledger.Stake(o.tx, comp, verified.Choice, recipient, verified.Weight, comp.StakeToken, false, o.now)
		if err != nil {
			return err
		}
		if err := p.Registry.RecordStake(o.tx, comp.ID, verified.Choice, verified.Weight); err != nil {
			return err
		}
		if err := o.tx.Create(&models.BallotNullifier{
			Nullifier:     nullifier,
			CompetitionID: comp.ID,
			EntryID:       verified.Choice,
			Recipient:     recipient,
			Weight:        verified.Weight,
		}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrNullifierReused
			}
			return fmt.Errorf("spend nullifier: %w", err)
		}

		o.emit(events.NewEvent(events.BallotAccepted, comp.ID, verified.Choice, recipient, verified.Weight).
			With("nullifier", nullifier))
		o.emit(events.NewEvent(events.StakeRecorded, comp.ID, verified.Choice, recipient, verified.Weight).
			With("source", "ballot").
			With("escrowed", strconv.FormatBool(false)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}
