package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"
	"competition-protocol/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// CompetitionProtocol is the only writer of competition state. Every operation holds mu for its
// whole duration and runs in one database transaction, so a failed transfer also undoes the ledger
// change that requested it. Events are persisted inside the transaction and published after commit.
type CompetitionProtocol struct {
	DB        *gorm.DB
	Scheduler *RoundScheduler
	Registry  *EntryRegistry
	Ledger    *StakeLedger
	Custody   TokenCustody
	Bus       *events.EventBus
	Content   utils.ContentStore
	Verifier  BallotVerifier
	Metrics   *ProtocolMetrics

	mu sync.Mutex
}

func NewCompetitionProtocol(db *gorm.DB, scheduler *RoundScheduler, custody TokenCustody, bus *events.EventBus) *CompetitionProtocol {
	return &CompetitionProtocol{
		DB:        db,
		Scheduler: scheduler,
		Registry:  &EntryRegistry{},
		Ledger:    &StakeLedger{},
		Custody:   custody,
		Bus:       bus,
	}
}

type payoutLine struct {
	kind   string
	token  string
	amount uint64
}

// op is the state of one serialized operation.
type op struct {
	ctx     context.Context
	tx      *gorm.DB
	custody TokenCustody
	now     time.Time
	events  []events.Event
	paid    []payoutLine
}

func (o *op) emit(evt events.Event) {
	o.events = append(o.events, evt)
}

// pay moves amount out of escrow and remembers it for metrics.
func (o *op) pay(kind, token, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := o.custody.Transfer(o.ctx, token, from, to, amount); err != nil {
		return transferFailed(err)
	}
	o.paid = append(o.paid, payoutLine{kind: kind, token: token, amount: amount})
	return nil
}

// pull moves amount from an approving account into escrow.
func (o *op) pull(token, from, to string, amount uint64) error {
	if err := o.custody.TransferFrom(o.ctx, token, ProtocolAccount, from, to, amount); err != nil {
		return transferFailed(err)
	}
	return nil
}

func (p *CompetitionProtocol) execute(ctx context.Context, name string, fn func(o *op) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o := &op{ctx: ctx, now: p.Scheduler.Now()}
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o.tx = tx
		o.custody = p.Custody.WithTx(tx)
		if err := fn(o); err != nil {
			return err
		}
		for _, evt := range o.events {
			rec := evt.Record()
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("persist %s event: %w", evt.Type, err)
			}
		}
		return nil
	})
	p.Metrics.observe(name, err)
	if err != nil {
		log.Printf("❌ [PROTOCOL] %s failed: %v", name, err)
		return err
	}

	for _, line := range o.paid {
		p.Metrics.paid(line.kind, line.token, line.amount)
	}
	if p.Bus != nil {
		for _, evt := range o.events {
			p.Bus.Publish(evt)
		}
	}
	return nil
}

func (p *CompetitionProtocol) loadCompetition(tx *gorm.DB, id uint64) (*models.Competition, error) {
	var comp models.Competition
	err := tx.First(&comp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load competition: %w", err)
	}
	return &comp, nil
}

type CreateCompetitionInput struct {
	Creator     string            `json:"-"`
	Title       string            `json:"title"`
	StakeToken  string            `json:"stake_token"`
	PayoutToken string            `json:"payout_token"`
	TierShares  []uint64          `json:"tier_shares"`
	Mode        models.PayoutMode `json:"mode"`
	RoyaltyBps  uint32            `json:"royalty_bps"`
	EntryFee    uint64            `json:"entry_fee"`
	PrizePool   uint64            `json:"prize_pool"`
	EndTime     time.Time         `json:"end_time"`
}

// Create opens a competition and funds its escrow from the creator: the sum of tier shares in
// ranked mode, PrizePool in threshold mode.
func (p *CompetitionProtocol) Create(ctx context.Context, in CreateCompetitionInput) (*models.Competition, error) {
	if in.Creator == "" {
		return nil, fmt.Errorf("%w: creator required", ErrInvalidInput)
	}
	if in.RoyaltyBps > BasisPoints {
		return nil, fmt.Errorf("%w: royalty_bps above %d", ErrInvalidInput, BasisPoints)
	}

	comp := &models.Competition{
		Title:       in.Title,
		Slug:        slug.Make(in.Title),
		Creator:     in.Creator,
		StakeToken:  in.StakeToken,
		PayoutToken: in.PayoutToken,
		TierShares:  in.TierShares,
		Mode:        in.Mode,
		RoyaltyBps:  in.RoyaltyBps,
		EntryFee:    in.EntryFee,
		EndTime:     in.EndTime.UTC(),
	}

	switch in.Mode {
	case models.PayoutModeRanked:
		if len(in.TierShares) == 0 {
			return nil, fmt.Errorf("%w: ranked payout needs tier shares", ErrInvalidInput)
		}
		if in.EntryFee != 0 {
			return nil, fmt.Errorf("%w: entry fees only apply to threshold payout", ErrInvalidInput)
		}
		for _, tier := range in.TierShares {
			if comp.PrizePool > math.MaxUint64-tier {
				return nil, fmt.Errorf("%w: tier shares overflow", ErrInvalidInput)
			}
			comp.PrizePool += tier
		}
	case models.PayoutModeThreshold:
		if len(in.TierShares) != 0 {
			return nil, fmt.Errorf("%w: threshold payout takes no tier shares", ErrInvalidInput)
		}
		// fees join the payout pool, so they must be collected in the payout token
		if in.EntryFee > 0 && in.StakeToken != in.PayoutToken {
			return nil, fmt.Errorf("%w: entry fees need stake_token equal to payout_token", ErrInvalidInput)
		}
		comp.PrizePool = in.PrizePool
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, in.Mode)
	}

	err := p.execute(ctx, "create", func(o *op) error {
		if !comp.EndTime.After(o.now) {
			return fmt.Errorf("%w: end_time must be in the future", ErrInvalidInput)
		}
		for _, token := range []string{comp.StakeToken, comp.PayoutToken} {
			ok, err := o.custody.IsWhitelisted(ctx, token)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %q", ErrTokenNotWhitelisted, token)
			}
		}
		if err := o.tx.Create(comp).Error; err != nil {
			return fmt.Errorf("create competition: %w", err)
		}
		if err := o.pull(comp.PayoutToken, comp.Creator, comp.EscrowAccount(), comp.PrizePool); err != nil {
			return err
		}
		o.emit(events.NewEvent(events.CompetitionCreated, comp.ID, 0, comp.Creator, comp.PrizePool).
			With("mode", string(comp.Mode)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	comp.Phase = p.Scheduler.PhaseOf(comp, p.Scheduler.Now())
	log.Printf("✅ [PROTOCOL] competition %d created by %s (%s, pool %d)", comp.ID, comp.Creator, comp.Mode, comp.PrizePool)
	return comp, nil
}

type RegisterEntryInput struct {
	CompetitionID uint64 `json:"-"`
	EntryID       uint64 `json:"entry_id"`
	Owner         string `json:"-"`
	Title         string `json:"title"`
	Metadata      string `json:"metadata"`
	Content       []byte `json:"-"`
	ContentType   string `json:"-"`
	Sponsored     bool   `json:"sponsored"`
}

// RegisterEntry adds an entry while the competition is open. The entry fee is pulled from the
// owner unless the entry is sponsored.
func (p *CompetitionProtocol) RegisterEntry(ctx context.Context, in RegisterEntryInput) (*models.Entry, error) {
	contentURL, err := p.storeContent(ctx, in)
	if err != nil {
		return nil, err
	}
	var entry *models.Entry
	err = p.execute(ctx, "register_entry", func(o *op) error {
		comp, err := p.loadCompetition(o.tx, in.CompetitionID)
		if err != nil {
			return err
		}
		entry, err = p.registerEntry(o, comp, in, contentURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *CompetitionProtocol) storeContent(ctx context.Context, in RegisterEntryInput) (string, error) {
	if len(in.Content) == 0 {
		return "", nil
	}
	if p.Content == nil {
		return "", fmt.Errorf("%w: content uploads are not configured", ErrInvalidInput)
	}
	key := fmt.Sprintf("entries/%d/%s", in.CompetitionID, uuid.NewString())
	url, err := p.Content.Put(ctx, key, in.Content, in.ContentType)
	if err != nil {
		return "", fmt.Errorf("store entry content: %w", err)
	}
	return url, nil
}

func (p *CompetitionProtocol) registerEntry(o *op, comp *models.Competition, in RegisterEntryInput, contentURL string) (*models.Entry, error) {
	if in.Owner == "" {
		return nil, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	entry := &models.Entry{
		EntryID:    in.EntryID,
		Owner:      in.Owner,
		Title:      in.Title,
		Metadata:   in.Metadata,
		ContentURL: contentURL,
		Sponsored:  in.Sponsored,
	}
	if !in.Sponsored {
		entry.FeePaid = comp.EntryFee
	}

	created, err := p.Registry.Register(o.tx, comp, entry, o.now)
	if err != nil {
		return nil, err
	}
	if err := o.pull(comp.StakeToken, entry.Owner, comp.EscrowAccount(), entry.FeePaid); err != nil {
		return nil, err
	}
	o.emit(created)
	o.emit(events.NewEvent(events.EntryRegistered, comp.ID, entry.EntryID, entry.Owner, entry.FeePaid).
		With("sponsored", strconv.FormatBool(entry.Sponsored)))
	return entry, nil
}

type VoteInput struct {
	CompetitionID uint64 `json:"-"`
	EntryID       uint64 `json:"-"`
	Voter         string `json:"-"`
	Amount        uint64 `json:"amount"`
	Token         string `json:"token"`
}

// Vote stakes tokens on an entry. Repeated votes accumulate into one position.
func (p *CompetitionProtocol) Vote(ctx context.Context, in VoteInput) (*models.StakePosition, error) {
	return p.IncreaseStake(ctx, in)
}

func (p *CompetitionProtocol) IncreaseStake(ctx context.Context, in VoteInput) (*models.StakePosition, error) {
	var pos *models.StakePosition
	err := p.execute(ctx, "vote", func(o *op) error {
		comp, err := p.loadCompetition(o.tx, in.CompetitionID)
		if err != nil {
			return err
		}
		token := in.Token
		if token == "" {
			token = comp.StakeToken
		}
		pos, err = p.Ledger.Stake(o.tx, comp, in.EntryID, in.Voter, in.Amount, token, true, o.now)
		if err != nil {
			return err
		}
		if err := p.Registry.RecordStake(o.tx, comp.ID, in.EntryID, in.Amount); err != nil {
			return err
		}
		if err := o.pull(comp.StakeToken, in.Voter, comp.EscrowAccount(), in.Amount); err != nil {
			return err
		}
		o.emit(events.NewEvent(events.StakeRecorded, comp.ID, in.EntryID, in.Voter, in.Amount).
			With("source", "token"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

type RetractInput struct {
	CompetitionID uint64 `json:"-"`
	EntryID       uint64 `json:"-"`
	Voter         string `json:"-"`
	Amount        uint64 `json:"amount"`
	Comment       string `json:"comment"`
}

// RetractStakeWithComment returns part of a voter's escrowed stake before closure and records
// the voter's comment.
func (p *CompetitionProtocol) RetractStakeWithComment(ctx context.Context, in RetractInput) (*models.StakePosition, error) {
	var pos *models.StakePosition
	err := p.execute(ctx, "retract", func(o *op) error {
		comp, err := p.loadCompetition(o.tx, in.CompetitionID)
		if err != nil {
			return err
		}
		pos, err = p.Ledger.Retract(o.tx, comp, in.EntryID, in.Voter, in.Amount, o.now)
		if err != nil {
			return err
		}
		if err := p.Registry.ReleaseStake(o.tx, comp.ID, in.EntryID, in.Amount); err != nil {
			return err
		}
		if err := o.pay("retraction", comp.StakeToken, comp.EscrowAccount(), in.Voter, in.Amount); err != nil {
			return err
		}
		o.emit(events.NewEvent(events.StakeRetracted, comp.ID, in.EntryID, in.Voter, in.Amount))
		if in.Comment != "" {
			comment := models.StakeComment{
				ID:            uuid.NewString(),
				CompetitionID: comp.ID,
				EntryID:       in.EntryID,
				Voter:         in.Voter,
				Amount:        in.Amount,
				Body:          in.Comment,
			}
			if err := o.tx.Create(&comment).Error; err != nil {
				return fmt.Errorf("save comment: %w", err)
			}
			o.emit(events.NewEvent(events.CommentPosted, comp.ID, in.EntryID, in.Voter, in.Amount).
				With("comment", in.Comment))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// PositionKey names one entry of one competition in batch withdrawals.
type PositionKey struct {
	CompetitionID uint64 `json:"competition_id"`
	EntryID       uint64 `json:"entry_id"`
}

// WithdrawByVoter releases the voter's principal and reward once the competition is closed.
func (p *CompetitionProtocol) WithdrawByVoter(ctx context.Context, competitionID, entryID uint64, voter string) (*Payout, error) {
	payouts, err := p.BatchWithdrawByVoter(ctx, voter, []PositionKey{{CompetitionID: competitionID, EntryID: entryID}})
	if err != nil {
		return nil, err
	}
	return &payouts[0], nil
}

// BatchWithdrawByVoter settles several positions atomically; any failure aborts all of them.
func (p *CompetitionProtocol) BatchWithdrawByVoter(ctx context.Context, voter string, keys []PositionKey) ([]Payout, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no positions given", ErrInvalidInput)
	}
	payouts := make([]Payout, 0, len(keys))
	err := p.execute(ctx, "withdraw_voter", func(o *op) error {
		for _, key := range keys {
			comp, err := p.loadCompetition(o.tx, key.CompetitionID)
			if err != nil {
				return err
			}
			if !p.Scheduler.IsClosed(comp, o.now) {
				return ErrCompetitionOpen
			}
			snap, err := p.Registry.Snapshot(o.tx, comp)
			if err != nil {
				return err
			}
			payout, err := p.Ledger.WithdrawVoterShare(o.tx, comp, snap, key.EntryID, voter, o.now)
			if err != nil {
				return fmt.Errorf("competition %d entry %d: %w", key.CompetitionID, key.EntryID, err)
			}
			escrow := comp.EscrowAccount()
			if err := o.pay("principal", comp.StakeToken, escrow, voter, payout.Principal); err != nil {
				return err
			}
			if err := o.pay("reward", comp.PayoutToken, escrow, voter, payout.Reward); err != nil {
				return err
			}
			o.emit(events.NewEvent(events.VoterWithdrawal, comp.ID, key.EntryID, voter, payout.Reward).
				With("principal", strconv.FormatUint(payout.Principal, 10)))
			payouts = append(payouts, payout)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

type RoyaltyPayout struct {
	CompetitionID uint64 `json:"competition_id"`
	EntryID       uint64 `json:"entry_id"`
	Amount        uint64 `json:"amount"`
	Token         string `json:"token"`
}

// WithdrawByOwner releases the entry owner's royalty once the competition is closed.
func (p *CompetitionProtocol) WithdrawByOwner(ctx context.Context, competitionID, entryID uint64, owner string) (*RoyaltyPayout, error) {
	payouts, err := p.BatchWithdrawByOwner(ctx, owner, []PositionKey{{CompetitionID: competitionID, EntryID: entryID}})
	if err != nil {
		return nil, err
	}
	return &payouts[0], nil
}

// BatchWithdrawByOwner claims several royalties atomically.
func (p *CompetitionProtocol) BatchWithdrawByOwner(ctx context.Context, owner string, keys []PositionKey) ([]RoyaltyPayout, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no entries given", ErrInvalidInput)
	}
	payouts := make([]RoyaltyPayout, 0, len(keys))
	err := p.execute(ctx, "withdraw_owner", func(o *op) error {
		for _, key := range keys {
			comp, err := p.loadCompetition(o.tx, key.CompetitionID)
			if err != nil {
				return err
			}
			if !p.Scheduler.IsClosed(comp, o.now) {
				return ErrCompetitionOpen
			}
			entry, err := p.Registry.Get(o.tx, comp.ID, key.EntryID)
			if err != nil {
				return err
			}
			snap, err := p.Registry.Snapshot(o.tx, comp)
			if err != nil {
				return err
			}
			royalty, err := p.Ledger.WithdrawOwnerRoyalty(o.tx, comp, snap, entry, owner, o.now)
			if err != nil {
				return fmt.Errorf("competition %d entry %d: %w", key.CompetitionID, key.EntryID, err)
			}
			if err := o.pay("royalty", comp.PayoutToken, comp.EscrowAccount(), owner, royalty); err != nil {
				return err
			}
			o.emit(events.NewEvent(events.OwnerWithdrawal, comp.ID, key.EntryID, owner, royalty))
			payouts = append(payouts, RoyaltyPayout{
				CompetitionID: comp.ID,
				EntryID:       key.EntryID,
				Amount:        royalty,
				Token:         comp.PayoutToken,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// GetCompetition returns the competition with its phase computed at the current time.
func (p *CompetitionProtocol) GetCompetition(ctx context.Context, id uint64) (*models.Competition, error) {
	comp, err := p.loadCompetition(p.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	comp.Phase = p.Scheduler.PhaseOf(comp, p.Scheduler.Now())
	return comp, nil
}

// ListEntries returns entries in rank order.
func (p *CompetitionProtocol) ListEntries(ctx context.Context, competitionID uint64) ([]models.Entry, error) {
	if _, err := p.loadCompetition(p.DB.WithContext(ctx), competitionID); err != nil {
		return nil, err
	}
	return p.Registry.RankOf(p.DB.WithContext(ctx), competitionID)
}

func (p *CompetitionProtocol) GetPosition(ctx context.Context, competitionID, entryID uint64, voter string) (*models.StakePosition, error) {
	return p.Ledger.position(p.DB.WithContext(ctx), competitionID, entryID, voter)
}

// PreviewSettlement computes the split as it would be paid right now. Before closure the
// numbers can still move.
func (p *CompetitionProtocol) PreviewSettlement(ctx context.Context, competitionID uint64) (*Settlement, error) {
	db := p.DB.WithContext(ctx)
	comp, err := p.loadCompetition(db, competitionID)
	if err != nil {
		return nil, err
	}
	snap, err := p.Registry.Snapshot(db, comp)
	if err != nil {
		return nil, err
	}
	settlement := p.Ledger.Calculator.ComputeShares(snap)
	return &settlement, nil
}
