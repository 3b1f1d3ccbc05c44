package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// CommunityService runs the round-based variant: every round of a community is a threshold-payout
// competition that is opened on first use, funded from the community treasury.
type CommunityService struct {
	Protocol *CompetitionProtocol
}

func NewCommunityService(protocol *CompetitionProtocol) *CommunityService {
	return &CommunityService{Protocol: protocol}
}

type CreateCommunityInput struct {
	Owner         string        `json:"-"`
	Name          string        `json:"name"`
	Token         string        `json:"token"`
	RoundDuration time.Duration `json:"round_duration"`
	BuildFee      uint64        `json:"build_fee"`
	RoyaltyBps    uint32        `json:"royalty_bps"`
	RoundEmission uint64        `json:"round_emission"`
	GenesisAt     time.Time     `json:"genesis_at"`
}

func (s *CommunityService) CreateCommunity(ctx context.Context, in CreateCommunityInput) (*models.Community, error) {
	if in.Owner == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: owner and name are required", ErrInvalidInput)
	}
	if in.RoundDuration <= 0 {
		return nil, fmt.Errorf("%w: round_duration must be positive", ErrInvalidInput)
	}
	if in.RoyaltyBps > BasisPoints {
		return nil, fmt.Errorf("%w: royalty_bps above %d", ErrInvalidInput, BasisPoints)
	}

	community := &models.Community{
		Name:          in.Name,
		Slug:          slug.Make(in.Name),
		Owner:         in.Owner,
		Token:         in.Token,
		RoundDuration: in.RoundDuration,
		BuildFee:      in.BuildFee,
		RoyaltyBps:    in.RoyaltyBps,
		RoundEmission: in.RoundEmission,
		GenesisAt:     in.GenesisAt.UTC(),
	}
	err := s.Protocol.execute(ctx, "create_community", func(o *op) error {
		ok, err := o.custody.IsWhitelisted(ctx, in.Token)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrTokenNotWhitelisted, in.Token)
		}
		if community.GenesisAt.IsZero() {
			community.GenesisAt = o.now
		}
		var taken int64
		if err := o.tx.Model(&models.Community{}).Where("slug = ?", community.Slug).Count(&taken).Error; err != nil {
			return fmt.Errorf("check community slug: %w", err)
		}
		if taken > 0 {
			return fmt.Errorf("%w: community %q already exists", ErrInvalidInput, community.Slug)
		}
		if err := o.tx.Create(community).Error; err != nil {
			return fmt.Errorf("create community: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	community.CurrentRound = RoundAt(community, s.Protocol.Scheduler.Now())
	log.Printf("✅ [COMMUNITY] %s created (round length %s, build fee %d)", community.Name, community.RoundDuration, community.BuildFee)
	return community, nil
}

func (s *CommunityService) GetCommunity(ctx context.Context, id uint64) (*models.Community, error) {
	community, err := loadCommunity(s.Protocol.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	community.CurrentRound = RoundAt(community, s.Protocol.Scheduler.Now())
	return community, nil
}

// CurrentRound returns the competition of the community's current round, opening it if needed.
func (s *CommunityService) CurrentRound(ctx context.Context, id uint64) (*models.Competition, error) {
	var comp *models.Competition
	err := s.Protocol.execute(ctx, "open_round", func(o *op) error {
		community, err := loadCommunity(o.tx, id)
		if err != nil {
			return err
		}
		comp, err = s.ensureRound(o, community)
		return err
	})
	if err != nil {
		return nil, err
	}
	comp.Phase = PhaseOf(comp, s.Protocol.Scheduler.Now())
	return comp, nil
}

// EnsureCurrentRounds opens the current round of every community.
func (s *CommunityService) EnsureCurrentRounds(ctx context.Context) error {
	var ids []uint64
	if err := s.Protocol.DB.WithContext(ctx).Model(&models.Community{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("list communities: %w", err)
	}
	for _, id := range ids {
		if _, err := s.CurrentRound(ctx, id); err != nil {
			return fmt.Errorf("community %d: %w", id, err)
		}
	}
	return nil
}

type BuildInput struct {
	CommunityID uint64 `json:"-"`
	Owner       string `json:"-"`
	Title       string `json:"title"`
	Metadata    string `json:"metadata"`
	Content     []byte `json:"-"`
	ContentType string `json:"-"`
	Sponsored   bool   `json:"sponsored"`
}

// Build registers a submission in the community's current round. The build fee goes into the
// round's pool unless the submission is sponsored.
func (s *CommunityService) Build(ctx context.Context, in BuildInput) (*models.Entry, error) {
	reg := RegisterEntryInput{
		Owner:       in.Owner,
		Title:       in.Title,
		Metadata:    in.Metadata,
		Content:     in.Content,
		ContentType: in.ContentType,
		Sponsored:   in.Sponsored,
	}
	contentURL, err := s.Protocol.storeContent(ctx, reg)
	if err != nil {
		return nil, err
	}

	var entry *models.Entry
	err = s.Protocol.execute(ctx, "build", func(o *op) error {
		community, err := loadCommunity(o.tx, in.CommunityID)
		if err != nil {
			return err
		}
		comp, err := s.ensureRound(o, community)
		if err != nil {
			return err
		}
		reg.CompetitionID = comp.ID
		entry, err = s.Protocol.registerEntry(o, comp, reg, contentURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ensureRound returns the competition for the round running at o.now, creating and funding it
// on first use. The emission is capped by what the treasury still holds.
func (s *CommunityService) ensureRound(o *op, community *models.Community) (*models.Competition, error) {
	round := RoundAt(community, o.now)
	var comp models.Competition
	err := o.tx.Where("community_id = ? AND round = ?", community.ID, round).First(&comp).Error
	if err == nil {
		return &comp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load round: %w", err)
	}

	communityID := community.ID
	comp = models.Competition{
		Title:       fmt.Sprintf("%s round %d", community.Name, round),
		Slug:        fmt.Sprintf("%s-round-%d", community.Slug, round),
		Creator:     community.Owner,
		StakeToken:  community.Token,
		PayoutToken: community.Token,
		Mode:        models.PayoutModeThreshold,
		RoyaltyBps:  community.RoyaltyBps,
		EntryFee:    community.BuildFee,
		CommunityID: &communityID,
		Round:       round,
		EndTime:     RoundEnd(community, round),
	}

	treasury, err := o.custody.BalanceOf(o.ctx, community.Token, community.TreasuryAccount())
	if err != nil {
		return nil, err
	}
	comp.PrizePool = min(community.RoundEmission, treasury)

	if err := o.tx.Create(&comp).Error; err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}
	if comp.PrizePool > 0 {
		if err := o.custody.Transfer(o.ctx, community.Token, community.TreasuryAccount(), comp.EscrowAccount(), comp.PrizePool); err != nil {
			return nil, transferFailed(err)
		}
	}
	o.emit(events.NewEvent(events.CompetitionCreated, comp.ID, 0, community.Owner, comp.PrizePool).
		With("mode", string(comp.Mode)).
		With("community", community.Slug))
	log.Printf("✅ [COMMUNITY] %s opened round %d (competition %d, pool %d)", community.Name, round, comp.ID, comp.PrizePool)
	return &comp, nil
}

func loadCommunity(db *gorm.DB, id uint64) (*models.Community, error) {
	var community models.Community
	err := db.First(&community, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommunityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load community: %w", err)
	}
	return &community, nil
}
