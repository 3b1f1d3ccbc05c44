package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"competition-protocol/config"
	"competition-protocol/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ApplySeed whitelists tokens, mints balances and creates communities from a deployment file.
// Communities that already exist are skipped together with their treasury mint; plain mints
// are applied every time.
func ApplySeed(ctx context.Context, custody *LedgerCustody, communities *CommunityService, seed *config.Seed, defaultRoyaltyBps uint32) error {
	for _, t := range seed.Tokens {
		if err := custody.SetWhitelisted(ctx, t.Symbol, t.Name, t.Whitelisted); err != nil {
			return fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		log.Printf("✅ [SEED] token %s whitelisted=%t", t.Symbol, t.Whitelisted)
	}

	for _, m := range seed.Mints {
		if err := custody.Mint(ctx, m.Token, m.Account, m.Amount); err != nil {
			return fmt.Errorf("mint %d %s to %s: %w", m.Amount, m.Token, m.Account, err)
		}
		log.Printf("✅ [SEED] minted %d %s to %s", m.Amount, m.Token, m.Account)
	}

	for _, a := range seed.Approvals {
		spender := a.Spender
		if spender == "" {
			spender = ProtocolAccount
		}
		if err := custody.Approve(ctx, a.Token, a.Owner, spender, a.Amount); err != nil {
			return fmt.Errorf("approve %s for %s: %w", a.Token, a.Owner, err)
		}
	}

	for _, sc := range seed.Communities {
		var existing models.Community
		err := custody.DB.WithContext(ctx).Where("slug = ?", slug.Make(sc.Name)).First(&existing).Error
		if err == nil {
			log.Printf("➡️ [SEED] community %s already exists, skipping", sc.Name)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("look up community %s: %w", sc.Name, err)
		}

		bps := defaultRoyaltyBps
		if sc.RoyaltyBps != nil {
			bps = *sc.RoyaltyBps
		}
		community, err := communities.CreateCommunity(ctx, CreateCommunityInput{
			Owner:         sc.Owner,
			Name:          sc.Name,
			Token:         sc.Token,
			RoundDuration: sc.RoundDuration,
			BuildFee:      sc.BuildFee,
			RoyaltyBps:    bps,
			RoundEmission: sc.RoundEmission,
		})
		if err != nil {
			return fmt.Errorf("community %s: %w", sc.Name, err)
		}
		if sc.Treasury > 0 {
			if err := custody.Mint(ctx, community.Token, community.TreasuryAccount(), sc.Treasury); err != nil {
				return fmt.Errorf("fund treasury of %s: %w", sc.Name, err)
			}
		}
		log.Printf("✅ [SEED] community %s seeded with treasury %d %s", community.Name, sc.Treasury, community.Token)
	}
	return nil
}
