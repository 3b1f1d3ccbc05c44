package services

import (
	"math"
	"testing"

	"competition-protocol/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDivFloors(t *testing.T) {
	assert.Equal(t, uint64(3), mulDiv(10, 1, 3))
	assert.Equal(t, uint64(0), mulDiv(10, 1, 0))
	// product exceeds 64 bits
	assert.Equal(t, uint64(math.MaxUint64/2), mulDiv(math.MaxUint64, math.MaxUint64/2, math.MaxUint64))
}

func TestRankedPayoutSoleVoterTakesTier(t *testing.T) {
	calc := SettlementCalculator{}
	s := calc.ComputeShares(Snapshot{
		Policy: PayoutPolicy{Mode: models.PayoutModeRanked, Ranked: RankedParams{
			TierShares: []uint64{1_000_000, 500_000, 100_000},
		}},
		Entries: []EntryTotal{{EntryID: 1, Total: 10}},
	})
	assert.Equal(t, uint64(1_600_000), s.Pool)
	assert.Equal(t, uint64(1_000_000), s.VoterReward(1, 10))
	assert.Zero(t, s.OwnerRoyalty(1))
}

func TestRankedPayoutTiersByRank(t *testing.T) {
	calc := SettlementCalculator{}
	s := calc.ComputeShares(Snapshot{
		Policy: PayoutPolicy{Mode: models.PayoutModeRanked, Ranked: RankedParams{
			TierShares: []uint64{900, 90},
			RoyaltyBps: 1_000,
		}},
		Entries: []EntryTotal{
			{EntryID: 2, Total: 50},
			{EntryID: 1, Total: 20},
			{EntryID: 3, Total: 5},
			{EntryID: 4, Total: 0},
		},
	})
	require.Len(t, s.Entries, 4)
	assert.Equal(t, EntryShare{EntryID: 2, Rank: 0, Total: 50, Pool: 900, Royalty: 90, VoterPool: 810}, s.Entries[2])
	assert.Equal(t, EntryShare{EntryID: 1, Rank: 1, Total: 20, Pool: 90, Royalty: 9, VoterPool: 81}, s.Entries[1])
	// beyond the last tier
	assert.Zero(t, s.Entries[3].Pool)
	assert.Zero(t, s.VoterReward(3, 5))
	assert.Zero(t, s.VoterReward(99, 5))
}

func TestRankedPayoutZeroStakeLeavesPoolUndistributed(t *testing.T) {
	calc := SettlementCalculator{}
	s := calc.ComputeShares(Snapshot{
		Policy: PayoutPolicy{Mode: models.PayoutModeRanked, Ranked: RankedParams{
			TierShares: []uint64{1_000},
			RoyaltyBps: 5_000,
		}},
		Entries: []EntryTotal{{EntryID: 1, Total: 0}},
	})
	assert.Equal(t, uint64(1_000), s.Entries[1].Pool)
	assert.Zero(t, s.Entries[1].Royalty)
	assert.Zero(t, s.Entries[1].VoterPool)
	assert.Zero(t, s.VoterReward(1, 0))
}

func TestThresholdPayoutSplitsByVotes(t *testing.T) {
	calc := SettlementCalculator{}
	s := calc.ComputeShares(Snapshot{
		Policy: PayoutPolicy{Mode: models.PayoutModeThreshold, Threshold: ThresholdParams{
			PrizePool:     1_000,
			FeesCollected: 1_000,
			RoyaltyBps:    1_000,
		}},
		Entries: []EntryTotal{{EntryID: 1, Total: 30}, {EntryID: 2, Total: 10}},
	})
	assert.Equal(t, uint64(2_000), s.Pool)
	// royalty pool 200, reward pool 1800
	assert.Equal(t, uint64(150), s.Entries[1].Royalty)
	assert.Equal(t, uint64(50), s.Entries[2].Royalty)
	assert.Equal(t, uint64(1_350), s.Entries[1].VoterPool)
	assert.Equal(t, uint64(450), s.Entries[2].VoterPool)
	assert.Equal(t, uint64(450), s.VoterReward(1, 10))
}

func TestThresholdPayoutNoVotes(t *testing.T) {
	calc := SettlementCalculator{}
	s := calc.ComputeShares(Snapshot{
		Policy:  PayoutPolicy{Mode: models.PayoutModeThreshold, Threshold: ThresholdParams{PrizePool: 500}},
		Entries: []EntryTotal{{EntryID: 1}},
	})
	assert.Zero(t, s.Entries[1].Royalty)
	assert.Zero(t, s.Entries[1].VoterPool)
}

func TestProportionalityWithinOneUnit(t *testing.T) {
	calc := SettlementCalculator{}
	cases := []struct{ a, b, pool uint64 }{
		{1, 2, 1_000_001},
		{7, 13, 999_983},
		{5, 5, 101},
		{1, 1_000_000, 3},
	}
	for _, tc := range cases {
		s := calc.ComputeShares(Snapshot{
			Policy:  PayoutPolicy{Mode: models.PayoutModeRanked, Ranked: RankedParams{TierShares: []uint64{tc.pool}}},
			Entries: []EntryTotal{{EntryID: 1, Total: tc.a + tc.b}},
		})
		shareA := s.VoterReward(1, tc.a)
		shareB := s.VoterReward(1, tc.b)
		// shareA*b and shareB*a may differ only by floor rounding of each share
		lhs := float64(shareA) * float64(tc.b)
		rhs := float64(shareB) * float64(tc.a)
		assert.InDelta(t, lhs, rhs, float64(tc.a+tc.b), "a=%d b=%d", tc.a, tc.b)
		assert.LessOrEqual(t, shareA+shareB, tc.pool)
		assert.GreaterOrEqual(t, shareA+shareB+1, tc.pool)
	}
}

func TestPolicyFor(t *testing.T) {
	ranked := &models.Competition{Mode: models.PayoutModeRanked, TierShares: []uint64{1, 2}, RoyaltyBps: 3}
	p := PolicyFor(ranked, 99)
	assert.Equal(t, models.PayoutModeRanked, p.Mode)
	assert.Equal(t, []uint64{1, 2}, p.Ranked.TierShares)

	threshold := &models.Competition{Mode: models.PayoutModeThreshold, PrizePool: 10, RoyaltyBps: 500}
	p = PolicyFor(threshold, 7)
	assert.Equal(t, ThresholdParams{PrizePool: 10, FeesCollected: 7, RoyaltyBps: 500}, p.Threshold)
}
