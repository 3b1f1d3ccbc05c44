package services

import (
	"competition-protocol/models"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for royalty splits.
const BasisPoints = 10_000

// mulDiv returns floor(a*b/d) computed on 256 bits. A zero divisor yields zero.
func mulDiv(a, b, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(x, uint256.NewInt(d))
	return x.Uint64()
}

type RankedParams struct {
	TierShares []uint64
	RoyaltyBps uint32
}

type ThresholdParams struct {
	PrizePool     uint64
	FeesCollected uint64
	RoyaltyBps    uint32
}

// PayoutPolicy is a tagged variant: Mode selects which parameter set applies.
type PayoutPolicy struct {
	Mode      models.PayoutMode
	Ranked    RankedParams
	Threshold ThresholdParams
}

// PolicyFor builds the payout policy of a competition given the entry fees it collected.
func PolicyFor(comp *models.Competition, feesCollected uint64) PayoutPolicy {
	switch comp.Mode {
	case models.PayoutModeThreshold:
		return PayoutPolicy{Mode: comp.Mode, Threshold: ThresholdParams{
			PrizePool:     comp.PrizePool,
			FeesCollected: feesCollected,
			RoyaltyBps:    comp.RoyaltyBps,
		}}
	default:
		return PayoutPolicy{Mode: models.PayoutModeRanked, Ranked: RankedParams{
			TierShares: comp.TierShares,
			RoyaltyBps: comp.RoyaltyBps,
		}}
	}
}

type EntryTotal struct {
	EntryID uint64
	Owner   string
	Total   uint64
}

// Snapshot is the ledger state the calculator needs. Entries must be in rank order.
type Snapshot struct {
	Policy  PayoutPolicy
	Entries []EntryTotal
}

// EntryShare is the settled split of one entry. Rank is the zero-based tier index, one less
// than the 1-based Entry.Rank returned by RankOf.
type EntryShare struct {
	EntryID   uint64 `json:"entry_id"`
	Rank      int    `json:"rank"`
	Total     uint64 `json:"total_stake"`
	Pool      uint64 `json:"pool"`
	Royalty   uint64 `json:"royalty"`
	VoterPool uint64 `json:"voter_pool"`
}

type Settlement struct {
	Mode    models.PayoutMode     `json:"mode"`
	Pool    uint64                `json:"pool"`
	Entries map[uint64]EntryShare `json:"entries"`
}

// VoterReward is a voter's floor share of the entry's voter pool.
func (s Settlement) VoterReward(entryID, amount uint64) uint64 {
	share, ok := s.Entries[entryID]
	if !ok {
		return 0
	}
	return mulDiv(amount, share.VoterPool, share.Total)
}

func (s Settlement) OwnerRoyalty(entryID uint64) uint64 {
	return s.Entries[entryID].Royalty
}

// SettlementCalculator is stateless; its output depends only on the snapshot.
type SettlementCalculator struct{}

func (SettlementCalculator) ComputeShares(snap Snapshot) Settlement {
	out := Settlement{
		Mode:    snap.Policy.Mode,
		Entries: make(map[uint64]EntryShare, len(snap.Entries)),
	}

	switch snap.Policy.Mode {
	case models.PayoutModeThreshold:
		p := snap.Policy.Threshold
		out.Pool = p.PrizePool + p.FeesCollected
		royaltyPool := mulDiv(out.Pool, uint64(p.RoyaltyBps), BasisPoints)
		rewardPool := out.Pool - royaltyPool
		var roundVotes uint64
		for _, e := range snap.Entries {
			roundVotes += e.Total
		}
		for rank, e := range snap.Entries {
			out.Entries[e.EntryID] = EntryShare{
				EntryID:   e.EntryID,
				Rank:      rank,
				Total:     e.Total,
				Pool:      mulDiv(out.Pool, e.Total, roundVotes),
				Royalty:   mulDiv(royaltyPool, e.Total, roundVotes),
				VoterPool: mulDiv(rewardPool, e.Total, roundVotes),
			}
		}

	case models.PayoutModeRanked:
		p := snap.Policy.Ranked
		for _, tier := range p.TierShares {
			out.Pool += tier
		}
		for rank, e := range snap.Entries {
			share := EntryShare{EntryID: e.EntryID, Rank: rank, Total: e.Total}
			if rank < len(p.TierShares) {
				share.Pool = p.TierShares[rank]
			}
			// an entry nobody staked on leaves its tier undistributed
			if e.Total > 0 {
				share.Royalty = mulDiv(share.Pool, uint64(p.RoyaltyBps), BasisPoints)
				share.VoterPool = share.Pool - share.Royalty
			}
			out.Entries[e.EntryID] = share
		}
	}

	return out
}
