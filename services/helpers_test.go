package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"
	"competition-protocol/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testGenesis = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := utils.OpenDatabase(utils.DatabaseOptions{Driver: "sqlite", DSN: dsn, Quiet: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

type harness struct {
	t           *testing.T
	ctx         context.Context
	db          *gorm.DB
	clock       *clockwork.FakeClock
	custody     *LedgerCustody
	bus         *events.EventBus
	registry    *prometheus.Registry
	scheduler   *RoundScheduler
	protocol    *CompetitionProtocol
	communities *CommunityService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testGenesis)
	reg := prometheus.NewRegistry()
	bus := events.NewEventBus(reg)
	t.Cleanup(bus.Stop)

	custody := NewLedgerCustody(db)
	scheduler := NewRoundScheduler(db, clock, bus)
	protocol := NewCompetitionProtocol(db, scheduler, custody, bus)
	protocol.Metrics = NewProtocolMetrics(reg)
	communities := NewCommunityService(protocol)
	scheduler.Rounds = communities

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		db:          db,
		clock:       clock,
		custody:     custody,
		bus:         bus,
		registry:    reg,
		scheduler:   scheduler,
		protocol:    protocol,
		communities: communities,
	}
	h.whitelist("VOTE", "PRIZE", "BUILD")
	return h
}

func (h *harness) whitelist(tokens ...string) {
	for _, token := range tokens {
		require.NoError(h.t, h.custody.SetWhitelisted(h.ctx, token, token, true))
	}
}

// fund mints amount to account and lets the protocol pull all of it.
func (h *harness) fund(token, account string, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.custody.Mint(h.ctx, token, account, amount))
	require.NoError(h.t, h.custody.Approve(h.ctx, token, account, ProtocolAccount, math.MaxInt64))
}

func (h *harness) balance(token, account string) uint64 {
	h.t.Helper()
	b, err := h.custody.BalanceOf(h.ctx, token, account)
	require.NoError(h.t, err)
	return b
}

func (h *harness) rankedCompetition(tiers []uint64, royaltyBps uint32) *models.Competition {
	h.t.Helper()
	var pool uint64
	for _, tier := range tiers {
		pool += tier
	}
	h.fund("PRIZE", "creator", pool)
	comp, err := h.protocol.Create(h.ctx, CreateCompetitionInput{
		Creator:     "creator",
		Title:       "Best Pixel Art",
		StakeToken:  "VOTE",
		PayoutToken: "PRIZE",
		TierShares:  tiers,
		Mode:        models.PayoutModeRanked,
		RoyaltyBps:  royaltyBps,
		EndTime:     h.clock.Now().Add(time.Hour),
	})
	require.NoError(h.t, err)
	return comp
}

func (h *harness) register(comp *models.Competition, owner string) *models.Entry {
	h.t.Helper()
	entry, err := h.protocol.RegisterEntry(h.ctx, RegisterEntryInput{
		CompetitionID: comp.ID,
		Owner:         owner,
		Title:         owner + " entry",
	})
	require.NoError(h.t, err)
	return entry
}

func (h *harness) vote(comp *models.Competition, entryID uint64, voter string, amount uint64) {
	h.t.Helper()
	_, err := h.protocol.Vote(h.ctx, VoteInput{
		CompetitionID: comp.ID,
		EntryID:       entryID,
		Voter:         voter,
		Amount:        amount,
		Token:         comp.StakeToken,
	})
	require.NoError(h.t, err)
}

func (h *harness) entryTotal(compID, entryID uint64) uint64 {
	h.t.Helper()
	entry, err := h.protocol.Registry.Get(h.db, compID, entryID)
	require.NoError(h.t, err)
	return entry.TotalStakeReceived
}

func (h *harness) countEvents(typ events.EventType) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.EventRecord{}).Where("type = ?", string(typ)).Count(&n).Error)
	return n
}

// failingCustody refuses Transfer while fail is set.
type failingCustody struct {
	TokenCustody
	fail *bool
}

func (f failingCustody) WithTx(tx *gorm.DB) TokenCustody {
	return failingCustody{TokenCustody: f.TokenCustody.WithTx(tx), fail: f.fail}
}

func (f failingCustody) Transfer(ctx context.Context, token, from, to string, amount uint64) error {
	if *f.fail {
		return errors.New("custody offline")
	}
	return f.TokenCustody.Transfer(ctx, token, from, to, amount)
}

type fakeVerifier struct {
	ballots map[string]*VerifiedBallot
}

func (v *fakeVerifier) Verify(ctx context.Context, ballot BallotProof) (*VerifiedBallot, error) {
	vb, ok := v.ballots[string(ballot.Proof)]
	if !ok {
		return nil, ErrInvalidProof
	}
	return vb, nil
}
