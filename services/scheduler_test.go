package services

import (
	"testing"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseOfBoundary(t *testing.T) {
	end := testGenesis.Add(time.Hour)
	comp := &models.Competition{EndTime: end}
	assert.Equal(t, models.PhaseOpen, PhaseOf(comp, end.Add(-time.Nanosecond)))
	assert.Equal(t, models.PhaseClosed, PhaseOf(comp, end))
	assert.Equal(t, models.PhaseClosed, PhaseOf(comp, end.Add(time.Second)))
}

func TestTickAnnouncesClosureOnce(t *testing.T) {
	h := newHarness(t)
	_, ch := h.bus.Subscribe(events.CompetitionClosed)
	comp := h.rankedCompetition([]uint64{100}, 0)

	require.NoError(t, h.scheduler.Tick(h.ctx))
	assert.Zero(t, h.countEvents(events.CompetitionClosed))

	h.clock.Advance(time.Hour)
	require.NoError(t, h.scheduler.Tick(h.ctx))
	require.NoError(t, h.scheduler.Tick(h.ctx))
	assert.Equal(t, int64(1), h.countEvents(events.CompetitionClosed))

	select {
	case evt := <-ch:
		assert.Equal(t, comp.ID, evt.CompetitionID)
	case <-time.After(time.Second):
		t.Fatal("no CompetitionClosed event")
	}
	select {
	case evt := <-ch:
		t.Fatalf("closure announced twice: %v", evt)
	default:
	}
}

func TestTickOpensCommunityRounds(t *testing.T) {
	h := newHarness(t)
	c := h.community(0, 0, 10, 100)

	require.NoError(t, h.scheduler.Tick(h.ctx))
	var rounds []models.Competition
	require.NoError(t, h.db.Where("community_id = ?", c.ID).Find(&rounds).Error)
	require.Len(t, rounds, 1)
	assert.Equal(t, uint64(1), rounds[0].Round)

	h.clock.Advance(24 * time.Hour)
	require.NoError(t, h.scheduler.Tick(h.ctx))
	require.NoError(t, h.db.Where("community_id = ?", c.ID).Order("round").Find(&rounds).Error)
	require.Len(t, rounds, 2)
	assert.Equal(t, uint64(2), rounds[1].Round)
	// round 1 ended as round 2 opened
	assert.Equal(t, int64(1), h.countEvents(events.CompetitionClosed))
	assert.Equal(t, uint64(80), h.balance("BUILD", c.TreasuryAccount()))
}

func TestSchedulerStartAndShutdown(t *testing.T) {
	h := newHarness(t)
	h.scheduler.Interval = time.Minute
	require.NoError(t, h.scheduler.Start(h.ctx))
	require.NoError(t, h.scheduler.Shutdown())

	idle := NewRoundScheduler(h.db, nil, nil)
	assert.NoError(t, idle.Shutdown())
	assert.False(t, idle.Now().IsZero())
}
