// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// PhaseOf is the only place phase is decided. now == EndTime is already Closed.
func PhaseOf(comp *models.Competition, now time.Time) models.Phase {
	if now.Before(comp.EndTime) {
		return models.PhaseOpen
	}
	return models.PhaseClosed
}

// RoundAt returns the 1-based round of a community at now. Before genesis it is round 1.
func RoundAt(c *models.Community, now time.Time) uint64 {
	if c.RoundDuration <= 0 || !now.After(c.GenesisAt) {
		return 1
	}
	return uint64(now.Sub(c.GenesisAt)/c.RoundDuration) + 1
}

// RoundEnd is the end time of round r.
func RoundEnd(c *models.Community, round uint64) time.Time {
	return c.GenesisAt.Add(time.Duration(round) * c.RoundDuration)
}

// RoundOpener materializes the current round of every community.
type RoundOpener interface {
	EnsureCurrentRounds(ctx context.Context) error
}

type RoundScheduler struct {
	DB       *gorm.DB
	Clock    clockwork.Clock
	Bus      *events.EventBus
	Rounds   RoundOpener
	Interval time.Duration

	sched gocron.Scheduler
}

func NewRoundScheduler(db *gorm.DB, clock clockwork.Clock, bus *events.EventBus) *RoundScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoundScheduler{
		DB:       db,
		Clock:    clock,
		Bus:      bus,
		Interval: 1 * time.Minute,
	}
}

func (s *RoundScheduler) Now() time.Time {
	return s.Clock.Now().UTC()
}

func (s *RoundScheduler) PhaseOf(comp *models.Competition, now time.Time) models.Phase {
	return PhaseOf(comp, now)
}

func (s *RoundScheduler) IsOpen(comp *models.Competition, now time.Time) bool {
	return PhaseOf(comp, now) == models.PhaseOpen
}

func (s *RoundScheduler) IsClosed(comp *models.Competition, now time.Time) bool {
	return PhaseOf(comp, now) == models.PhaseClosed
}

// Start runs Tick every Interval until Shutdown.
func (s *RoundScheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.Clock))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(func() {
			if err := s.Tick(ctx); err != nil {
				log.Printf("[Scheduler] tick failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule round job: %w", err)
	}
	s.sched = sched
	sched.Start()
	log.Printf("[Scheduler] round scheduler running every %s", s.Interval)
	return nil
}

func (s *RoundScheduler) Shutdown() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// Tick opens the current community rounds and announces competitions that closed since the last
// announcement. Announcing is idempotent: a competition with a CompetitionClosed record is skipped.
func (s *RoundScheduler) Tick(ctx context.Context) error {
	if s.Rounds != nil {
		if err := s.Rounds.EnsureCurrentRounds(ctx); err != nil {
			log.Printf("[Scheduler] failed to open community rounds: %v", err)
		}
	}

	now := s.Now()
	announced := s.DB.Model(&models.EventRecord{}).
		Select("competition_id").
		Where("type = ?", string(events.CompetitionClosed))

	var closed []models.Competition
	if err := s.DB.WithContext(ctx).
		Where("end_time <= ?", now).
		Where("id NOT IN (?)", announced).
		Order("end_time ASC").
		Find(&closed).Error; err != nil {
		return fmt.Errorf("query closed competitions: %w", err)
	}

	for _, comp := range closed {
		evt := events.NewEvent(events.CompetitionClosed, comp.ID, 0, comp.Creator, 0).
			With("end_time", comp.EndTime.UTC().Format(time.RFC3339))
		rec := evt.Record()
		if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
			log.Printf("[Scheduler] failed to record closure of competition %d: %v", comp.ID, err)
			continue
		}
		if s.Bus != nil {
			s.Bus.Publish(evt)
		}
		log.Printf("✅ [Scheduler] competition %d closed at %s", comp.ID, comp.EndTime.Format(time.RFC3339))
	}
	return nil
}
