package services

import (
	"errors"
	"fmt"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate adds a row lock where the dialect supports one.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// EntryRegistry owns the entries table and the royalty claim created with every entry.
type EntryRegistry struct{}

// Register inserts entry into comp. EntryID 0 takes the next free id.
func (r *EntryRegistry) Register(tx *gorm.DB, comp *models.Competition, entry *models.Entry, now time.Time) (events.Event, error) {
	if PhaseOf(comp, now) != models.PhaseOpen {
		return events.Event{}, ErrCompetitionClosed
	}

	if entry.EntryID == 0 {
		var maxID uint64
		if err := tx.Model(&models.Entry{}).
			Where("competition_id = ?", comp.ID).
			Select("COALESCE(MAX(entry_id), 0)").
			Scan(&maxID).Error; err != nil {
			return events.Event{}, fmt.Errorf("next entry id: %w", err)
		}
		entry.EntryID = maxID + 1
	} else {
		var count int64
		if err := tx.Model(&models.Entry{}).
			Where("competition_id = ? AND entry_id = ?", comp.ID, entry.EntryID).
			Count(&count).Error; err != nil {
			return events.Event{}, fmt.Errorf("check entry: %w", err)
		}
		if count > 0 {
			return events.Event{}, ErrDuplicateEntry
		}
	}

	entry.CompetitionID = comp.ID
	entry.TotalStakeReceived = 0
	entry.RegisteredAt = now
	if entry.Slug == "" && entry.Title != "" {
		entry.Slug = slug.Make(entry.Title)
	}
	if err := tx.Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return events.Event{}, ErrDuplicateEntry
		}
		return events.Event{}, fmt.Errorf("create entry: %w", err)
	}

	claim := models.RoyaltyClaim{
		CompetitionID: comp.ID,
		EntryID:       entry.EntryID,
		Owner:         entry.Owner,
	}
	if err := tx.Create(&claim).Error; err != nil {
		return events.Event{}, fmt.Errorf("create royalty claim: %w", err)
	}

	return events.NewEvent(events.EntryCreated, comp.ID, entry.EntryID, entry.Owner, 0), nil
}

func (r *EntryRegistry) Get(tx *gorm.DB, competitionID, entryID uint64) (*models.Entry, error) {
	var entry models.Entry
	err := tx.Where("competition_id = ? AND entry_id = ?", competitionID, entryID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownEntry
	}
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	return &entry, nil
}

// RecordStake adds amount to the entry's running total.
func (r *EntryRegistry) RecordStake(tx *gorm.DB, competitionID, entryID, amount uint64) error {
	res := tx.Model(&models.Entry{}).
		Where("competition_id = ? AND entry_id = ?", competitionID, entryID).
		UpdateColumn("total_stake_received", gorm.Expr("total_stake_received + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("record stake: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownEntry
	}
	return nil
}

// ReleaseStake undoes RecordStake for a retraction. It never drops below zero.
func (r *EntryRegistry) ReleaseStake(tx *gorm.DB, competitionID, entryID, amount uint64) error {
	res := tx.Model(&models.Entry{}).
		Where("competition_id = ? AND entry_id = ? AND total_stake_received >= ?", competitionID, entryID, amount).
		UpdateColumn("total_stake_received", gorm.Expr("total_stake_received - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("release stake: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownEntry
	}
	return nil
}

// RankOf orders entries by stake received, highest first, ties by lower entry id. Entry.Rank is
// 1-based for display; EntryShare.Rank in a settlement is the zero-based tier index.
func (r *EntryRegistry) RankOf(tx *gorm.DB, competitionID uint64) ([]models.Entry, error) {
	var entries []models.Entry
	if err := tx.Where("competition_id = ?", competitionID).
		Order("total_stake_received DESC").
		Order("entry_id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("rank entries: %w", err)
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Snapshot collects what the settlement calculator needs for comp.
func (r *EntryRegistry) Snapshot(tx *gorm.DB, comp *models.Competition) (Snapshot, error) {
	ranked, err := r.RankOf(tx, comp.ID)
	if err != nil {
		return Snapshot{}, err
	}
	var fees uint64
	totals := make([]EntryTotal, 0, len(ranked))
	for _, e := range ranked {
		fees += e.FeePaid
		totals = append(totals, EntryTotal{EntryID: e.EntryID, Owner: e.Owner, Total: e.TotalStakeReceived})
	}
	return Snapshot{Policy: PolicyFor(comp, fees), Entries: totals}, nil
}
