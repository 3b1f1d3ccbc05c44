package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"competition-protocol/events"
	"competition-protocol/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const eventPageSize = 200

// EventStreamService replays persisted events to indexers over SSE. The SSE id of every message
// is the record's sequence number, so a client resumes with Last-Event-ID or ?since=.
type EventStreamService struct {
	DB       *gorm.DB
	Interval time.Duration
}

func NewEventStreamService(db *gorm.DB) *EventStreamService {
	return &EventStreamService{DB: db, Interval: 2 * time.Second}
}

// Since returns up to limit records after seq, optionally restricted to one competition.
func (s *EventStreamService) Since(ctx context.Context, seq, competitionID uint64, limit int) ([]models.EventRecord, error) {
	q := s.DB.WithContext(ctx).Where("seq > ?", seq)
	if competitionID != 0 {
		q = q.Where("competition_id = ?", competitionID)
	}
	var recs []models.EventRecord
	if err := q.Order("seq ASC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return recs, nil
}

// writeEvents writes recs as SSE messages and returns the last sequence consumed.
func writeEvents(w io.Writer, recs []models.EventRecord, cursor uint64) (uint64, error) {
	for _, r := range recs {
		evt, err := events.FromRecord(r)
		if err != nil {
			// a corrupt row must not stall every reader at this cursor
			log.Printf("⚠️ [SSE] skipping event seq %d: %v", r.Seq, err)
			cursor = r.Seq
			continue
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			return cursor, err
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", r.Seq, r.Type, payload); err != nil {
			return cursor, err
		}
		cursor = r.Seq
	}
	return cursor, nil
}

// StreamEvents streams events after ?since= (or Last-Event-ID), filtered by ?competition=.
func (s *EventStreamService) StreamEvents(c *fiber.Ctx) error {
	cursorRaw := c.Query("since")
	if cursorRaw == "" {
		cursorRaw = c.Get("Last-Event-ID")
	}
	var cursor uint64
	if cursorRaw != "" {
		v, err := strconv.ParseUint(cursorRaw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid since", "code": CodeInvalidArgument})
		}
		cursor = v
	}
	competitionID, err := strconv.ParseUint(c.Query("competition", "0"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid competition", "code": CodeInvalidArgument})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx := c.UserContext()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			recs, err := s.Since(ctx, cursor, competitionID, eventPageSize)
			if err != nil {
				log.Printf("[SSE] query error after seq %d: %v", cursor, err)
			} else if len(recs) > 0 {
				cursor, err = writeEvents(w, recs, cursor)
				if err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					// client went away
					return
				}
				if len(recs) == eventPageSize {
					continue
				}
			}

			select {
			case <-ticker.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-c.Context().Done():
				return
			}
		}
	})
	return nil
}
