package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"competition-protocol/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize = 64
)

type EventType string

const (
	CompetitionCreated EventType = "CompetitionCreated"
	CompetitionClosed  EventType = "CompetitionClosed"
	EntryCreated       EventType = "EntryCreated"
	EntryRegistered    EventType = "EntryRegistered"
	StakeRecorded      EventType = "StakeRecorded"
	StakeRetracted     EventType = "StakeRetracted"
	CommentPosted      EventType = "CommentPosted"
	BallotAccepted     EventType = "BallotAccepted"
	OwnerWithdrawal    EventType = "OwnerWithdrawal"
	VoterWithdrawal    EventType = "VoterWithdrawal"

	// AllEvents subscribes to every event type.
	AllEvents EventType = "*"
)

type EventSubscriberId int

type EventHandlerFunc func(Event)

// Event carries the full identifying tuple so indexers can rebuild ledger state from the stream alone.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	CompetitionID uint64            `json:"competition_id"`
	EntryID       uint64            `json:"entry_id"`
	Actor         string            `json:"actor"`
	Amount        uint64            `json:"amount"`
	Detail        map[string]string `json:"detail,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

func NewEvent(eventType EventType, competitionID, entryID uint64, actor string, amount uint64) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		CompetitionID: competitionID,
		EntryID:       entryID,
		Actor:         actor,
		Amount:        amount,
		Timestamp:     time.Now().UTC(),
	}
}

// With attaches a detail key to a copy of the event.
func (e Event) With(key, value string) Event {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}

// Record converts the event to its persisted form.
func (e Event) Record() models.EventRecord {
	var detail string
	if len(e.Detail) > 0 {
		raw, _ := json.Marshal(e.Detail)
		detail = string(raw)
	}
	return models.EventRecord{
		EventID:       e.ID,
		Type:          string(e.Type),
		CompetitionID: e.CompetitionID,
		EntryID:       e.EntryID,
		Actor:         e.Actor,
		Amount:        e.Amount,
		Detail:        detail,
		CreatedAt:     e.Timestamp,
	}
}

// FromRecord rebuilds an event from its persisted form.
func FromRecord(r models.EventRecord) (Event, error) {
	evt := Event{
		ID:            r.EventID,
		Type:          EventType(r.Type),
		CompetitionID: r.CompetitionID,
		EntryID:       r.EntryID,
		Actor:         r.Actor,
		Amount:        r.Amount,
		Timestamp:     r.CreatedAt,
	}
	if r.Detail != "" {
		if err := json.Unmarshal([]byte(r.Detail), &evt.Detail); err != nil {
			return evt, fmt.Errorf("decode detail of event %d: %w", r.Seq, err)
		}
	}
	return evt, nil
}

type subscriber struct {
	ch chan Event
}

type eventMetrics struct {
	eventsTotal    *prometheus.CounterVec
	subscribers    *prometheus.GaugeVec
	deliveryErrors *prometheus.CounterVec
}

// EventBus fans events out to in-process subscribers. Delivery never blocks the publisher:
// an event that does not fit a subscriber's buffer is dropped for that subscriber and counted.
type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]*subscriber
	metrics     *eventMetrics
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

func NewEventBus(promRegistry prometheus.Registerer) *EventBus {
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]*subscriber),
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	return e
}

func (e *EventBus) initMetrics(promRegistry prometheus.Registerer) {
	e.metrics = &eventMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_events_total",
			Help: "Domain events published, by type",
		}, []string{"type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "competition_event_subscribers",
			Help: "Active event bus subscribers, by type",
		}, []string{"type"}),
		deliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_event_delivery_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		}, []string{"type"}),
	}
	promRegistry.MustRegister(e.metrics.eventsTotal, e.metrics.subscribers, e.metrics.deliveryErrors)
}

// Subscribe allows a consumer to receive events of a particular type via a channel
func (e *EventBus) Subscribe(eventType EventType) (EventSubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, EventQueueSize)}
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]*subscriber)
	}
	e.subscribers[eventType][subId] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, sub.ch
}

// SubscribeFunc allows a consumer to receive events of a particular type via a callback function
func (e *EventBus) SubscribeFunc(eventType EventType, handlerFunc EventHandlerFunc) EventSubscriberId {
	subId, evtCh := e.Subscribe(eventType)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for evt := range evtCh {
			handlerFunc(evt)
		}
	}()
	return subId
}

// Unsubscribe stops delivery and closes the subscriber's channel
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	evtTypeSubs, ok := e.subscribers[eventType]
	if !ok {
		return
	}
	sub, ok := evtTypeSubs[subId]
	if !ok {
		return
	}
	delete(evtTypeSubs, subId)
	if len(evtTypeSubs) == 0 {
		delete(e.subscribers, eventType)
	}
	close(sub.ch)
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
	}
}

// Publish delivers evt to subscribers of its type and to AllEvents subscribers
func (e *EventBus) Publish(evt Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, key := range []EventType{evt.Type, AllEvents} {
		for id, sub := range e.subscribers[key] {
			select {
			case sub.ch <- evt:
			default:
				log.Printf("⚠️ [EVENTS] subscriber %d buffer full, dropping %s", id, evt.Type)
				if e.metrics != nil {
					e.metrics.deliveryErrors.WithLabelValues(string(evt.Type)).Inc()
				}
			}
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
}

// Stop closes all subscriber channels and waits for SubscribeFunc goroutines to drain
func (e *EventBus) Stop() {
	e.mu.Lock()
	subs := e.subscribers
	e.subscribers = make(map[EventType]map[EventSubscriberId]*subscriber)
	for _, evtTypeSubs := range subs {
		for _, sub := range evtTypeSubs {
			close(sub.ch)
		}
	}
	if e.metrics != nil {
		e.metrics.subscribers.Reset()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
