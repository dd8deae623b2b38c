package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type identifies an event on the bus.
type Type string

const (
	TypeRoundCreated  Type = "round:created"
	TypeRoundStarted  Type = "round:started"
	TypeRoundFinished Type = "round:finished"
	TypeScoreUpdated  Type = "round:score-updated"
	TypeRoundRefresh  Type = "round:refresh"
	TypeListRefresh   Type = "rounds:list:refresh"
)

// Event is a single bus message. RoundID is uuid.Nil for events that are not
// scoped to one round (rounds:list:refresh).
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	RoundID   uuid.UUID       `json:"roundId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Subscription is one subscriber's feed. Receive from C; Close when done.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	bus     *Bus
	roundID uuid.UUID
	global  bool
}

// Close detaches the subscription from the bus and releases its channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is the in-process fan-out surface between the game core and transports.
// Delivery is best-effort, at most once per subscriber: a subscriber whose
// buffer is full misses the event instead of blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	global map[*Subscription]struct{}
	rounds map[uuid.UUID]map[*Subscription]struct{}
	buffer int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		global: make(map[*Subscription]struct{}),
		rounds: make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for every event on the bus.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, b.buffer), bus: b, global: true}
	sub.C = sub.ch

	b.mu.Lock()
	b.global[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// SubscribeRound registers a subscriber for events scoped to one round.
func (b *Bus) SubscribeRound(roundID uuid.UUID) *Subscription {
	sub := &Subscription{ch: make(chan Event, b.buffer), bus: b, roundID: roundID}
	sub.C = sub.ch

	b.mu.Lock()
	if b.rounds[roundID] == nil {
		b.rounds[roundID] = make(map[*Subscription]struct{})
	}
	b.rounds[roundID][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.global {
		if _, ok := b.global[sub]; !ok {
			return
		}
		delete(b.global, sub)
	} else {
		subs, ok := b.rounds[sub.roundID]
		if !ok {
			return
		}
		if _, ok := subs[sub]; !ok {
			return
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.rounds, sub.roundID)
		}
	}
	close(sub.ch)
}

// Publish delivers the event to every global subscriber and, when the event
// is round-scoped, to that round's subscribers.
//
// The read lock is held across the sends: unsubscribe closes channels under
// the write lock, so an in-flight publish can never send on a closed channel.
// Sends are non-blocking, so holding the lock here never stalls.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.global {
		b.send(sub, ev)
	}
	if ev.RoundID != uuid.Nil {
		for sub := range b.rounds[ev.RoundID] {
			b.send(sub, ev)
		}
	}
}

func (b *Bus) send(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		log.Warn().
			Str("event_type", string(ev.Type)).
			Str("round_id", ev.RoundID.String()).
			Msg("subscriber buffer full, dropping event")
	}
}

// PublishJSON marshals data as the event payload and publishes it.
// Marshal failures are logged and swallowed: event delivery is best-effort
// and must never fail the operation that triggered it.
func (b *Bus) PublishJSON(evType Type, roundID uuid.UUID, data any) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(evType)).Msg("failed to marshal event payload")
			return
		}
		raw = encoded
	}
	b.Publish(Event{Type: evType, RoundID: roundID, Data: raw})
}
