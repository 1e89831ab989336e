// Package event defines the typed events pushed to players and the Sink that
// delivers them.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type tags an event.
type Type string

const (
	GameStarted       Type = "game_started"
	RoundDealt        Type = "round_dealt"
	TurnCompleted     Type = "turn_completed"
	TurnPending       Type = "turn_pending"
	SelectionRequired Type = "selection_required"
	DecisionRequired  Type = "decision_required"
	RoundEnded        Type = "round_ended"
	GameFinished      Type = "game_finished"
	TurnError         Type = "turn_error"
	GameError         Type = "game_error"
	StateSnapshot     Type = "state_snapshot"
	MatchmakingStatus Type = "matchmaking_status"
	ContinueRequired  Type = "continue_required"
)

// Event is one message for one or more players.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	GameID    string    `json:"game_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, gameID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		GameID:    gameID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Sink delivers events to players. Publish must not block on slow clients.
type Sink interface {
	Publish(recipients []string, evt Event)
}

// NopSink drops every event.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish([]string, Event) {}

// Delivery is an event together with the players it was addressed to.
type Delivery struct {
	Recipients []string
	Event      Event
}

// Recorder is an in-memory Sink that keeps every delivery, for tests.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// Publish implements Sink.
func (r *Recorder) Publish(recipients []string, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{
		Recipients: append([]string(nil), recipients...),
		Event:      evt,
	})
}

// Deliveries returns a copy of everything published so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// For returns the events addressed to playerID, in publish order.
func (r *Recorder) For(playerID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, d := range r.deliveries {
		for _, p := range d.Recipients {
			if p == playerID {
				out = append(out, d.Event)
				break
			}
		}
	}
	return out
}

// Types lists the event types addressed to playerID, in publish order.
func (r *Recorder) Types(playerID string) []Type {
	events := r.For(playerID)
	out := make([]Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// Last returns the most recent event of type t addressed to playerID.
func (r *Recorder) Last(playerID string, t Type) (Event, bool) {
	events := r.For(playerID)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true
		}
	}
	return Event{}, false
}

// Reset forgets all deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

// Multi fans every event out to several sinks.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(recipients []string, evt Event) {
	for _, s := range m {
		s.Publish(recipients, evt)
	}
}
