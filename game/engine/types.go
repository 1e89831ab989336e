package engine

import (
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/yaku"
)

// FlowState is the current step of a round's turn cycle.
type FlowState string

const (
	AwaitingHandPlay  FlowState = "AWAITING_HAND_PLAY"
	AwaitingSelection FlowState = "AWAITING_SELECTION"
	AwaitingDecision  FlowState = "AWAITING_DECISION"
	RoundEnded        FlowState = "ROUND_ENDED"

	// Cards dealt per hand and to the field.
	HandSize  = 8
	FieldSize = 8
)

// Decision is a player's answer after forming a new combination.
type Decision string

const (
	KoiKoi   Decision = "KOI_KOI"
	EndRound Decision = "END_ROUND"
)

// EndReason explains how a round ended.
type EndReason string

const (
	ReasonScored         EndReason = "scored"
	ReasonDrawn          EndReason = "drawn"
	ReasonInstantSpecial EndReason = "instant_special"
)

// Phase tells whether a card came from the hand or the draw pile.
type Phase string

const (
	PhaseHand Phase = "hand"
	PhaseDraw Phase = "draw"
)

// PendingSelection is the context of a suspended AWAITING_SELECTION round.
// The source card stays in the hand (hand phase) or on top of the pile (draw
// phase) until the selection is made.
type PendingSelection struct {
	PlayerID   string          `json:"player_id"`
	Phase      Phase           `json:"phase"`
	Source     hanafuda.Card   `json:"source"`
	Candidates []hanafuda.Card `json:"candidates"`
}

// PendingDecision is the context of a suspended AWAITING_DECISION round.
type PendingDecision struct {
	PlayerID     string             `json:"player_id"`
	Combinations []yaku.Combination `json:"combinations"`
	Points       int                `json:"points"`
	Multiplier   int                `json:"multiplier"`
}

// Outcome is the result of an ended round.
type Outcome struct {
	Reason       EndReason          `json:"reason"`
	WinnerID     string             `json:"winner_id,omitempty"`
	Combinations []yaku.Combination `json:"combinations,omitempty"`
	BasePoints   int                `json:"base_points"`
	Multiplier   int                `json:"multiplier"`
	Points       int                `json:"points"`
}

// Round is the complete state of one dealt round. It is replaced wholesale
// when the next round is dealt.
type Round struct {
	Number       int                        `json:"number"`
	Players      [2]string                  `json:"players"`
	Dealer       string                     `json:"dealer"`
	Active       string                     `json:"active"`
	Flow         FlowState                  `json:"flow"`
	Field        []hanafuda.Card            `json:"field"`
	Pile         []hanafuda.Card            `json:"pile"`
	Hands        map[string][]hanafuda.Card `json:"hands"`
	Depositories map[string][]hanafuda.Card `json:"depositories"`
	KoiKoi       map[string]bool            `json:"koikoi"`
	Multiplier   int                        `json:"multiplier"`
	Doubled      bool                       `json:"doubled"`
	// Claimed holds, per player, the combinations already offered at a
	// decision; only improvements over them trigger a new decision.
	Claimed   map[string][]yaku.Combination `json:"claimed"`
	Selection *PendingSelection             `json:"selection,omitempty"`
	Decision  *PendingDecision              `json:"decision,omitempty"`
	Outcome   *Outcome                      `json:"outcome,omitempty"`
	Turn      int                           `json:"turn"`
}

// Step records what happened to one played or drawn card.
type Step struct {
	Phase    Phase           `json:"phase"`
	Card     hanafuda.Card   `json:"card"`
	Captured []hanafuda.Card `json:"captured,omitempty"`
}

// TurnResult summarizes a successful operation on a round.
type TurnResult struct {
	PlayerID   string            `json:"player_id"`
	Steps      []Step            `json:"steps"`
	Flow       FlowState         `json:"flow"`
	NextPlayer string            `json:"next_player,omitempty"`
	Selection  *PendingSelection `json:"selection,omitempty"`
	Decision   *PendingDecision  `json:"decision,omitempty"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
}

// Opponent returns the other player of the round.
func (r *Round) Opponent(playerID string) string {
	if r.Players[0] == playerID {
		return r.Players[1]
	}
	if r.Players[1] == playerID {
		return r.Players[0]
	}
	return ""
}

// HasPlayer reports whether playerID takes part in the round.
func (r *Round) HasPlayer(playerID string) bool {
	return playerID != "" && (r.Players[0] == playerID || r.Players[1] == playerID)
}

// CardCount returns the number of cards held across every zone of the round.
// It always equals hanafuda.DeckSize.
func (r *Round) CardCount() int {
	n := len(r.Field) + len(r.Pile)
	for _, p := range r.Players {
		n += len(r.Hands[p]) + len(r.Depositories[p])
	}
	return n
}

// Ended reports whether the round reached ROUND_ENDED.
func (r *Round) Ended() bool {
	return r.Flow == RoundEnded
}

// Clone returns a deep copy of the round.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	out := *r
	out.Field = clone(r.Field)
	out.Pile = clone(r.Pile)
	out.Hands = make(map[string][]hanafuda.Card, len(r.Hands))
	for p, h := range r.Hands {
		out.Hands[p] = clone(h)
	}
	out.Depositories = make(map[string][]hanafuda.Card, len(r.Depositories))
	for p, d := range r.Depositories {
		out.Depositories[p] = clone(d)
	}
	out.KoiKoi = make(map[string]bool, len(r.KoiKoi))
	for p, k := range r.KoiKoi {
		out.KoiKoi[p] = k
	}
	out.Claimed = make(map[string][]yaku.Combination, len(r.Claimed))
	for p, c := range r.Claimed {
		out.Claimed[p] = append([]yaku.Combination(nil), c...)
	}
	if r.Selection != nil {
		sel := *r.Selection
		sel.Candidates = clone(sel.Candidates)
		out.Selection = &sel
	}
	if r.Decision != nil {
		dec := *r.Decision
		out.Decision = &dec
	}
	if r.Outcome != nil {
		o := *r.Outcome
		out.Outcome = &o
	}
	return &out
}
