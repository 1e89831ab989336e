package engine

import (
	"fmt"

	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/yaku"
)

// Engine provides the round operations. Every operation validates its input
// completely before touching the round, so a returned error leaves the round
// unchanged.
type Engine interface {
	// Round lifecycle
	Deal(number int, players [2]string, dealer string, deck []hanafuda.Card) (*Round, error)

	// Turn operations
	PlayHandCard(r *Round, playerID string, card hanafuda.Card, target *hanafuda.Card) (*TurnResult, error)
	SelectTarget(r *Round, playerID string, source, target hanafuda.Card) (*TurnResult, error)
	Decide(r *Round, playerID string, decision Decision) (*TurnResult, error)

	// Queries
	LegalTargets(r *Round, card hanafuda.Card) []hanafuda.Card
	Evaluate(r *Round, playerID string) []yaku.Combination
}

// GameEngine implements the Engine interface
type GameEngine struct {
	eval yaku.Evaluator
}

// NewEngine creates an engine scoring with eval. A nil evaluator selects the
// standard catalog.
func NewEngine(eval yaku.Evaluator) *GameEngine {
	if eval == nil {
		eval = yaku.Default()
	}
	return &GameEngine{eval: eval}
}

// Deal builds a round from a full deck: the first eight cards go to
// players[0], the next eight to players[1], the next eight to the field and
// the rest form the draw pile. The dealer plays first.
//
// ErrRedeal is returned when the field holds all four cards of a month. A hand
// holding a teshi or kuttsuki ends the round at once with an
// instant_special outcome; the dealer's hand is checked first.
func (e *GameEngine) Deal(number int, players [2]string, dealer string, deck []hanafuda.Card) (*Round, error) {
	if players[0] == "" || players[1] == "" || players[0] == players[1] {
		return nil, fmt.Errorf("deal needs two distinct players, got %q and %q", players[0], players[1])
	}
	if dealer != players[0] && dealer != players[1] {
		return nil, fmt.Errorf("dealer %q is not a player", dealer)
	}
	if err := validateDeck(deck); err != nil {
		return nil, err
	}

	r := &Round{
		Number:       number,
		Players:      players,
		Dealer:       dealer,
		Active:       dealer,
		Flow:         AwaitingHandPlay,
		Field:        clone(deck[2*HandSize : 2*HandSize+FieldSize]),
		Pile:         clone(deck[2*HandSize+FieldSize:]),
		Hands:        map[string][]hanafuda.Card{},
		Depositories: map[string][]hanafuda.Card{},
		KoiKoi:       map[string]bool{},
		Claimed:      map[string][]yaku.Combination{},
		Multiplier:   1,
	}
	r.Hands[players[0]] = clone(deck[:HandSize])
	r.Hands[players[1]] = clone(deck[HandSize : 2*HandSize])
	for _, p := range players {
		r.Depositories[p] = []hanafuda.Card{}
		r.KoiKoi[p] = false
	}

	byMonth := map[int]int{}
	for _, c := range r.Field {
		byMonth[c.Month()]++
		if byMonth[c.Month()] == 4 {
			return nil, ErrRedeal
		}
	}

	for _, p := range []string{dealer, r.Opponent(dealer)} {
		if combo, ok := yaku.HandSpecial(r.Hands[p]); ok {
			r.Flow = RoundEnded
			r.Outcome = &Outcome{
				Reason:       ReasonInstantSpecial,
				WinnerID:     p,
				Combinations: []yaku.Combination{combo},
				BasePoints:   combo.Points,
				Multiplier:   1,
				Points:       combo.Points,
			}
			break
		}
	}

	return r, nil
}

// PlayHandCard plays card from the active player's hand. When the card
// matches two field cards, target picks the capture; without a target the
// round suspends in AWAITING_SELECTION. The top pile card is then drawn and
// resolved the same way.
func (e *GameEngine) PlayHandCard(r *Round, playerID string, card hanafuda.Card, target *hanafuda.Card) (*TurnResult, error) {
	if err := checkTurn(r, playerID, AwaitingHandPlay); err != nil {
		return nil, err
	}
	if !card.Valid() || !hanafuda.Contains(r.Hands[playerID], card) {
		return nil, newError(CodeInvalidCard, "card %s is not in your hand", card)
	}

	matches := hanafuda.SameMonth(card, r.Field)
	if target != nil && !hanafuda.Contains(matches, *target) {
		return nil, newError(CodeInvalidTarget, "%s does not match %s on the field", *target, card)
	}

	res := &TurnResult{PlayerID: playerID}
	switch {
	case len(matches) == 2 && target == nil:
		e.suspend(r, res, PhaseHand, card, matches)
		return res, nil
	case len(matches) == 2:
		matches = []hanafuda.Card{*target}
	}

	r.Hands[playerID] = hanafuda.Remove(r.Hands[playerID], card)
	res.Steps = append(res.Steps, e.place(r, playerID, PhaseHand, card, matches))

	e.draw(r, res)
	return res, nil
}

// SelectTarget resolves a pending selection. source must be the suspended
// card and target one of the offered candidates.
func (e *GameEngine) SelectTarget(r *Round, playerID string, source, target hanafuda.Card) (*TurnResult, error) {
	if err := checkTurn(r, playerID, AwaitingSelection); err != nil {
		return nil, err
	}
	sel := r.Selection
	if sel == nil {
		return nil, newError(CodeInvalidState, "no selection pending")
	}
	if source != sel.Source {
		return nil, newError(CodeInvalidSelection, "pending card is %s, not %s", sel.Source, source)
	}
	if !hanafuda.Contains(sel.Candidates, target) {
		return nil, newError(CodeInvalidSelection, "%s was not offered", target)
	}

	r.Selection = nil
	r.Flow = AwaitingHandPlay
	res := &TurnResult{PlayerID: playerID}

	if sel.Phase == PhaseHand {
		r.Hands[playerID] = hanafuda.Remove(r.Hands[playerID], source)
		res.Steps = append(res.Steps, e.place(r, playerID, PhaseHand, source, []hanafuda.Card{target}))
		e.draw(r, res)
		return res, nil
	}

	r.Pile = r.Pile[1:]
	res.Steps = append(res.Steps, e.place(r, playerID, PhaseDraw, source, []hanafuda.Card{target}))
	e.finishTurn(r, res)
	return res, nil
}

// Decide answers a pending decision. KOI_KOI doubles the round multiplier
// the first time it is declared in a round and passes play to the opponent;
// END_ROUND scores the pending combinations.
func (e *GameEngine) Decide(r *Round, playerID string, decision Decision) (*TurnResult, error) {
	if err := checkTurn(r, playerID, AwaitingDecision); err != nil {
		return nil, err
	}
	if decision != KoiKoi && decision != EndRound {
		return nil, newError(CodeInvalidDecision, "unknown decision %q", decision)
	}
	pending := r.Decision
	if pending == nil {
		return nil, newError(CodeInvalidState, "no decision pending")
	}

	res := &TurnResult{PlayerID: playerID}
	r.Decision = nil
	if decision == EndRound {
		e.score(r, res, playerID, pending.Combinations)
		return res, nil
	}

	r.KoiKoi[playerID] = true
	if !r.Doubled {
		r.Multiplier *= 2
		r.Doubled = true
	}
	r.Claimed[playerID] = pending.Combinations
	e.advance(r, res)
	return res, nil
}

// LegalTargets returns the field cards card could capture.
func (e *GameEngine) LegalTargets(r *Round, card hanafuda.Card) []hanafuda.Card {
	return hanafuda.SameMonth(card, r.Field)
}

// Evaluate returns the combinations in playerID's depository.
func (e *GameEngine) Evaluate(r *Round, playerID string) []yaku.Combination {
	return e.eval.Evaluate(r.Depositories[playerID])
}

// draw turns over the top pile card and resolves it.
func (e *GameEngine) draw(r *Round, res *TurnResult) {
	if len(r.Pile) == 0 {
		e.finishTurn(r, res)
		return
	}
	top := r.Pile[0]
	matches := hanafuda.SameMonth(top, r.Field)
	if len(matches) == 2 {
		e.suspend(r, res, PhaseDraw, top, matches)
		return
	}
	r.Pile = r.Pile[1:]
	res.Steps = append(res.Steps, e.place(r, res.PlayerID, PhaseDraw, top, matches))
	e.finishTurn(r, res)
}

// place puts card on the field, or captures it together with matches.
func (e *GameEngine) place(r *Round, playerID string, phase Phase, card hanafuda.Card, matches []hanafuda.Card) Step {
	step := Step{Phase: phase, Card: card}
	if len(matches) == 0 {
		r.Field = append(r.Field, card)
		return step
	}
	for _, m := range matches {
		r.Field = hanafuda.Remove(r.Field, m)
	}
	step.Captured = append([]hanafuda.Card{card}, matches...)
	r.Depositories[playerID] = append(r.Depositories[playerID], step.Captured...)
	return step
}

func (e *GameEngine) suspend(r *Round, res *TurnResult, phase Phase, card hanafuda.Card, candidates []hanafuda.Card) {
	r.Flow = AwaitingSelection
	r.Selection = &PendingSelection{
		PlayerID:   res.PlayerID,
		Phase:      phase,
		Source:     card,
		Candidates: clone(candidates),
	}
	res.Flow = r.Flow
	res.Selection = r.Selection
}

// finishTurn checks for new combinations once both cards of a turn are
// resolved.
func (e *GameEngine) finishTurn(r *Round, res *TurnResult) {
	r.Turn++
	player := res.PlayerID
	current := e.eval.Evaluate(r.Depositories[player])
	if !yaku.Improved(r.Claimed[player], current) {
		e.advance(r, res)
		return
	}
	if len(r.Hands[player]) == 0 {
		e.score(r, res, player, current)
		return
	}
	r.Flow = AwaitingDecision
	r.Decision = &PendingDecision{
		PlayerID:     player,
		Combinations: current,
		Points:       yaku.Total(current),
		Multiplier:   r.Multiplier,
	}
	res.Flow = r.Flow
	res.Decision = r.Decision
}

// advance passes play to the opponent, or ends the round drawn when the
// opponent has nothing left to play.
func (e *GameEngine) advance(r *Round, res *TurnResult) {
	next := r.Opponent(r.Active)
	if len(r.Hands[next]) == 0 || len(r.Pile) == 0 {
		r.Flow = RoundEnded
		r.Outcome = &Outcome{Reason: ReasonDrawn, Multiplier: r.Multiplier}
		res.Flow = r.Flow
		res.Outcome = r.Outcome
		return
	}
	r.Active = next
	r.Flow = AwaitingHandPlay
	res.Flow = r.Flow
	res.NextPlayer = next
}

func (e *GameEngine) score(r *Round, res *TurnResult, playerID string, combos []yaku.Combination) {
	base := yaku.Total(combos)
	r.Flow = RoundEnded
	r.Outcome = &Outcome{
		Reason:       ReasonScored,
		WinnerID:     playerID,
		Combinations: combos,
		BasePoints:   base,
		Multiplier:   r.Multiplier,
		Points:       base * r.Multiplier,
	}
	res.Flow = r.Flow
	res.Outcome = r.Outcome
}

// checkTurn reports WRONG_PLAYER before INVALID_STATE.
func checkTurn(r *Round, playerID string, want FlowState) error {
	if r == nil {
		return newError(CodeInvalidState, "no round in progress")
	}
	if !r.HasPlayer(playerID) || r.Active != playerID {
		return newError(CodeWrongPlayer, "it is not %s's turn", playerID)
	}
	if r.Flow != want {
		return newError(CodeInvalidState, "round is %s, expected %s", r.Flow, want)
	}
	return nil
}

func validateDeck(deck []hanafuda.Card) error {
	if len(deck) != hanafuda.DeckSize {
		return fmt.Errorf("deck has %d cards, expected %d", len(deck), hanafuda.DeckSize)
	}
	seen := make(map[hanafuda.Card]bool, len(deck))
	for _, c := range deck {
		if !c.Valid() || seen[c] {
			return fmt.Errorf("deck holds invalid or duplicate card %d", int(c))
		}
		seen[c] = true
	}
	return nil
}

func clone(cards []hanafuda.Card) []hanafuda.Card {
	return append([]hanafuda.Card{}, cards...)
}
