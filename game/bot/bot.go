// Package bot picks moves for computer-controlled seats. The same strategy
// plays for a human whose action timer expires.
package bot

import (
	"strings"

	"github.com/google/uuid"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
)

// IDPrefix marks bot player ids.
const IDPrefix = "bot-"

// Strategy chooses a move for whichever state the round is waiting in.
type Strategy interface {
	PlayHand(r *engine.Round, playerID string) (card hanafuda.Card, target *hanafuda.Card)
	SelectTarget(r *engine.Round, sel *engine.PendingSelection) hanafuda.Card
	Decide(r *engine.Round, playerID string, leading bool) engine.Decision
}

// NewID returns a fresh bot player id.
func NewID() string {
	return IDPrefix + uuid.NewString()[:8]
}

// IsBotID reports whether id was produced by NewID.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, IDPrefix)
}

// Greedy takes the most valuable capture available and discards its
// cheapest card otherwise.
type Greedy struct {
	// KoiKoiMinHand is the smallest hand size at which the bot declares
	// koi-koi. Zero means 4.
	KoiKoiMinHand int
}

// PlayHand implements Strategy.
func (g Greedy) PlayHand(r *engine.Round, playerID string) (hanafuda.Card, *hanafuda.Card) {
	var (
		best       hanafuda.Card = -1
		bestTarget *hanafuda.Card
		bestScore  int
	)
	for _, card := range r.Hands[playerID] {
		matches := hanafuda.SameMonth(card, r.Field)
		var (
			score  int
			target *hanafuda.Card
		)
		switch len(matches) {
		case 0:
			score = -card.Value()
		case 2:
			t := mostValuable(matches)
			target = &t
			score = card.Value() + t.Value()
		default:
			score = card.Value()
			for _, m := range matches {
				score += m.Value()
			}
		}
		if best < 0 || score > bestScore || (score == bestScore && card < best) {
			best, bestTarget, bestScore = card, target, score
		}
	}
	return best, bestTarget
}

// SelectTarget implements Strategy.
func (g Greedy) SelectTarget(_ *engine.Round, sel *engine.PendingSelection) hanafuda.Card {
	return mostValuable(sel.Candidates)
}

// Decide implements Strategy. The bot keeps playing only when it leads the
// game and still holds enough cards to improve.
func (g Greedy) Decide(r *engine.Round, playerID string, leading bool) engine.Decision {
	minHand := g.KoiKoiMinHand
	if minHand == 0 {
		minHand = 4
	}
	if leading && len(r.Hands[playerID]) >= minHand {
		return engine.KoiKoi
	}
	return engine.EndRound
}

func mostValuable(cards []hanafuda.Card) hanafuda.Card {
	best := cards[0]
	for _, c := range cards[1:] {
		if c.Value() > best.Value() || (c.Value() == best.Value() && c < best) {
			best = c
		}
	}
	return best
}
