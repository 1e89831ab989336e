// Package hanafuda models the 48-card Hanafuda deck used by Koi-Koi.
package hanafuda

import (
	"fmt"
	"math/rand"
)

// DeckSize is the number of cards in a full deck.
const DeckSize = 48

// Kind is the category printed on a card.
type Kind string

const (
	KindBright Kind = "bright"
	KindAnimal Kind = "animal"
	KindRibbon Kind = "ribbon"
	KindChaff  Kind = "chaff"
)

// Ribbon distinguishes the three ribbon colours.
type Ribbon string

const (
	RibbonNone   Ribbon = ""
	RibbonPoetry Ribbon = "poetry"
	RibbonBlue   Ribbon = "blue"
	RibbonRed    Ribbon = "red"
)

// Card identifies one of the 48 cards. Cards are numbered month by month:
// 0-3 are January, 4-7 February, and so on.
type Card int

type cardInfo struct {
	name   string
	kind   Kind
	ribbon Ribbon
}

var catalog = [DeckSize]cardInfo{
	{"pine-crane", KindBright, RibbonNone},
	{"pine-poetry", KindRibbon, RibbonPoetry},
	{"pine-chaff-1", KindChaff, RibbonNone},
	{"pine-chaff-2", KindChaff, RibbonNone},

	{"plum-warbler", KindAnimal, RibbonNone},
	{"plum-poetry", KindRibbon, RibbonPoetry},
	{"plum-chaff-1", KindChaff, RibbonNone},
	{"plum-chaff-2", KindChaff, RibbonNone},

	{"cherry-curtain", KindBright, RibbonNone},
	{"cherry-poetry", KindRibbon, RibbonPoetry},
	{"cherry-chaff-1", KindChaff, RibbonNone},
	{"cherry-chaff-2", KindChaff, RibbonNone},

	{"wisteria-cuckoo", KindAnimal, RibbonNone},
	{"wisteria-ribbon", KindRibbon, RibbonRed},
	{"wisteria-chaff-1", KindChaff, RibbonNone},
	{"wisteria-chaff-2", KindChaff, RibbonNone},

	{"iris-bridge", KindAnimal, RibbonNone},
	{"iris-ribbon", KindRibbon, RibbonRed},
	{"iris-chaff-1", KindChaff, RibbonNone},
	{"iris-chaff-2", KindChaff, RibbonNone},

	{"peony-butterflies", KindAnimal, RibbonNone},
	{"peony-blue", KindRibbon, RibbonBlue},
	{"peony-chaff-1", KindChaff, RibbonNone},
	{"peony-chaff-2", KindChaff, RibbonNone},

	{"clover-boar", KindAnimal, RibbonNone},
	{"clover-ribbon", KindRibbon, RibbonRed},
	{"clover-chaff-1", KindChaff, RibbonNone},
	{"clover-chaff-2", KindChaff, RibbonNone},

	{"pampas-moon", KindBright, RibbonNone},
	{"pampas-geese", KindAnimal, RibbonNone},
	{"pampas-chaff-1", KindChaff, RibbonNone},
	{"pampas-chaff-2", KindChaff, RibbonNone},

	{"chrysanthemum-sake", KindAnimal, RibbonNone},
	{"chrysanthemum-blue", KindRibbon, RibbonBlue},
	{"chrysanthemum-chaff-1", KindChaff, RibbonNone},
	{"chrysanthemum-chaff-2", KindChaff, RibbonNone},

	{"maple-deer", KindAnimal, RibbonNone},
	{"maple-blue", KindRibbon, RibbonBlue},
	{"maple-chaff-1", KindChaff, RibbonNone},
	{"maple-chaff-2", KindChaff, RibbonNone},

	{"willow-rainman", KindBright, RibbonNone},
	{"willow-swallow", KindAnimal, RibbonNone},
	{"willow-ribbon", KindRibbon, RibbonRed},
	{"willow-lightning", KindChaff, RibbonNone},

	{"paulownia-phoenix", KindBright, RibbonNone},
	{"paulownia-chaff-1", KindChaff, RibbonNone},
	{"paulownia-chaff-2", KindChaff, RibbonNone},
	{"paulownia-chaff-3", KindChaff, RibbonNone},
}

// Named cards referenced by scoring rules.
const (
	Crane       Card = 0
	Curtain     Card = 8
	Butterflies Card = 20
	Boar        Card = 24
	Moon        Card = 28
	SakeCup     Card = 32
	Deer        Card = 36
	RainMan     Card = 40
	Phoenix     Card = 44
)

// Valid reports whether c is a card of the deck.
func (c Card) Valid() bool {
	return c >= 0 && c < DeckSize
}

// Month returns the card's month, 1 through 12.
func (c Card) Month() int {
	return int(c)/4 + 1
}

// Kind returns the card's category.
func (c Card) Kind() Kind {
	if !c.Valid() {
		return ""
	}
	return catalog[c].kind
}

// Ribbon returns the ribbon colour for ribbon cards.
func (c Card) Ribbon() Ribbon {
	if !c.Valid() {
		return RibbonNone
	}
	return catalog[c].ribbon
}

// Name returns a stable human readable name.
func (c Card) Name() string {
	if !c.Valid() {
		return fmt.Sprintf("invalid-%d", int(c))
	}
	return catalog[c].name
}

func (c Card) String() string {
	return c.Name()
}

// Value is a rough worth used for tie-breaking and bot heuristics.
func (c Card) Value() int {
	switch c.Kind() {
	case KindBright:
		return 20
	case KindAnimal:
		return 10
	case KindRibbon:
		return 5
	default:
		return 1
	}
}

// NewDeck returns the 48 cards in catalog order.
func NewDeck() []Card {
	deck := make([]Card, DeckSize)
	for i := range deck {
		deck[i] = Card(i)
	}
	return deck
}

// Shuffle returns a shuffled copy of deck.
func Shuffle(deck []Card, rng *rand.Rand) []Card {
	out := append([]Card(nil), deck...)
	if rng == nil {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// SameMonth returns the cards of pool sharing c's month, in pool order.
func SameMonth(c Card, pool []Card) []Card {
	var out []Card
	for _, p := range pool {
		if p.Month() == c.Month() {
			out = append(out, p)
		}
	}
	return out
}

// Contains reports whether c is in cards.
func Contains(cards []Card, c Card) bool {
	return IndexOf(cards, c) >= 0
}

// IndexOf returns the position of c in cards or -1.
func IndexOf(cards []Card, c Card) int {
	for i, x := range cards {
		if x == c {
			return i
		}
	}
	return -1
}

// Remove returns cards without the first occurrence of c.
func Remove(cards []Card, c Card) []Card {
	i := IndexOf(cards, c)
	if i < 0 {
		return cards
	}
	out := make([]Card, 0, len(cards)-1)
	out = append(out, cards[:i]...)
	return append(out, cards[i+1:]...)
}

// Parse accepts either a card number or a card name.
func Parse(s string) (Card, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && fmt.Sprint(n) == s {
		c := Card(n)
		if !c.Valid() {
			return 0, fmt.Errorf("card %d out of range", n)
		}
		return c, nil
	}
	for i, info := range catalog {
		if info.name == s {
			return Card(i), nil
		}
	}
	return 0, fmt.Errorf("unknown card %q", s)
}
