// Package yaku evaluates scoring combinations from a pile of captured cards.
//
// Evaluation is a pure function: the same captured cards always produce the
// same combinations in the same order.
package yaku

import (
	"sort"

	"github.com/wricardo/koikoi/game/hanafuda"
)

// Type tags a scoring combination.
type Type string

const (
	Goko        Type = "goko"
	Shiko       Type = "shiko"
	AmeShiko    Type = "ame_shiko"
	Sanko       Type = "sanko"
	Inoshikacho Type = "inoshikacho"
	AkatanAotan Type = "akatan_aotan"
	Akatan      Type = "akatan"
	Aotan       Type = "aotan"
	Tane        Type = "tane"
	Tan         Type = "tan"
	Kasu        Type = "kasu"
	HanamiZake  Type = "hanami_zake"
	TsukimiZake Type = "tsukimi_zake"
	Teshi       Type = "teshi"
	Kuttsuki    Type = "kuttsuki"
)

// Combination is one achieved scoring combination.
type Combination struct {
	Type   Type            `json:"type"`
	Points int             `json:"points"`
	Cards  []hanafuda.Card `json:"cards"`
}

// Evaluator maps captured cards to achieved combinations.
type Evaluator interface {
	Evaluate(captured []hanafuda.Card) []Combination
}

// Options toggles rule variants.
type Options struct {
	// SakeCupCombos enables hanami-zake and tsukimi-zake.
	SakeCupCombos bool
	// SakeCupAsChaff lets the sake cup also count towards kasu.
	SakeCupAsChaff bool
}

// Standard evaluates the common Koi-Koi catalog.
type Standard struct {
	opts Options
}

// NewStandard returns an evaluator with the given variant options.
func NewStandard(opts Options) *Standard {
	return &Standard{opts: opts}
}

// Default returns the evaluator used when a room does not override rules.
func Default() *Standard {
	return NewStandard(Options{SakeCupCombos: true, SakeCupAsChaff: true})
}

// Evaluate implements Evaluator.
func (s *Standard) Evaluate(captured []hanafuda.Card) []Combination {
	var (
		brights, animals, ribbons, chaff []hanafuda.Card
		poetry, blue                     []hanafuda.Card
	)
	have := make(map[hanafuda.Card]bool, len(captured))
	for _, c := range captured {
		have[c] = true
	}
	for _, c := range sortedCopy(captured) {
		switch c.Kind() {
		case hanafuda.KindBright:
			brights = append(brights, c)
		case hanafuda.KindAnimal:
			animals = append(animals, c)
		case hanafuda.KindRibbon:
			ribbons = append(ribbons, c)
			switch c.Ribbon() {
			case hanafuda.RibbonPoetry:
				poetry = append(poetry, c)
			case hanafuda.RibbonBlue:
				blue = append(blue, c)
			}
		case hanafuda.KindChaff:
			chaff = append(chaff, c)
		}
	}
	if s.opts.SakeCupAsChaff && have[hanafuda.SakeCup] {
		chaff = append(chaff, hanafuda.SakeCup)
	}

	var out []Combination

	switch rainMan := have[hanafuda.RainMan]; {
	case len(brights) == 5:
		out = append(out, Combination{Type: Goko, Points: 10, Cards: brights})
	case len(brights) == 4 && !rainMan:
		out = append(out, Combination{Type: Shiko, Points: 8, Cards: brights})
	case len(brights) == 4:
		out = append(out, Combination{Type: AmeShiko, Points: 7, Cards: brights})
	case len(brights) == 3 && !rainMan:
		out = append(out, Combination{Type: Sanko, Points: 5, Cards: brights})
	}

	if have[hanafuda.Boar] && have[hanafuda.Deer] && have[hanafuda.Butterflies] {
		out = append(out, Combination{
			Type:   Inoshikacho,
			Points: 5,
			Cards:  []hanafuda.Card{hanafuda.Butterflies, hanafuda.Boar, hanafuda.Deer},
		})
	}

	switch {
	case len(poetry) == 3 && len(blue) == 3:
		out = append(out, Combination{Type: AkatanAotan, Points: 10 + len(ribbons) - 6, Cards: ribbons})
	case len(poetry) == 3:
		out = append(out, Combination{Type: Akatan, Points: 5 + len(ribbons) - 3, Cards: ribbons})
	case len(blue) == 3:
		out = append(out, Combination{Type: Aotan, Points: 5 + len(ribbons) - 3, Cards: ribbons})
	}

	if len(animals) >= 5 {
		out = append(out, Combination{Type: Tane, Points: 1 + len(animals) - 5, Cards: animals})
	}
	if len(ribbons) >= 5 {
		out = append(out, Combination{Type: Tan, Points: 1 + len(ribbons) - 5, Cards: ribbons})
	}
	if len(chaff) >= 10 {
		out = append(out, Combination{Type: Kasu, Points: 1 + len(chaff) - 10, Cards: chaff})
	}

	if s.opts.SakeCupCombos && have[hanafuda.SakeCup] {
		if have[hanafuda.Curtain] {
			out = append(out, Combination{
				Type:   HanamiZake,
				Points: 5,
				Cards:  []hanafuda.Card{hanafuda.Curtain, hanafuda.SakeCup},
			})
		}
		if have[hanafuda.Moon] {
			out = append(out, Combination{
				Type:   TsukimiZake,
				Points: 5,
				Cards:  []hanafuda.Card{hanafuda.Moon, hanafuda.SakeCup},
			})
		}
	}

	return out
}

// Total sums the points of combos.
func Total(combos []Combination) int {
	total := 0
	for _, c := range combos {
		total += c.Points
	}
	return total
}

// Improved reports whether current contains a combination that is absent from
// baseline or worth more than it was in baseline.
func Improved(baseline, current []Combination) bool {
	prev := make(map[Type]int, len(baseline))
	for _, c := range baseline {
		prev[c.Type] = c.Points
	}
	for _, c := range current {
		if p, ok := prev[c.Type]; !ok || c.Points > p {
			return true
		}
	}
	return false
}

// HandSpecial detects the instant combinations of a freshly dealt hand:
// four cards of one month (teshi) or four pairs (kuttsuki).
func HandSpecial(hand []hanafuda.Card) (Combination, bool) {
	byMonth := make(map[int][]hanafuda.Card)
	for _, c := range hand {
		byMonth[c.Month()] = append(byMonth[c.Month()], c)
	}
	pairs := 0
	for _, cards := range byMonth {
		if len(cards) == 4 {
			return Combination{Type: Teshi, Points: 6, Cards: sortedCopy(cards)}, true
		}
		if len(cards) == 2 {
			pairs++
		}
	}
	if pairs == 4 && len(hand) == 8 {
		return Combination{Type: Kuttsuki, Points: 6, Cards: sortedCopy(hand)}, true
	}
	return Combination{}, false
}

func sortedCopy(cards []hanafuda.Card) []hanafuda.Card {
	out := append([]hanafuda.Card(nil), cards...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
