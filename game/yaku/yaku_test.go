package yaku

import (
	"reflect"
	"testing"

	"github.com/wricardo/koikoi/game/hanafuda"
)

func types(combos []Combination) map[Type]int {
	out := make(map[Type]int, len(combos))
	for _, c := range combos {
		out[c.Type] = c.Points
	}
	return out
}

func TestStandard_Evaluate(t *testing.T) {
	eval := Default()

	tests := []struct {
		name     string
		captured []hanafuda.Card
		want     map[Type]int
	}{
		{
			name:     "nothing",
			captured: []hanafuda.Card{2, 3, 6},
			want:     map[Type]int{},
		},
		{
			name:     "sanko",
			captured: []hanafuda.Card{hanafuda.Crane, hanafuda.Curtain, hanafuda.Moon},
			want:     map[Type]int{Sanko: 5},
		},
		{
			name:     "three brights with rain man is nothing",
			captured: []hanafuda.Card{hanafuda.Crane, hanafuda.Curtain, hanafuda.RainMan},
			want:     map[Type]int{},
		},
		{
			name:     "ame-shiko",
			captured: []hanafuda.Card{hanafuda.Crane, hanafuda.Curtain, hanafuda.Moon, hanafuda.RainMan},
			want:     map[Type]int{AmeShiko: 7},
		},
		{
			name:     "shiko",
			captured: []hanafuda.Card{hanafuda.Crane, hanafuda.Curtain, hanafuda.Moon, hanafuda.Phoenix},
			want:     map[Type]int{Shiko: 8},
		},
		{
			name: "goko",
			captured: []hanafuda.Card{
				hanafuda.Crane, hanafuda.Curtain, hanafuda.Moon, hanafuda.RainMan, hanafuda.Phoenix,
			},
			want: map[Type]int{Goko: 10},
		},
		{
			name:     "inoshikacho",
			captured: []hanafuda.Card{hanafuda.Boar, hanafuda.Deer, hanafuda.Butterflies},
			want:     map[Type]int{Inoshikacho: 5},
		},
		{
			name:     "akatan with extra ribbon",
			captured: []hanafuda.Card{1, 5, 9, 13},
			want:     map[Type]int{Akatan: 6},
		},
		{
			name:     "akatan and aotan with tan",
			captured: []hanafuda.Card{1, 5, 9, 21, 33, 37},
			want:     map[Type]int{AkatanAotan: 10, Tan: 2},
		},
		{
			name:     "tane",
			captured: []hanafuda.Card{4, 12, 16, 29, 41},
			want:     map[Type]int{Tane: 1},
		},
		{
			name:     "kasu counts the sake cup",
			captured: []hanafuda.Card{2, 3, 6, 7, 10, 11, 14, 15, 18, hanafuda.SakeCup},
			want:     map[Type]int{Kasu: 1},
		},
		{
			name:     "viewing combos",
			captured: []hanafuda.Card{hanafuda.Curtain, hanafuda.Moon, hanafuda.SakeCup},
			want:     map[Type]int{HanamiZake: 5, TsukimiZake: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := types(eval.Evaluate(tt.captured))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStandard_VariantWithoutSakeCombos(t *testing.T) {
	eval := NewStandard(Options{})
	got := eval.Evaluate([]hanafuda.Card{hanafuda.Curtain, hanafuda.SakeCup})
	if len(got) != 0 {
		t.Errorf("Expected no combos with sake-cup variant disabled, got %v", got)
	}
}

func TestStandard_Deterministic(t *testing.T) {
	eval := Default()
	a := []hanafuda.Card{37, 1, 33, 9, 21, 5}
	b := []hanafuda.Card{1, 5, 9, 21, 33, 37}
	if !reflect.DeepEqual(eval.Evaluate(a), eval.Evaluate(b)) {
		t.Error("Evaluation must not depend on capture order")
	}
}

func TestImproved(t *testing.T) {
	base := []Combination{{Type: Tan, Points: 1}}
	if Improved(base, base) {
		t.Error("Same combos should not count as improved")
	}
	if !Improved(base, []Combination{{Type: Tan, Points: 2}}) {
		t.Error("Higher points should count as improved")
	}
	if !Improved(base, []Combination{{Type: Tan, Points: 1}, {Type: Tane, Points: 1}}) {
		t.Error("New combination should count as improved")
	}
	if Improved(nil, nil) {
		t.Error("Nothing to nothing is not an improvement")
	}
}

func TestHandSpecial(t *testing.T) {
	if c, ok := HandSpecial([]hanafuda.Card{0, 1, 2, 3, 4, 8, 12, 16}); !ok || c.Type != Teshi {
		t.Errorf("Expected teshi, got %v %v", c, ok)
	}
	if c, ok := HandSpecial([]hanafuda.Card{0, 1, 4, 5, 8, 9, 12, 13}); !ok || c.Type != Kuttsuki {
		t.Errorf("Expected kuttsuki, got %v %v", c, ok)
	}
	if _, ok := HandSpecial([]hanafuda.Card{0, 4, 8, 12, 16, 20, 24, 28}); ok {
		t.Error("Expected no special")
	}
}

func TestTotal(t *testing.T) {
	if Total([]Combination{{Points: 5}, {Points: 2}}) != 7 {
		t.Error("Total mismatch")
	}
}
