package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/yaku"
)

type C = hanafuda.Card

// stackDeck lays out a deck for Deal: alice's hand, bob's hand, the field,
// then pileTop followed by every unused card in ascending order.
func stackDeck(t *testing.T, alice, bob, field, pileTop []C) []C {
	t.Helper()
	used := map[C]bool{}
	var deck []C
	for _, part := range [][]C{alice, bob, field, pileTop} {
		for _, c := range part {
			if used[c] {
				t.Fatalf("card %d used twice in layout", c)
			}
			used[c] = true
			deck = append(deck, c)
		}
	}
	for _, c := range hanafuda.NewDeck() {
		if !used[c] {
			deck = append(deck, c)
		}
	}
	return deck
}

func dealRound(t *testing.T, alice, bob, field, pileTop []C) (*GameEngine, *Round) {
	t.Helper()
	eng := NewEngine(yaku.Default())
	r, err := eng.Deal(1, [2]string{"alice", "bob"}, "alice", stackDeck(t, alice, bob, field, pileTop))
	if err != nil {
		t.Fatalf("Deal failed: %v", err)
	}
	assertCount(t, r)
	return eng, r
}

func assertCount(t *testing.T, r *Round) {
	t.Helper()
	if n := r.CardCount(); n != hanafuda.DeckSize {
		t.Fatalf("Card count is %d, expected %d", n, hanafuda.DeckSize)
	}
}

func cardPtr(c C) *C { return &c }

// Base layout: no specials, a Sep pair on the field for selection tests.
var (
	baseAlice = []C{0, 4, 8, 12, 16, 20, 24, 32}
	baseBob   = []C{1, 5, 9, 13, 17, 21, 25, 29}
	baseField = []C{2, 33, 34, 37, 38, 41, 45, 46}
)

// Decision layout: alice forms hanami-zake on turn one and adds
// tsukimi-zake on the second turn.
var (
	koiAlice = []C{8, 0, 4, 12, 16, 20, 24, 28}
	koiBob   = []C{1, 5, 13, 17, 21, 25, 29, 41}
	koiField = []C{10, 33, 37, 38, 42, 45, 46, 30}
	koiPile  = []C{32, 7, 3}
)

func TestDeal(t *testing.T) {
	_, r := dealRound(t, baseAlice, baseBob, baseField, nil)

	if r.Flow != AwaitingHandPlay {
		t.Errorf("Expected %s, got %s", AwaitingHandPlay, r.Flow)
	}
	if r.Active != "alice" || r.Dealer != "alice" {
		t.Errorf("Expected alice active and dealing, got active=%s dealer=%s", r.Active, r.Dealer)
	}
	if len(r.Hands["alice"]) != 8 || len(r.Hands["bob"]) != 8 || len(r.Field) != 8 || len(r.Pile) != 24 {
		t.Errorf("Unexpected zone sizes: %d %d %d %d",
			len(r.Hands["alice"]), len(r.Hands["bob"]), len(r.Field), len(r.Pile))
	}
	if r.Multiplier != 1 {
		t.Errorf("Expected multiplier 1, got %d", r.Multiplier)
	}
}

func TestDeal_Validation(t *testing.T) {
	eng := NewEngine(nil)
	deck := hanafuda.NewDeck()

	tests := []struct {
		name    string
		players [2]string
		dealer  string
		deck    []C
	}{
		{"same player twice", [2]string{"a", "a"}, "a", deck},
		{"empty player", [2]string{"a", ""}, "a", deck},
		{"dealer not seated", [2]string{"a", "b"}, "c", deck},
		{"short deck", [2]string{"a", "b"}, "a", deck[:40]},
		{"duplicate card", [2]string{"a", "b"}, "a", append(append([]C{}, deck[:47]...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := eng.Deal(1, tt.players, tt.dealer, tt.deck); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestDeal_FieldFourOfAMonthRedeals(t *testing.T) {
	eng := NewEngine(nil)
	field := []C{36, 37, 38, 39, 2, 6, 10, 14}
	deck := stackDeck(t, baseAlice, []C{1, 5, 9, 13, 17, 21, 25, 29}, field, nil)
	if _, err := eng.Deal(1, [2]string{"alice", "bob"}, "alice", deck); !errors.Is(err, ErrRedeal) {
		t.Errorf("Expected ErrRedeal, got %v", err)
	}
}

func TestDeal_InstantSpecial(t *testing.T) {
	eng := NewEngine(nil)
	teshi := []C{0, 1, 2, 3, 4, 8, 12, 16}
	deck := stackDeck(t, teshi, []C{5, 9, 13, 17, 21, 25, 29, 33}, []C{6, 10, 14, 18, 22, 26, 30, 34}, nil)

	r, err := eng.Deal(1, [2]string{"alice", "bob"}, "bob", deck)
	if err != nil {
		t.Fatalf("Deal failed: %v", err)
	}
	if r.Flow != RoundEnded || r.Outcome == nil {
		t.Fatalf("Expected the round to end at deal, got %s", r.Flow)
	}
	if r.Outcome.Reason != ReasonInstantSpecial || r.Outcome.WinnerID != "alice" || r.Outcome.Points != 6 {
		t.Errorf("Unexpected outcome: %+v", r.Outcome)
	}
	assertCount(t, r)
}

// One hand match, then a draw that matches nothing.
func TestPlayHandCard_SingleMatchThenPlainDraw(t *testing.T) {
	eng, r := dealRound(t, baseAlice, baseBob, baseField, []C{6})

	res, err := eng.PlayHandCard(r, "alice", 0, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	assertCount(t, r)

	if len(res.Steps) != 2 {
		t.Fatalf("Expected two steps, got %+v", res.Steps)
	}
	if !reflect.DeepEqual(res.Steps[0].Captured, []C{0, 2}) {
		t.Errorf("Expected hand step to capture [0 2], got %v", res.Steps[0].Captured)
	}
	if res.Steps[1].Card != 6 || len(res.Steps[1].Captured) != 0 {
		t.Errorf("Expected drawn card 6 placed on the field, got %+v", res.Steps[1])
	}
	if !hanafuda.Contains(r.Field, 6) || hanafuda.Contains(r.Field, 2) {
		t.Errorf("Unexpected field: %v", r.Field)
	}
	if r.Active != "bob" || r.Flow != AwaitingHandPlay || res.NextPlayer != "bob" {
		t.Errorf("Expected bob to play next, got active=%s flow=%s", r.Active, r.Flow)
	}
	if r.Turn != 1 {
		t.Errorf("Expected turn 1, got %d", r.Turn)
	}
}

func TestPlayHandCard_Errors(t *testing.T) {
	tests := []struct {
		name   string
		player string
		card   C
		target *C
		want   error
	}{
		{"opponent", "bob", 1, nil, ErrWrongPlayer},
		{"stranger", "carol", 0, nil, ErrWrongPlayer},
		{"card not in hand", "alice", 1, nil, ErrInvalidCard},
		{"card out of range", "alice", 99, nil, ErrInvalidCard},
		{"target of another month", "alice", 0, cardPtr(33), ErrInvalidTarget},
		{"target without matches", "alice", 4, cardPtr(2), ErrInvalidTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, r := dealRound(t, baseAlice, baseBob, baseField, nil)
			before := r.Clone()

			_, err := eng.PlayHandCard(r, tt.player, tt.card, tt.target)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if !reflect.DeepEqual(before, r) {
				t.Error("A rejected play must leave the round unchanged")
			}
		})
	}
}

func TestPlayHandCard_WrongPlayerBeforeInvalidState(t *testing.T) {
	eng, r := dealRound(t, baseAlice, baseBob, baseField, nil)
	if _, err := eng.PlayHandCard(r, "alice", 32, nil); err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if _, err := eng.PlayHandCard(r, "bob", 1, nil); !errors.Is(err, ErrWrongPlayer) {
		t.Errorf("Expected WRONG_PLAYER, got %v", err)
	}
	if _, err := eng.PlayHandCard(r, "alice", 0, nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected INVALID_STATE, got %v", err)
	}
	if _, err := eng.Decide(r, "alice", KoiKoi); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected INVALID_STATE, got %v", err)
	}
}

func TestPlayHandCard_TwoMatchesWithTarget(t *testing.T) {
	eng, r := dealRound(t, baseAlice, baseBob, baseField, []C{6})

	res, err := eng.PlayHandCard(r, "alice", 32, cardPtr(34))
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if !reflect.DeepEqual(res.Steps[0].Captured, []C{32, 34}) {
		t.Errorf("Expected capture [32 34], got %v", res.Steps[0].Captured)
	}
	if !hanafuda.Contains(r.Field, 33) {
		t.Error("The other candidate must stay on the field")
	}
	assertCount(t, r)
}

func TestSelection_HandPhase(t *testing.T) {
	eng, r := dealRound(t, baseAlice, baseBob, baseField, []C{6})

	res, err := eng.PlayHandCard(r, "alice", 32, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if r.Flow != AwaitingSelection || res.Selection == nil {
		t.Fatalf("Expected AWAITING_SELECTION, got %s", r.Flow)
	}
	if res.Selection.Phase != PhaseHand || res.Selection.Source != 32 ||
		!reflect.DeepEqual(res.Selection.Candidates, []C{33, 34}) {
		t.Errorf("Unexpected selection: %+v", res.Selection)
	}
	if !hanafuda.Contains(r.Hands["alice"], 32) {
		t.Error("The pending card must stay in hand")
	}
	assertCount(t, r)

	if _, err := eng.SelectTarget(r, "alice", 32, 2); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("Expected INVALID_SELECTION for unoffered target, got %v", err)
	}
	if _, err := eng.SelectTarget(r, "alice", 33, 34); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("Expected INVALID_SELECTION for wrong source, got %v", err)
	}
	if _, err := eng.SelectTarget(r, "bob", 32, 34); !errors.Is(err, ErrWrongPlayer) {
		t.Errorf("Expected WRONG_PLAYER, got %v", err)
	}

	res, err = eng.SelectTarget(r, "alice", 32, 34)
	if err != nil {
		t.Fatalf("SelectTarget failed: %v", err)
	}
	assertCount(t, r)
	if r.Selection != nil {
		t.Error("Selection must be cleared")
	}
	if len(res.Steps) != 2 || res.Steps[1].Phase != PhaseDraw {
		t.Errorf("Expected the draw to follow the selection, got %+v", res.Steps)
	}
	if r.Active != "bob" || r.Flow != AwaitingHandPlay {
		t.Errorf("Expected bob's turn, got active=%s flow=%s", r.Active, r.Flow)
	}
}

func TestSelection_DrawPhase(t *testing.T) {
	eng, r := dealRound(t, baseAlice, baseBob, baseField, []C{35})

	res, err := eng.PlayHandCard(r, "alice", 0, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if r.Flow != AwaitingSelection || res.Selection.Phase != PhaseDraw || res.Selection.Source != 35 {
		t.Fatalf("Expected a draw selection on 35, got %s %+v", r.Flow, res.Selection)
	}
	if r.Pile[0] != 35 {
		t.Error("The drawn card must stay on top of the pile while pending")
	}
	if len(res.Steps) != 1 {
		t.Errorf("Expected only the hand step, got %+v", res.Steps)
	}
	assertCount(t, r)

	if _, err := eng.SelectTarget(r, "alice", 35, 33); err != nil {
		t.Fatalf("SelectTarget failed: %v", err)
	}
	assertCount(t, r)
	if !reflect.DeepEqual(r.Depositories["alice"], []C{0, 2, 35, 33}) {
		t.Errorf("Unexpected depository: %v", r.Depositories["alice"])
	}
	if r.Active != "bob" {
		t.Errorf("Expected bob's turn, got %s", r.Active)
	}
}

func TestPlayHandCard_ThreeMatchesCaptureAll(t *testing.T) {
	alice := []C{39, 4, 8, 12, 16, 20, 24, 32}
	field := []C{36, 37, 38, 2, 41, 45, 46, 33}
	eng, r := dealRound(t, alice, baseBob, field, []C{6})

	res, err := eng.PlayHandCard(r, "alice", 39, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if len(res.Steps[0].Captured) != 4 {
		t.Errorf("Expected all four cards of the month captured, got %v", res.Steps[0].Captured)
	}
	assertCount(t, r)
}

func TestDecision_KoiKoiDoublesOnce(t *testing.T) {
	eng, r := dealRound(t, koiAlice, koiBob, koiField, koiPile)

	res, err := eng.PlayHandCard(r, "alice", 8, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if r.Flow != AwaitingDecision || res.Decision == nil {
		t.Fatalf("Expected AWAITING_DECISION, got %s", r.Flow)
	}
	if res.Decision.Points != 5 || res.Decision.Combinations[0].Type != yaku.HanamiZake {
		t.Errorf("Unexpected decision: %+v", res.Decision)
	}

	if _, err := eng.Decide(r, "alice", Decision("MAYBE")); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("Expected INVALID_DECISION, got %v", err)
	}
	if _, err := eng.Decide(r, "bob", KoiKoi); !errors.Is(err, ErrWrongPlayer) {
		t.Errorf("Expected WRONG_PLAYER, got %v", err)
	}

	if _, err := eng.Decide(r, "alice", KoiKoi); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if r.Multiplier != 2 || !r.KoiKoi["alice"] || r.Active != "bob" || r.Flow != AwaitingHandPlay {
		t.Fatalf("Unexpected state after koi-koi: mult=%d active=%s flow=%s", r.Multiplier, r.Active, r.Flow)
	}

	if _, err := eng.PlayHandCard(r, "bob", 41, nil); err != nil {
		t.Fatalf("bob PlayHandCard failed: %v", err)
	}
	if r.Active != "alice" {
		t.Fatalf("Expected alice's turn, got %s", r.Active)
	}

	// Same combos again do not reopen the decision; tsukimi-zake does.
	res, err = eng.PlayHandCard(r, "alice", 28, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if r.Flow != AwaitingDecision || res.Decision.Points != 10 {
		t.Fatalf("Expected a second decision worth 10, got %s %+v", r.Flow, res.Decision)
	}
	assertCount(t, r)

	t.Run("second koi-koi keeps multiplier", func(t *testing.T) {
		r := r.Clone()
		if _, err := eng.Decide(r, "alice", KoiKoi); err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if r.Multiplier != 2 {
			t.Errorf("Expected multiplier to stay 2, got %d", r.Multiplier)
		}
	})

	t.Run("end round scores with accumulated multiplier", func(t *testing.T) {
		r := r.Clone()
		res, err := eng.Decide(r, "alice", EndRound)
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if r.Flow != RoundEnded || res.Outcome == nil {
			t.Fatalf("Expected ROUND_ENDED, got %s", r.Flow)
		}
		want := Outcome{Reason: ReasonScored, WinnerID: "alice", BasePoints: 10, Multiplier: 2, Points: 20}
		got := *res.Outcome
		got.Combinations = nil
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expected %+v, got %+v", want, got)
		}
		assertCount(t, r)
	})
}

func TestFinishTurn_EmptyHandScoresImmediately(t *testing.T) {
	eng, r := dealRound(t, koiAlice, koiBob, koiField, koiPile)
	// Move alice's other cards into bob's depository.
	for _, c := range koiAlice[1:] {
		r.Hands["alice"] = hanafuda.Remove(r.Hands["alice"], c)
		r.Depositories["bob"] = append(r.Depositories["bob"], c)
	}
	assertCount(t, r)

	res, err := eng.PlayHandCard(r, "alice", 8, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if r.Flow != RoundEnded || res.Outcome == nil || res.Outcome.Reason != ReasonScored {
		t.Fatalf("Expected immediate scoring, got %s %+v", r.Flow, res.Outcome)
	}
	if res.Outcome.Points != 5 {
		t.Errorf("Expected 5 points, got %d", res.Outcome.Points)
	}
}

func TestAdvance_OpponentOutOfCardsEndsDrawn(t *testing.T) {
	eng, r := dealRound(t, koiAlice, koiBob, koiField, koiPile)
	for _, c := range koiBob {
		r.Hands["bob"] = hanafuda.Remove(r.Hands["bob"], c)
		r.Depositories["bob"] = append(r.Depositories["bob"], c)
	}

	res, err := eng.PlayHandCard(r, "alice", 0, nil)
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if r.Flow != RoundEnded || res.Outcome == nil || res.Outcome.Reason != ReasonDrawn {
		t.Fatalf("Expected a drawn round, got %s %+v", r.Flow, res.Outcome)
	}
	if res.Outcome.Points != 0 {
		t.Errorf("A drawn round scores nothing, got %d", res.Outcome.Points)
	}
	assertCount(t, r)
}

func TestFullRound_CardCountHolds(t *testing.T) {
	eng, r := dealRound(t, baseAlice, baseBob, baseField, nil)
	for steps := 0; !r.Ended(); steps++ {
		if steps > 100 {
			t.Fatal("Round did not end")
		}
		var err error
		switch r.Flow {
		case AwaitingHandPlay:
			_, err = eng.PlayHandCard(r, r.Active, r.Hands[r.Active][0], nil)
		case AwaitingSelection:
			_, err = eng.SelectTarget(r, r.Active, r.Selection.Source, r.Selection.Candidates[0])
		case AwaitingDecision:
			_, err = eng.Decide(r, r.Active, KoiKoi)
		}
		if err != nil {
			t.Fatalf("Step %d failed: %v", steps, err)
		}
		assertCount(t, r)
	}
	if r.Outcome == nil {
		t.Fatal("Ended round must carry an outcome")
	}
}

func TestRoundClone_IsDeep(t *testing.T) {
	_, r := dealRound(t, baseAlice, baseBob, baseField, nil)
	c := r.Clone()
	c.Hands["alice"][0] = 47
	c.Field = c.Field[:1]
	if r.Hands["alice"][0] == 47 || len(r.Field) != 8 {
		t.Error("Clone must not share zones with the original")
	}
}
