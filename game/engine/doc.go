// Package engine implements the Koi-Koi round state machine.
//
// A Round moves through four flow states:
//
//	AWAITING_HAND_PLAY -> AWAITING_SELECTION -> AWAITING_DECISION -> ROUND_ENDED
//
// AWAITING_SELECTION is entered only when a played or drawn card matches two
// field cards and no target was given. AWAITING_DECISION is entered when a
// turn forms a new or better combination and the player still holds cards;
// with an empty hand the combination is scored at once.
//
// The engine is stateless. Callers own the Round and must serialize calls on
// it; the session service does so under the per-game lock.
//
// Usage:
//
//	eng := engine.NewEngine(yaku.Default())
//	deck := hanafuda.Shuffle(hanafuda.NewDeck(), nil)
//	round, err := eng.Deal(1, [2]string{"alice", "bob"}, "alice", deck)
//	if errors.Is(err, engine.ErrRedeal) {
//		// shuffle again
//	}
//
//	res, err := eng.PlayHandCard(round, "alice", round.Hands["alice"][0], nil)
//	if res.Flow == engine.AwaitingDecision {
//		res, err = eng.Decide(round, "alice", engine.KoiKoi)
//	}
//
// Invariant: the cards of both hands, both depositories, the field and the
// pile always add up to 48.
package engine
