package service

import (
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
)

// snapshot builds viewer's view of g. Callers hold the game lock.
func (s *Service) snapshot(g *session.Game, viewer string) *Snapshot {
	room := s.roomOf(g)
	c := g.Clone()
	snap := &Snapshot{
		GameID:       c.ID,
		RoomType:     c.RoomType,
		Status:       c.Status,
		Players:      c.Players,
		Scores:       c.Scores,
		RoundNumber:  c.RoundNumber,
		TotalRounds:  room.Rounds,
		Advance:      c.Advance,
		FinishReason: c.FinishReason,
		WinnerID:     c.WinnerID,
		Version:      c.Version,
		History:      c.History,
		ViewerID:     viewer,
		Timeouts:     s.timeouts(c, viewer),
	}
	if r := c.Round; r != nil {
		opp := r.Opponent(viewer)
		v := &RoundView{
			Number:            r.Number,
			Dealer:            r.Dealer,
			Active:            r.Active,
			Flow:              r.Flow,
			Field:             r.Field,
			Hand:              r.Hands[viewer],
			OpponentHandCount: len(r.Hands[opp]),
			PileCount:         len(r.Pile),
			Depositories:      r.Depositories,
			KoiKoi:            r.KoiKoi,
			Multiplier:        r.Multiplier,
			Outcome:           r.Outcome,
		}
		if r.HasPlayer(viewer) {
			v.Combinations = s.engineFor(room).Evaluate(r, viewer)
		}
		if r.Selection != nil && r.Selection.PlayerID == viewer {
			v.Selection = r.Selection
		}
		if r.Decision != nil && r.Decision.PlayerID == viewer {
			v.Decision = r.Decision
		}
		if c.Active() {
			v.RemainingSeconds = s.actionRemaining(g)
		}
		snap.Round = v
	}
	return snap
}

// timeouts reports the running countdowns that concern viewer, keyed by
// timer family.
func (s *Service) timeouts(g *session.Game, viewer string) map[string]int {
	out := map[string]int{}
	add := func(k timer.Key) {
		if secs, ok := s.timers.Remaining(k); ok {
			out[string(k.Family)] = secs
		}
	}
	add(timer.GameKey(timer.FamilyMatchmaking, g.ID))
	add(timer.PlayerKey(timer.FamilyIdle, g.ID, viewer))
	add(timer.PlayerKey(timer.FamilyContinue, g.ID, viewer))
	if opp := g.Opponent(viewer); opp != "" {
		add(timer.PlayerKey(timer.FamilyDisconnect, g.ID, opp))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
