package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/event"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
)

// startGame moves a game with two seated players to IN_PROGRESS and deals
// the first round. The creator deals first.
func (s *Service) startGame(ctx context.Context, g *session.Game, room *config.RoomConfig) error {
	if len(g.Players) != 2 {
		return fmt.Errorf("game %s needs two players to start, has %d", g.ID, len(g.Players))
	}
	s.timers.Cancel(timer.GameKey(timer.FamilyMatchmaking, g.ID))

	g.Status = session.StatusInProgress
	for _, p := range g.Players {
		if _, ok := g.Scores[p.ID]; !ok {
			g.Scores[p.ID] = 0
		}
	}
	g.Touch(s.now())

	s.publish(g, g.Humans(), event.GameStarted, GameStartedPayload{
		RoomType:    g.RoomType,
		Players:     append([]session.Player(nil), g.Players...),
		TotalRounds: room.Rounds,
	})
	s.audit.Record(g.ID, "", "game_started", map[string]any{"players": g.PlayerIDs(), "room_type": g.RoomType})
	s.logger.Info("game started",
		zap.String("game_id", g.ID),
		zap.Strings("players", g.PlayerIDs()),
		zap.String("room_type", g.RoomType))

	for _, id := range g.Humans() {
		s.restartIdle(g, id, room)
	}
	return s.deal(ctx, g, room, g.Players[0].ID)
}

// deal replaces the round with a freshly dealt one. Fields holding a whole
// month are redealt.
func (s *Service) deal(ctx context.Context, g *session.Game, room *config.RoomConfig, dealer string) error {
	eng := s.engineFor(room)
	players := [2]string{g.Players[0].ID, g.Players[1].ID}

	var (
		r   *engine.Round
		err error
	)
	for i := 0; i < s.maxRedeals; i++ {
		r, err = eng.Deal(g.RoundNumber+1, players, dealer, s.deck())
		if !errors.Is(err, engine.ErrRedeal) {
			break
		}
		s.logger.Debug("field holds a whole month, redealing", zap.String("game_id", g.ID))
	}
	if err != nil {
		return fmt.Errorf("failed to deal round %d: %w", g.RoundNumber+1, err)
	}

	g.Round = r
	g.RoundNumber = r.Number
	g.Advance = session.AdvanceNone
	g.Confirmed = map[string]bool{}
	g.Touch(s.now())

	for _, id := range g.Humans() {
		s.publish(g, []string{id}, event.RoundDealt, s.snapshot(g, id))
	}
	s.audit.Record(g.ID, dealer, "round_dealt", map[string]any{"round": r.Number})

	if r.Ended() {
		s.endRound(ctx, g, room)
		return nil
	}
	s.armTurn(g, room)
	return nil
}

// dealNext deals the round following an ended one.
func (s *Service) dealNext(ctx context.Context, g *session.Game, room *config.RoomConfig) error {
	return s.deal(ctx, g, room, nextDealer(g))
}

// nextDealer is the winner of the last round; a drawn round keeps the dealer.
func nextDealer(g *session.Game) string {
	if len(g.History) == 0 {
		return g.Players[0].ID
	}
	last := g.History[len(g.History)-1]
	if last.Outcome.WinnerID != "" {
		return last.Outcome.WinnerID
	}
	return last.Dealer
}

// afterTurn publishes a turn and arms whatever the round waits for next. A
// turn suspended on a selection or a decision is not complete: the actor is
// asked to choose and the opponent only learns that the turn is pending.
func (s *Service) afterTurn(ctx context.Context, g *session.Game, room *config.RoomConfig, res *engine.TurnResult, auto bool) {
	g.Touch(s.now())

	switch res.Flow {
	case engine.AwaitingSelection:
		s.armTurn(g, room)
		s.publishHuman(g, res.PlayerID, event.SelectionRequired, SelectionRequiredPayload{
			Selection:        res.Selection,
			RemainingSeconds: s.actionRemaining(g),
		})
		s.publishPending(g, res)
	case engine.AwaitingDecision:
		s.armTurn(g, room)
		s.publishHuman(g, res.PlayerID, event.DecisionRequired, DecisionRequiredPayload{
			Decision:         res.Decision,
			RemainingSeconds: s.actionRemaining(g),
		})
		s.publishPending(g, res)
	case engine.RoundEnded:
		s.publish(g, g.Humans(), event.TurnCompleted, TurnCompletedPayload{Turn: res, Auto: auto})
		s.endRound(ctx, g, room)
	default:
		s.publish(g, g.Humans(), event.TurnCompleted, TurnCompletedPayload{Turn: res, Auto: auto})
		s.armTurn(g, room)
	}
	s.save(g)
}

func (s *Service) publishPending(g *session.Game, res *engine.TurnResult) {
	s.publishHuman(g, g.Opponent(res.PlayerID), event.TurnPending, TurnPendingPayload{
		PlayerID:         res.PlayerID,
		Flow:             res.Flow,
		RemainingSeconds: s.actionRemaining(g),
	})
}

// endRound scores an ended round and either arms the display timer or, when
// the room's round target is reached, finishes the game.
func (s *Service) endRound(ctx context.Context, g *session.Game, room *config.RoomConfig) {
	r := g.Round
	out := r.Outcome
	if out == nil {
		out = &engine.Outcome{Reason: engine.ReasonDrawn, Multiplier: 1}
	}
	if out.WinnerID != "" {
		g.Scores[out.WinnerID] += out.Points
	}
	g.History = append(g.History, session.RoundResult{Number: r.Number, Dealer: r.Dealer, Outcome: *out})
	g.Confirmed = map[string]bool{}
	s.timers.Cancel(timer.GameKey(timer.FamilyBot, g.ID))

	g.Advance = session.AdvanceAuto
	if g.RoundNumber >= room.Rounds {
		g.Advance = session.AdvanceFinal
	}

	payload := RoundEndedPayload{
		RoundNumber: r.Number,
		Reason:      out.Reason,
		Outcome:     out,
		Scores:      copyScores(g.Scores),
		Advance:     g.Advance,
	}
	if g.Advance == session.AdvanceAuto {
		payload.DisplaySeconds = int(room.DisplayTimeout() / time.Second)
	}
	s.publish(g, g.Humans(), event.RoundEnded, payload)
	s.audit.Record(g.ID, out.WinnerID, "round_ended", map[string]any{
		"round":  r.Number,
		"reason": string(out.Reason),
		"points": out.Points,
	})
	s.logger.Info("round ended",
		zap.String("game_id", g.ID),
		zap.Int("round", r.Number),
		zap.String("reason", string(out.Reason)),
		zap.String("winner", out.WinnerID),
		zap.Int("points", out.Points))

	if g.Advance == session.AdvanceFinal {
		s.finish(ctx, g, session.FinishNormal, leader(g))
		return
	}
	s.armDisplay(g, room)
}

// finish moves the game to FINISHED, tears down its timers and records the
// result. A finished game is never touched again.
func (s *Service) finish(ctx context.Context, g *session.Game, reason session.FinishReason, winner string) {
	if !g.Active() {
		return
	}
	g.Status = session.StatusFinished
	g.FinishReason = reason
	g.WinnerID = winner
	g.Touch(s.now())
	s.timers.ClearGame(g.ID)

	s.publish(g, g.Humans(), event.GameFinished, GameFinishedPayload{
		Reason:   reason,
		WinnerID: winner,
		Scores:   copyScores(g.Scores),
		Rounds:   len(g.History),
	})
	s.audit.Record(g.ID, winner, "game_finished", map[string]any{"reason": string(reason), "scores": copyScores(g.Scores)})
	if err := s.stats.RecordResult(ctx, g.Result()); err != nil {
		s.logger.Warn("failed to record game result", zap.String("game_id", g.ID), zap.Error(err))
	}
	s.logger.Info("game finished",
		zap.String("game_id", g.ID),
		zap.String("reason", string(reason)),
		zap.String("winner", winner))
}

// leader returns the player with the highest score, or "" on a tie.
func leader(g *session.Game) string {
	best, bestScore, tied := "", 0, false
	for _, p := range g.Players {
		score := g.Scores[p.ID]
		switch {
		case best == "" || score > bestScore:
			best, bestScore, tied = p.ID, score, false
		case score == bestScore:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return best
}

func copyScores(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Service) publishHuman(g *session.Game, playerID string, t event.Type, payload any) {
	if g.IsBot(playerID) {
		return
	}
	s.publish(g, []string{playerID}, t, payload)
}
