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

// callbackTimeout bounds how long a timer callback waits for its game lock.
const callbackTimeout = 30 * time.Second

// armWaiting arms the matchmaking timer of a WAITING game.
func (s *Service) armWaiting(g *session.Game, room *config.RoomConfig) {
	id, version := g.ID, g.Version
	s.timers.Schedule(timer.GameKey(timer.FamilyMatchmaking, id), room.MatchmakingTimeout(), func() {
		s.onWaitingExpired(id, version)
	})
}

// armTurn arms the action timer for the player the round waits on. Bot
// seats also get a think delay.
func (s *Service) armTurn(g *session.Game, room *config.RoomConfig) {
	id, version := g.ID, g.Version
	s.timers.ScheduleVisible(timer.GameKey(timer.FamilyAction, id), room.ActionTimeout(), func() {
		s.onActionTimeout(id, version)
	})

	actor := g.Round.Active
	botKey := timer.GameKey(timer.FamilyBot, id)
	if g.IsBot(actor) {
		s.timers.Schedule(botKey, room.BotDelay(), func() { s.onBotTurn(id, version) })
		return
	}
	s.timers.Cancel(botKey)
}

// armDisplay arms the display timer of an ended round. It shares the action
// timer's key: a game shows one countdown at a time.
func (s *Service) armDisplay(g *session.Game, room *config.RoomConfig) {
	id, version := g.ID, g.Version
	s.timers.ScheduleVisible(timer.GameKey(timer.FamilyAction, id), room.DisplayTimeout(), func() {
		s.onDisplayTimeout(id, version)
	})
}

// restartIdle restarts a human's idle timer, arming it on first use.
func (s *Service) restartIdle(g *session.Game, playerID string, room *config.RoomConfig) {
	if g.IsBot(playerID) {
		return
	}
	key := timer.PlayerKey(timer.FamilyIdle, g.ID, playerID)
	if s.timers.Restart(key) {
		return
	}
	id := g.ID
	s.timers.Schedule(key, room.IdleTimeout(), func() { s.onIdle(id, playerID) })
}

// markActive records a command from playerID: an idle prompt is withdrawn
// and the idle timer restarts.
func (s *Service) markActive(g *session.Game, playerID string, room *config.RoomConfig) {
	s.timers.Cancel(timer.PlayerKey(timer.FamilyContinue, g.ID, playerID))
	s.restartIdle(g, playerID, room)
}

func (s *Service) actionRemaining(g *session.Game) int {
	secs, _ := s.timers.Remaining(timer.GameKey(timer.FamilyAction, g.ID))
	return secs
}

// onTimer runs a timer callback under the game lock. A callback that panics
// aborts its own game only.
func (s *Service) onTimer(gameID, name string, fn func(ctx context.Context, g *session.Game) error) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	ctx, span := s.startSpan(ctx, "timer."+name, gameID, "")
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer callback panicked",
				zap.String("game_id", gameID),
				zap.String("timer", name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			finishSpan(span, fmt.Errorf("timer %s panicked: %v", name, r))
			s.abort(gameID)
		}
	}()

	err := s.inGame(ctx, gameID, fn)
	if errors.Is(err, ErrGameNotFound) {
		err = nil
	}
	if err != nil {
		s.logger.Warn("timer callback failed",
			zap.String("game_id", gameID),
			zap.String("timer", name),
			zap.Error(err))
	}
	finishSpan(span, err)
}

// abort finishes a game without a winner and tells its players.
func (s *Service) abort(gameID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("failed to abort game", zap.String("game_id", gameID), zap.Any("panic", r))
			s.timers.ClearGame(gameID)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	err := s.inGame(ctx, gameID, func(ctx context.Context, g *session.Game) error {
		switch g.Status {
		case session.StatusFinished:
			return nil
		case session.StatusWaiting:
			s.discard(g, "", "game_aborted")
			return nil
		}
		s.publish(g, g.Humans(), event.GameError, &Error{
			Code:    CodeInternal,
			Message: "the game was stopped by a server error",
			Action:  ActionReturnHome,
		})
		s.audit.Record(g.ID, "", "game_aborted", nil)
		s.finish(ctx, g, session.FinishAborted, "")
		s.save(g)
		return nil
	})
	if err != nil && !errors.Is(err, ErrGameNotFound) {
		s.logger.Warn("failed to abort game", zap.String("game_id", gameID), zap.Error(err))
	}
}

// current reports whether a callback armed at version still applies.
func current(g *session.Game, version int64) bool {
	return g.Version == version && g.Status == session.StatusInProgress && g.Round != nil
}

func (s *Service) onActionTimeout(gameID string, version int64) {
	s.onTimer(gameID, "action", func(ctx context.Context, g *session.Game) error {
		if !current(g, version) || g.Round.Ended() {
			return nil
		}
		actor := g.Round.Active
		s.logger.Info("action timer expired, playing automatically",
			zap.String("game_id", g.ID),
			zap.String("player_id", actor),
			zap.String("flow_state", string(g.Round.Flow)))
		return s.autoPlay(ctx, g, actor, !g.IsBot(actor))
	})
}

func (s *Service) onBotTurn(gameID string, version int64) {
	s.onTimer(gameID, "bot", func(ctx context.Context, g *session.Game) error {
		if !current(g, version) || g.Round.Ended() || !g.IsBot(g.Round.Active) {
			return nil
		}
		return s.autoPlay(ctx, g, g.Round.Active, false)
	})
}

func (s *Service) onDisplayTimeout(gameID string, version int64) {
	s.onTimer(gameID, "display", func(ctx context.Context, g *session.Game) error {
		if !current(g, version) || !g.Round.Ended() || g.Advance != session.AdvanceAuto {
			return nil
		}
		if err := s.dealNext(ctx, g, s.roomOf(g)); err != nil {
			return err
		}
		s.save(g)
		return nil
	})
}

func (s *Service) onWaitingExpired(gameID string, version int64) {
	s.onTimer(gameID, "matchmaking", func(ctx context.Context, g *session.Game) error {
		if g.Version != version || g.Status != session.StatusWaiting {
			return nil
		}
		s.publish(g, g.Humans(), event.GameError, &Error{
			Code:        CodeMatchmakingTimeout,
			Message:     "no opponent joined in time",
			Recoverable: true,
			Action:      ActionRetryMatchmaking,
		})
		s.discard(g, "", "matchmaking_timeout")
		return nil
	})
}

func (s *Service) onIdle(gameID, playerID string) {
	s.onTimer(gameID, "idle", func(ctx context.Context, g *session.Game) error {
		if g.Status != session.StatusInProgress || !g.HasPlayer(playerID) {
			return nil
		}
		room := s.roomOf(g)
		// Only a player the round is waiting on can be idle.
		if g.Round != nil && !g.Round.Ended() && g.Round.Active != playerID {
			s.restartIdle(g, playerID, room)
			return nil
		}
		key := timer.PlayerKey(timer.FamilyContinue, g.ID, playerID)
		if s.timers.Active(key) {
			return nil
		}
		id := g.ID
		s.timers.ScheduleVisible(key, room.ContinueTimeout(), func() { s.onContinueExpired(id, playerID) })
		s.publish(g, []string{playerID}, event.ContinueRequired, ContinueRequiredPayload{
			TimeoutSeconds: int(room.ContinueTimeout() / time.Second),
		})
		s.audit.Record(g.ID, playerID, "idle_prompt", nil)
		s.logger.Info("player idle, asking to continue", zap.String("game_id", g.ID), zap.String("player_id", playerID))
		return nil
	})
}

func (s *Service) onContinueExpired(gameID, playerID string) {
	s.onTimer(gameID, "continue", func(ctx context.Context, g *session.Game) error {
		if g.Status != session.StatusInProgress || !g.HasPlayer(playerID) {
			return nil
		}
		s.audit.Record(g.ID, playerID, "idle_timeout", nil)
		s.finish(ctx, g, session.FinishOpponentIdle, g.Opponent(playerID))
		s.save(g)
		return nil
	})
}

func (s *Service) onDisconnectExpired(gameID, playerID string) {
	s.onTimer(gameID, "disconnect", func(ctx context.Context, g *session.Game) error {
		if !g.HasPlayer(playerID) {
			return nil
		}
		switch g.Status {
		case session.StatusWaiting:
			s.discard(g, playerID, "creator_disconnected")
		case session.StatusInProgress:
			s.audit.Record(g.ID, playerID, "disconnect_timeout", nil)
			s.finish(ctx, g, session.FinishOpponentDisconnected, g.Opponent(playerID))
			s.save(g)
		}
		return nil
	})
}

// autoPlay makes the move the round waits on for playerID using the bot
// strategy. A human whose decision timed out ends the round rather than
// risking a koi-koi.
func (s *Service) autoPlay(ctx context.Context, g *session.Game, playerID string, timedOut bool) error {
	room := s.roomOf(g)
	eng := s.engineFor(room)
	r := g.Round

	var (
		res *engine.TurnResult
		err error
	)
	switch r.Flow {
	case engine.AwaitingHandPlay:
		card, target := s.strategy.PlayHand(r, playerID)
		res, err = eng.PlayHandCard(r, playerID, card, target)
	case engine.AwaitingSelection:
		target := s.strategy.SelectTarget(r, r.Selection)
		res, err = eng.SelectTarget(r, playerID, r.Selection.Source, target)
	case engine.AwaitingDecision:
		decision := engine.EndRound
		if !timedOut {
			leading := g.Scores[playerID] >= g.Scores[g.Opponent(playerID)]
			decision = s.strategy.Decide(r, playerID, leading)
		}
		res, err = eng.Decide(r, playerID, decision)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("automatic move for %s failed: %w", playerID, err)
	}

	action := "bot_move"
	if timedOut {
		action = "auto_play"
	}
	s.audit.Record(g.ID, playerID, action, map[string]any{"flow_state": string(r.Flow)})
	s.afterTurn(ctx, g, room, res, timedOut)
	return nil
}

// PlayerDisconnected starts the disconnect timer of the player's active game
// and withdraws any matchmaking entry.
func (s *Service) PlayerDisconnected(ctx context.Context, playerID string) {
	if e, ok := s.pool.EntryFor(playerID); ok {
		if _, err := s.pool.Cancel(ctx, e.ID, playerID); err != nil {
			s.logger.Debug("failed to cancel matchmaking entry", zap.String("player_id", playerID), zap.Error(err))
		}
	}

	g := s.sessions.ActiveGameFor(playerID)
	if g == nil {
		return
	}
	err := s.inGame(ctx, g.ID, func(ctx context.Context, g *session.Game) error {
		if !g.Active() || !g.HasPlayer(playerID) {
			return nil
		}
		room := s.roomOf(g)
		id := g.ID
		s.timers.Schedule(timer.PlayerKey(timer.FamilyDisconnect, id, playerID), room.DisconnectTimeout(), func() {
			s.onDisconnectExpired(id, playerID)
		})
		if g.Status == session.StatusInProgress {
			s.publishHuman(g, g.Opponent(playerID), event.GameError, &Error{
				Code:        CodeOpponentDisconnected,
				Message:     "opponent disconnected",
				Recoverable: true,
				Action:      ActionWait,
			})
		}
		s.audit.Record(g.ID, playerID, "disconnected", nil)
		s.logger.Info("player disconnected", zap.String("game_id", g.ID), zap.String("player_id", playerID))
		return nil
	})
	if err != nil && !errors.Is(err, ErrGameNotFound) {
		s.logger.Warn("failed to handle disconnect", zap.String("player_id", playerID), zap.Error(err))
	}
}

// PlayerConnected cancels the disconnect timer of the player's active game
// and sends a snapshot.
func (s *Service) PlayerConnected(ctx context.Context, playerID string) {
	g := s.sessions.ActiveGameFor(playerID)
	if g == nil {
		return
	}
	err := s.inGame(ctx, g.ID, func(ctx context.Context, g *session.Game) error {
		if g.Active() && g.HasPlayer(playerID) {
			s.reconnect(g, playerID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrGameNotFound) {
		s.logger.Warn("failed to handle reconnect", zap.String("player_id", playerID), zap.Error(err))
	}
}

// Restore loads persisted unfinished games and re-arms their timers. It
// returns the number of games restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	games, err := s.sessions.LoadPersistedSessions()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, loaded := range games {
		err := s.inGame(ctx, loaded.ID, func(ctx context.Context, g *session.Game) error {
			room := s.roomOf(g)
			switch {
			case g.Status == session.StatusWaiting:
				s.armWaiting(g, room)
			case g.Round == nil:
				return s.deal(ctx, g, room, g.Players[0].ID)
			case g.Round.Ended() && g.Advance == session.AdvanceAuto:
				s.armDisplay(g, room)
			case !g.Round.Ended():
				s.armTurn(g, room)
			}
			if g.Status == session.StatusInProgress {
				for _, id := range g.Humans() {
					s.restartIdle(g, id, room)
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to restore game", zap.String("game_id", loaded.ID), zap.Error(err))
			continue
		}
		restored++
	}
	s.logger.Info("restored games", zap.Int("count", restored))
	return restored, nil
}

// Sweep drops games finished more than maxAge ago from memory. Stored
// copies are kept.
func (s *Service) Sweep(maxAge time.Duration) int {
	return s.sessions.CleanupFinished(s.now(), maxAge)
}
