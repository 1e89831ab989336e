package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/event"
	"github.com/wricardo/koikoi/game/lock"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
)

// joinAttempts bounds how many WAITING games Join tries before creating one.
const joinAttempts = 3

// inGame runs fn under the game's lock with the live game.
func (s *Service) inGame(ctx context.Context, gameID string, fn func(ctx context.Context, g *session.Game) error) error {
	if gameID == "" {
		return invalidRequest("game_id is required")
	}
	return s.locks.Do(ctx, gameID, func(ctx context.Context) error {
		g, err := s.sessions.Get(gameID)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrInvalidSessionID) {
				return ErrGameNotFound
			}
			return err
		}
		return fn(ctx, g)
	})
}

// Join creates, joins or reconnects to a game.
//
// With a game id, a seated player reconnects and receives a snapshot; anyone
// else takes the free seat of a WAITING game. If the game filled up while the
// caller waited for its lock, a new game is created instead. Without a game
// id, a player already seated somewhere reconnects there, otherwise the
// oldest WAITING game of the room is joined or a new one is created.
//
// A player never takes a second seat: taking a seat fails with
// ErrAlreadyInGame while another game seats them, and with ErrAlreadyInQueue
// while they wait in matchmaking.
func (s *Service) Join(ctx context.Context, req JoinRequest) (res *JoinResult, err error) {
	ctx, span := s.startSpan(ctx, "service.Join", req.GameID, req.PlayerID)
	defer func() { finishSpan(span, err) }()

	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.PlayerID == "" {
		return nil, invalidRequest("player_id is required")
	}
	if req.Name == "" {
		req.Name = req.PlayerID
	}

	return lock.Run(ctx, s.locks, playerLockKey(req.PlayerID), func(ctx context.Context) (*JoinResult, error) {
		return s.join(ctx, req)
	})
}

func (s *Service) join(ctx context.Context, req JoinRequest) (res *JoinResult, err error) {
	if req.GameID != "" {
		res, err = s.joinGame(ctx, req.GameID, req, true)
		if !errors.Is(err, ErrStaleState) {
			return res, err
		}
		s.logger.Debug("game changed before join, creating a new one",
			zap.String("game_id", req.GameID), zap.String("player_id", req.PlayerID))
		return s.createGame(ctx, req, nil)
	}

	if g := s.sessions.ActiveGameFor(req.PlayerID); g != nil {
		res, err = s.joinGame(ctx, g.ID, req, false)
		if err == nil || (!errors.Is(err, ErrStaleState) && !errors.Is(err, ErrGameNotFound)) {
			return res, err
		}
	}

	room, err := s.room(req.RoomType)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < joinAttempts; attempt++ {
		waiting := s.sessions.FindWaiting(room.ID, req.PlayerID)
		if waiting == nil {
			break
		}
		res, err = s.joinGame(ctx, waiting.ID, req, false)
		if errors.Is(err, ErrStaleState) || errors.Is(err, ErrGameNotFound) {
			continue
		}
		return res, err
	}
	return s.createGame(ctx, req, room)
}

// joinGame seats or reconnects the player under the game lock. A game that no
// longer accepts the player yields ErrStaleState.
func (s *Service) joinGame(ctx context.Context, gameID string, req JoinRequest, explicit bool) (*JoinResult, error) {
	var res *JoinResult
	err := s.inGame(ctx, gameID, func(ctx context.Context, g *session.Game) error {
		if g.HasPlayer(req.PlayerID) {
			if !g.Active() && !explicit {
				return ErrStaleState
			}
			s.reconnect(g, req.PlayerID)
			res = &JoinResult{Outcome: JoinReconnected, Snapshot: s.snapshot(g, req.PlayerID)}
			return nil
		}
		if g.Status != session.StatusWaiting || len(g.Players) >= 2 {
			return ErrStaleState
		}
		if req.RoomType != "" && !strings.EqualFold(req.RoomType, g.RoomType) && !explicit {
			return ErrStaleState
		}
		if err := s.checkFree(req.PlayerID, g.ID); err != nil {
			return err
		}

		room := s.roomOf(g)
		g.Players = append(g.Players, session.Player{ID: req.PlayerID, Name: req.Name})
		g.Scores[req.PlayerID] = 0
		if err := s.startGame(ctx, g, room); err != nil {
			return err
		}
		s.save(g)
		res = &JoinResult{Outcome: JoinJoined, Snapshot: s.snapshot(g, req.PlayerID)}
		return nil
	})
	return res, err
}

// createGame opens a WAITING game and arms its matchmaking timer.
func (s *Service) createGame(ctx context.Context, req JoinRequest, room *config.RoomConfig) (*JoinResult, error) {
	if room == nil {
		var err error
		if room, err = s.room(req.RoomType); err != nil {
			return nil, err
		}
	}

	if err := s.checkFree(req.PlayerID, ""); err != nil {
		return nil, err
	}

	g := session.NewGame(uuid.NewString(), room.ID, session.Player{ID: req.PlayerID, Name: req.Name}, s.now())
	return lock.Run(ctx, s.locks, g.ID, func(ctx context.Context) (*JoinResult, error) {
		if err := s.sessions.Create(g); err != nil {
			return nil, err
		}
		s.armWaiting(g, room)
		s.audit.Record(g.ID, req.PlayerID, "game_created", map[string]any{"room_type": room.ID})
		s.logger.Info("game created",
			zap.String("game_id", g.ID),
			zap.String("player_id", req.PlayerID),
			zap.String("room_type", room.ID))
		return &JoinResult{Outcome: JoinCreated, Snapshot: s.snapshot(g, req.PlayerID)}, nil
	})
}

// checkFree fails when playerID holds a seat in a game other than gameID, has
// a live matchmaking entry or has a match still being seated. Callers hold
// the player's lock.
func (s *Service) checkFree(playerID, gameID string) error {
	if g := s.sessions.ActiveGameFor(playerID); g != nil && g.ID != gameID {
		return ErrAlreadyInGame
	}
	if _, queued := s.pool.EntryFor(playerID); queued || s.pool.Seating(playerID) {
		return ErrAlreadyInQueue
	}
	return nil
}

// playerLockKey names the slot that serializes seat changes of one player.
// Player slots are always taken before game slots.
func playerLockKey(playerID string) string {
	return "player/" + playerID
}

// withPlayers runs fn holding the slots of every player in ids, taken in
// sorted order.
func (s *Service) withPlayers(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	var hold func(ctx context.Context, rest []string) error
	hold = func(ctx context.Context, rest []string) error {
		if len(rest) == 0 {
			return fn(ctx)
		}
		return s.locks.Do(ctx, playerLockKey(rest[0]), func(ctx context.Context) error {
			return hold(ctx, rest[1:])
		})
	}
	return hold(ctx, sorted)
}

// reconnect cancels the player's disconnect timer and sends a snapshot. It
// changes nothing else.
func (s *Service) reconnect(g *session.Game, playerID string) {
	s.timers.Cancel(timer.PlayerKey(timer.FamilyDisconnect, g.ID, playerID))
	s.publish(g, []string{playerID}, event.StateSnapshot, s.snapshot(g, playerID))
	s.logger.Debug("player reconnected", zap.String("game_id", g.ID), zap.String("player_id", playerID))
}

// Leave removes a WAITING game or forfeits an IN_PROGRESS one.
func (s *Service) Leave(ctx context.Context, gameID, playerID string) (err error) {
	ctx, span := s.startSpan(ctx, "service.Leave", gameID, playerID)
	defer func() { finishSpan(span, err) }()

	return s.inGame(ctx, gameID, func(ctx context.Context, g *session.Game) error {
		if !g.HasPlayer(playerID) {
			return ErrNotAPlayer
		}
		return s.leaveLocked(ctx, g, playerID, session.FinishOpponentLeft)
	})
}

func (s *Service) leaveLocked(ctx context.Context, g *session.Game, playerID string, reason session.FinishReason) error {
	switch g.Status {
	case session.StatusFinished:
		return ErrGameFinished
	case session.StatusWaiting:
		s.discard(g, playerID, "game_abandoned")
		return nil
	}
	s.audit.Record(g.ID, playerID, "left", map[string]any{"reason": string(reason)})
	s.finish(ctx, g, reason, g.Opponent(playerID))
	s.save(g)
	return nil
}

// discard removes a WAITING game from memory and storage.
func (s *Service) discard(g *session.Game, playerID, action string) {
	s.timers.ClearGame(g.ID)
	if err := s.sessions.Delete(g.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		s.logger.Warn("failed to delete game", zap.String("game_id", g.ID), zap.Error(err))
	}
	s.audit.Record(g.ID, playerID, action, nil)
	s.logger.Info("waiting game removed", zap.String("game_id", g.ID), zap.String("reason", action))
}

// Snapshot returns the game as seen by playerID.
func (s *Service) Snapshot(ctx context.Context, gameID, playerID string) (snap *Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "service.Snapshot", gameID, playerID)
	defer func() { finishSpan(span, err) }()

	err = s.inGame(ctx, gameID, func(ctx context.Context, g *session.Game) error {
		if !g.HasPlayer(playerID) {
			return ErrNotAPlayer
		}
		snap = s.snapshot(g, playerID)
		return nil
	})
	return snap, err
}

// ListGames returns a summary of every live game, oldest first.
func (s *Service) ListGames(ctx context.Context) ([]GameSummary, error) {
	games := s.sessions.List()
	out := make([]GameSummary, 0, len(games))
	for _, g := range games {
		err := s.inGame(ctx, g.ID, func(ctx context.Context, g *session.Game) error {
			c := g.Clone()
			out = append(out, GameSummary{
				ID:          c.ID,
				RoomType:    c.RoomType,
				Status:      c.Status,
				Players:     c.Players,
				Scores:      c.Scores,
				RoundNumber: c.RoundNumber,
				CreatedAt:   c.CreatedAt,
				UpdatedAt:   c.UpdatedAt,
			})
			return nil
		})
		if errors.Is(err, ErrGameNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PlayHandCard plays a card from the acting player's hand.
func (s *Service) PlayHandCard(ctx context.Context, req PlayRequest) (resp *TurnResponse, err error) {
	ctx, span := s.startSpan(ctx, "service.PlayHandCard", req.GameID, req.PlayerID)
	defer func() { finishSpan(span, err) }()

	detail := map[string]any{"card": req.Card.String()}
	if req.Target != nil {
		detail["target"] = req.Target.String()
	}
	return s.turn(ctx, req.GameID, req.PlayerID, "play_hand_card", detail,
		func(eng *engine.GameEngine, r *engine.Round) (*engine.TurnResult, error) {
			return eng.PlayHandCard(r, req.PlayerID, req.Card, req.Target)
		})
}

// SelectTarget resolves a pending selection.
func (s *Service) SelectTarget(ctx context.Context, req SelectRequest) (resp *TurnResponse, err error) {
	ctx, span := s.startSpan(ctx, "service.SelectTarget", req.GameID, req.PlayerID)
	defer func() { finishSpan(span, err) }()

	detail := map[string]any{"source": req.Source.String(), "target": req.Target.String()}
	return s.turn(ctx, req.GameID, req.PlayerID, "select_target", detail,
		func(eng *engine.GameEngine, r *engine.Round) (*engine.TurnResult, error) {
			return eng.SelectTarget(r, req.PlayerID, req.Source, req.Target)
		})
}

// Decide answers a koi-koi prompt.
func (s *Service) Decide(ctx context.Context, req DecisionRequest) (resp *TurnResponse, err error) {
	ctx, span := s.startSpan(ctx, "service.Decide", req.GameID, req.PlayerID)
	defer func() { finishSpan(span, err) }()

	detail := map[string]any{"decision": string(req.Decision)}
	return s.turn(ctx, req.GameID, req.PlayerID, "decide", detail,
		func(eng *engine.GameEngine, r *engine.Round) (*engine.TurnResult, error) {
			return eng.Decide(r, req.PlayerID, req.Decision)
		})
}

type roundOp func(eng *engine.GameEngine, r *engine.Round) (*engine.TurnResult, error)

// turn runs one player command against the current round. Rule violations
// are reported to the player as turn_error events and leave the game as it
// was.
func (s *Service) turn(ctx context.Context, gameID, playerID, action string, detail map[string]any, op roundOp) (*TurnResponse, error) {
	if playerID == "" {
		return nil, invalidRequest("player_id is required")
	}

	var resp *TurnResponse
	err := s.inGame(ctx, gameID, func(ctx context.Context, g *session.Game) error {
		if err := checkPlaying(g, playerID); err != nil {
			return err
		}
		room := s.roomOf(g)
		s.markActive(g, playerID, room)

		res, err := op(s.engineFor(room), g.Round)
		if err != nil {
			s.publish(g, []string{playerID}, event.TurnError, AsError(err))
			s.logger.Debug("turn rejected",
				zap.String("game_id", g.ID),
				zap.String("player_id", playerID),
				zap.String("action", action),
				zap.Error(err))
			return err
		}

		s.audit.Record(g.ID, playerID, action, detail)
		s.afterTurn(ctx, g, room, res, false)
		resp = &TurnResponse{Turn: res, Snapshot: s.snapshot(g, playerID)}
		return nil
	})
	return resp, err
}

func checkPlaying(g *session.Game, playerID string) error {
	switch {
	case !g.HasPlayer(playerID):
		return ErrNotAPlayer
	case g.Status == session.StatusFinished:
		return ErrGameFinished
	case g.Status == session.StatusWaiting || g.Round == nil:
		return ErrGameNotStarted
	}
	return nil
}

// ConfirmContinue answers a continue prompt. CONTINUE clears a pending idle
// prompt, or at the end of a round asks for the next one; the next round is
// dealt as soon as every human has confirmed. LEAVE abandons the game.
func (s *Service) ConfirmContinue(ctx context.Context, req ContinueRequest) (snap *Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "service.ConfirmContinue", req.GameID, req.PlayerID)
	defer func() { finishSpan(span, err) }()

	err = s.inGame(ctx, req.GameID, func(ctx context.Context, g *session.Game) error {
		if !g.HasPlayer(req.PlayerID) {
			return ErrNotAPlayer
		}
		if !g.Active() {
			return ErrGameFinished
		}
		contKey := timer.PlayerKey(timer.FamilyContinue, g.ID, req.PlayerID)

		switch req.Choice {
		case Leave:
			reason := session.FinishOpponentLeft
			if s.timers.Active(contKey) {
				reason = session.FinishOpponentIdle
			}
			if err := s.leaveLocked(ctx, g, req.PlayerID, reason); err != nil {
				return err
			}
		case Continue:
			if g.Status != session.StatusInProgress {
				return ErrGameNotStarted
			}
			room := s.roomOf(g)
			prompted := s.timers.Cancel(contKey)
			s.restartIdle(g, req.PlayerID, room)
			switch {
			case g.Round != nil && g.Round.Ended() && g.Advance == session.AdvanceAuto:
				g.Confirmed[req.PlayerID] = true
				s.audit.Record(g.ID, req.PlayerID, "confirm_next_round", nil)
				// A lone confirmation leaves the version alone so the
				// display timer stays armed.
				if allConfirmed(g) {
					if err := s.dealNext(ctx, g, room); err != nil {
						return err
					}
				}
				s.save(g)
			case prompted:
				s.audit.Record(g.ID, req.PlayerID, "continue", nil)
			default:
				return &engine.Error{Code: engine.CodeInvalidState, Message: "nothing to confirm"}
			}
		default:
			return invalidRequest("choice must be CONTINUE or LEAVE, got %q", req.Choice)
		}
		snap = s.snapshot(g, req.PlayerID)
		return nil
	})
	return snap, err
}

func allConfirmed(g *session.Game) bool {
	for _, id := range g.Humans() {
		if !g.Confirmed[id] {
			return false
		}
	}
	return true
}

// save writes the game through to storage. Failures are logged by the
// manager; memory stays authoritative.
func (s *Service) save(g *session.Game) {
	_ = s.sessions.Save(g)
}

func (s *Service) publish(g *session.Game, recipients []string, t event.Type, payload any) {
	if len(recipients) == 0 {
		return
	}
	s.events.Publish(recipients, event.New(t, g.ID, payload))
}
