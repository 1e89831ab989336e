package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/event"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/session"
)

var _ matchmaking.Listener = (*Service)(nil)

// EnterMatchmaking queues the player in the pool of a room. An empty room
// type selects the default room.
func (s *Service) EnterMatchmaking(ctx context.Context, req matchmaking.EnterRequest) (e matchmaking.Entry, err error) {
	ctx, span := s.startSpan(ctx, "service.EnterMatchmaking", "", req.PlayerID)
	defer func() { finishSpan(span, err) }()

	room, err := s.room(req.RoomType)
	if err != nil {
		return matchmaking.Entry{}, err
	}
	req.RoomType = room.ID
	if req.Name == "" {
		req.Name = req.PlayerID
	}
	return s.pool.Enter(ctx, req)
}

// CancelMatchmaking withdraws an entry.
func (s *Service) CancelMatchmaking(ctx context.Context, entryID, playerID string) (e matchmaking.Entry, err error) {
	ctx, span := s.startSpan(ctx, "service.CancelMatchmaking", "", playerID)
	defer func() { finishSpan(span, err) }()
	return s.pool.Cancel(ctx, entryID, playerID)
}

// ProcessMatchmaking retries pairing an entry.
func (s *Service) ProcessMatchmaking(ctx context.Context, entryID, playerID string) (matchmaking.Entry, error) {
	return s.pool.Process(ctx, entryID, playerID)
}

// GetMatchmaking returns an entry.
func (s *Service) GetMatchmaking(ctx context.Context, entryID string) (matchmaking.Entry, error) {
	return s.pool.Get(entryID)
}

// StatusChanged implements matchmaking.Listener.
func (s *Service) StatusChanged(e matchmaking.Entry, status matchmaking.Status, elapsed time.Duration) {
	s.events.Publish([]string{e.PlayerID}, event.New(event.MatchmakingStatus, "", MatchmakingStatusPayload{
		EntryID:        e.ID,
		RoomType:       e.RoomType,
		Status:         strings.ToLower(string(status)),
		ElapsedSeconds: int(elapsed / time.Second),
		Opponent:       e.MatchedWith,
	}))
}

// Matched implements matchmaking.Listener: it opens an IN_PROGRESS game for
// the pair.
func (s *Service) Matched(m matchmaking.Match) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("starting matched game panicked",
				zap.String("room_type", m.RoomType),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	if _, err := s.startMatch(ctx, m); err != nil {
		fields := []zap.Field{
			zap.String("room_type", m.RoomType),
			zap.String("player_a", m.Players[0].PlayerID),
			zap.String("player_b", m.Players[1].PlayerID),
			zap.Error(err),
		}
		gameErr := &Error{Code: CodeInternal, Message: "could not start the matched game", Recoverable: true, Action: ActionRetryMatchmaking}
		if errors.Is(err, ErrAlreadyInGame) {
			s.logger.Warn("matched player already seated elsewhere", fields...)
			gameErr = &Error{Code: ErrAlreadyInGame.Code, Message: "a matched player is already seated in another game", Recoverable: true, Action: ActionRetryMatchmaking}
		} else {
			s.logger.Error("failed to start matched game", fields...)
		}
		for i, p := range m.Players {
			if m.Bot && i == 1 {
				continue
			}
			s.events.Publish([]string{p.PlayerID}, event.New(event.GameError, "", gameErr))
		}
	}
}

func (s *Service) startMatch(ctx context.Context, m matchmaking.Match) (*session.Game, error) {
	ctx, span := s.startSpan(ctx, "service.startMatch", "", m.Players[0].PlayerID)
	var err error
	defer func() { finishSpan(span, err) }()

	room, err := s.room(m.RoomType)
	if err != nil {
		return nil, err
	}
	first, second := m.Players[0], m.Players[1]
	humans := []string{first.PlayerID}
	if !m.Bot {
		humans = append(humans, second.PlayerID)
	}
	g := session.NewGame(uuid.NewString(), room.ID, session.Player{ID: first.PlayerID, Name: first.Name}, s.now())
	g.Players = append(g.Players, session.Player{ID: second.PlayerID, Name: second.Name, Bot: m.Bot})
	g.Scores[second.PlayerID] = 0

	err = s.withPlayers(ctx, humans, func(ctx context.Context) error {
		// A player may have taken a seat between entering the pool and
		// being paired.
		for _, id := range humans {
			if s.sessions.ActiveGameFor(id) != nil {
				return ErrAlreadyInGame
			}
		}
		return s.locks.Do(ctx, g.ID, func(ctx context.Context) error {
			if err := s.sessions.Create(g); err != nil {
				return err
			}
			if err := s.startGame(ctx, g, room); err != nil {
				return err
			}
			s.save(g)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}
