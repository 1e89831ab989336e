package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/bot"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/service"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
)

// Player drives one seat through a whole game over the REST API, choosing
// moves with a bot strategy.
type Player struct {
	client       *Client
	strategy     bot.Strategy
	logger       *zap.Logger
	pollInterval time.Duration
	maxErrors    int

	// lastContinue is the version at which a continue prompt was answered.
	lastContinue int64
}

// Summary is the final state of an autoplayed game.
type Summary struct {
	GameID       string
	WinnerID     string
	FinishReason session.FinishReason
	Scores       map[string]int
	Rounds       int
	Moves        int
}

func NewPlayer(client *Client, strategy bot.Strategy, logger *zap.Logger) *Player {
	if strategy == nil {
		strategy = bot.Greedy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{
		client:       client,
		strategy:     strategy,
		logger:       logger.With(zap.String("player_id", client.playerID)),
		pollInterval: 100 * time.Millisecond,
		maxErrors:    10,
	}
}

// Matchmake queues the player and waits until the entry is matched. It
// returns the game the player was seated in.
func (p *Player) Matchmake(ctx context.Context, roomType string) (string, error) {
	entry, err := p.client.EnterMatchmaking(ctx, roomType)
	if err != nil {
		return "", fmt.Errorf("enter matchmaking: %w", err)
	}
	p.logger.Info("queued", zap.String("entry_id", entry.ID), zap.String("room", entry.RoomType))

	for entry.Status.Live() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}
		if entry, err = p.client.ProcessMatchmaking(ctx, entry.ID); err != nil {
			return "", fmt.Errorf("process matchmaking: %w", err)
		}
	}
	if entry.Status != matchmaking.StatusMatched {
		return "", fmt.Errorf("matchmaking ended with status %s", entry.Status)
	}
	p.logger.Info("matched", zap.String("opponent", entry.MatchedWith))

	// Joining without a game id reconnects to the matched game. The server
	// answers ALREADY_IN_QUEUE until the game is seated.
	for failures := 0; ; failures++ {
		res, err := p.client.Join(ctx, roomType, "")
		if err == nil {
			return res.Snapshot.GameID, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != service.ErrAlreadyInQueue.Code || failures >= p.maxErrors {
			return "", fmt.Errorf("join matched game: %w", err)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// Play acts for the player until the game is finished.
func (p *Player) Play(ctx context.Context, gameID string) (*Summary, error) {
	summary := &Summary{GameID: gameID}
	failures := 0

	for {
		snap, err := p.client.Snapshot(ctx, gameID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		if snap.Status == session.StatusFinished {
			summary.WinnerID = snap.WinnerID
			summary.FinishReason = snap.FinishReason
			summary.Scores = snap.Scores
			summary.Rounds = len(snap.History)
			return summary, nil
		}

		acted, err := p.step(ctx, snap)
		switch {
		case err == nil && acted:
			summary.Moves++
			failures = 0
			continue
		case err != nil:
			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.Recoverable {
				return nil, err
			}
			failures++
			if failures > p.maxErrors {
				return nil, fmt.Errorf("giving up after %d rejected moves: %w", failures, err)
			}
			p.logger.Debug("move rejected", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// step makes at most one move for the state in snap. It reports whether a
// move was sent.
func (p *Player) step(ctx context.Context, snap *service.Snapshot) (bool, error) {
	me := p.client.playerID

	if snap.Timeouts[string(timer.FamilyContinue)] > 0 && p.lastContinue != snap.Version {
		p.lastContinue = snap.Version
		return true, p.client.Continue(ctx, snap.GameID, service.Continue)
	}

	view := snap.Round
	if view == nil || snap.Status != session.StatusInProgress {
		return false, nil
	}
	round := roundFromView(view, me)

	switch view.Flow {
	case engine.AwaitingSelection:
		if view.Selection == nil || view.Selection.PlayerID != me {
			return false, nil
		}
		target := p.strategy.SelectTarget(round, view.Selection)
		p.logger.Debug("select", zap.Stringer("source", view.Selection.Source), zap.Stringer("target", target))
		return true, p.client.Select(ctx, snap.GameID, view.Selection.Source, target)

	case engine.AwaitingDecision:
		if view.Decision == nil || view.Decision.PlayerID != me {
			return false, nil
		}
		d := p.strategy.Decide(round, me, leading(snap, me))
		p.logger.Debug("decide", zap.String("decision", string(d)), zap.Int("points", view.Decision.Points))
		return true, p.client.Decide(ctx, snap.GameID, d)

	case engine.AwaitingHandPlay:
		if view.Active != me || len(view.Hand) == 0 {
			return false, nil
		}
		card, target := p.strategy.PlayHand(round, me)
		p.logger.Debug("play", zap.Stringer("card", card))
		return true, p.client.Play(ctx, snap.GameID, card, target)
	}
	return false, nil
}

// roundFromView rebuilds the part of a round a strategy reads from the
// player's view. The opponent's hand stays hidden.
func roundFromView(view *service.RoundView, me string) *engine.Round {
	return &engine.Round{
		Number:       view.Number,
		Dealer:       view.Dealer,
		Active:       view.Active,
		Flow:         view.Flow,
		Field:        view.Field,
		Hands:        map[string][]hanafuda.Card{me: view.Hand},
		Depositories: view.Depositories,
		KoiKoi:       view.KoiKoi,
		Multiplier:   view.Multiplier,
		Selection:    view.Selection,
		Decision:     view.Decision,
	}
}

func leading(snap *service.Snapshot, me string) bool {
	mine := snap.Scores[me]
	for id, score := range snap.Scores {
		if id != me && score > mine {
			return false
		}
	}
	return true
}
