package service

import (
	"time"

	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/yaku"
)

// JoinRequest asks to create, join or reconnect to a game.
type JoinRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	// GameID, when set, names the game to join or reconnect to.
	GameID   string `json:"game_id,omitempty"`
	RoomType string `json:"room_type,omitempty"`
}

// JoinOutcome tells what Join did.
type JoinOutcome string

const (
	JoinCreated     JoinOutcome = "created"
	JoinJoined      JoinOutcome = "joined"
	JoinReconnected JoinOutcome = "reconnected"
)

// JoinResult is returned by Join.
type JoinResult struct {
	Outcome  JoinOutcome `json:"outcome"`
	Snapshot *Snapshot   `json:"snapshot"`
}

// PlayRequest plays a card from the hand.
type PlayRequest struct {
	GameID   string         `json:"game_id"`
	PlayerID string         `json:"player_id"`
	Card     hanafuda.Card  `json:"card"`
	Target   *hanafuda.Card `json:"target,omitempty"`
}

// SelectRequest resolves a pending selection.
type SelectRequest struct {
	GameID   string        `json:"game_id"`
	PlayerID string        `json:"player_id"`
	Source   hanafuda.Card `json:"source"`
	Target   hanafuda.Card `json:"target"`
}

// DecisionRequest answers a koi-koi prompt.
type DecisionRequest struct {
	GameID   string          `json:"game_id"`
	PlayerID string          `json:"player_id"`
	Decision engine.Decision `json:"decision"`
}

// ContinueChoice answers a continue prompt.
type ContinueChoice string

const (
	Continue ContinueChoice = "CONTINUE"
	Leave    ContinueChoice = "LEAVE"
)

// ContinueRequest confirms or abandons a game after an idle prompt or at the
// end of a round.
type ContinueRequest struct {
	GameID   string         `json:"game_id"`
	PlayerID string         `json:"player_id"`
	Choice   ContinueChoice `json:"choice"`
}

// TurnResponse is returned by the turn operations.
type TurnResponse struct {
	Turn     *engine.TurnResult `json:"turn"`
	Snapshot *Snapshot          `json:"snapshot"`
}

// Snapshot is one player's view of a game: enough to rebuild the client
// after a reconnection. The opponent's hand is reduced to a count.
type Snapshot struct {
	GameID       string                `json:"game_id"`
	RoomType     string                `json:"room_type"`
	Status       session.Status        `json:"status"`
	Players      []session.Player      `json:"players"`
	Scores       map[string]int        `json:"scores"`
	RoundNumber  int                   `json:"round_number"`
	TotalRounds  int                   `json:"total_rounds"`
	Advance      session.Advance       `json:"advance,omitempty"`
	FinishReason session.FinishReason  `json:"finish_reason,omitempty"`
	WinnerID     string                `json:"winner_id,omitempty"`
	Version      int64                 `json:"version"`
	Round        *RoundView            `json:"round,omitempty"`
	History      []session.RoundResult `json:"history,omitempty"`
	Timeouts     map[string]int        `json:"timeouts,omitempty"`
	ViewerID     string                `json:"viewer_id"`
}

// RoundView is the part of a Snapshot describing the current round.
type RoundView struct {
	Number            int                        `json:"number"`
	Dealer            string                     `json:"dealer"`
	Active            string                     `json:"active"`
	Flow              engine.FlowState           `json:"flow"`
	Field             []hanafuda.Card            `json:"field"`
	Hand              []hanafuda.Card            `json:"hand"`
	OpponentHandCount int                        `json:"opponent_hand_count"`
	PileCount         int                        `json:"pile_count"`
	Depositories      map[string][]hanafuda.Card `json:"depositories"`
	Combinations      []yaku.Combination         `json:"combinations,omitempty"`
	KoiKoi            map[string]bool            `json:"koikoi"`
	Multiplier        int                        `json:"multiplier"`
	Selection         *engine.PendingSelection   `json:"selection,omitempty"`
	Decision          *engine.PendingDecision    `json:"decision,omitempty"`
	Outcome           *engine.Outcome            `json:"outcome,omitempty"`
	// RemainingSeconds is the visible countdown of the action or display
	// timer; zero when none is running.
	RemainingSeconds int `json:"remaining_seconds,omitempty"`
}

// GameSummary is a listing row.
type GameSummary struct {
	ID          string           `json:"id"`
	RoomType    string           `json:"room_type"`
	Status      session.Status   `json:"status"`
	Players     []session.Player `json:"players"`
	Scores      map[string]int   `json:"scores"`
	RoundNumber int              `json:"round_number"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Event payloads.

type GameStartedPayload struct {
	RoomType    string           `json:"room_type"`
	Players     []session.Player `json:"players"`
	TotalRounds int              `json:"total_rounds"`
}

type TurnCompletedPayload struct {
	Turn *engine.TurnResult `json:"turn"`
	// Auto is set when the server played the turn after the action timer
	// expired.
	Auto bool `json:"auto,omitempty"`
}

// TurnPendingPayload tells the opponent that the active player must choose
// before the turn completes.
type TurnPendingPayload struct {
	PlayerID         string           `json:"player_id"`
	Flow             engine.FlowState `json:"flow"`
	RemainingSeconds int              `json:"remaining_seconds"`
}

type SelectionRequiredPayload struct {
	Selection        *engine.PendingSelection `json:"selection"`
	RemainingSeconds int                      `json:"remaining_seconds"`
}

type DecisionRequiredPayload struct {
	Decision         *engine.PendingDecision `json:"decision"`
	RemainingSeconds int                     `json:"remaining_seconds"`
}

type RoundEndedPayload struct {
	RoundNumber    int              `json:"round_number"`
	Reason         engine.EndReason `json:"reason"`
	Outcome        *engine.Outcome  `json:"outcome"`
	Scores         map[string]int   `json:"scores"`
	Advance        session.Advance  `json:"advance"`
	DisplaySeconds int              `json:"display_seconds,omitempty"`
}

type GameFinishedPayload struct {
	Reason   session.FinishReason `json:"reason"`
	WinnerID string               `json:"winner_id,omitempty"`
	Scores   map[string]int       `json:"scores"`
	Rounds   int                  `json:"rounds"`
}

type ContinueRequiredPayload struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

type MatchmakingStatusPayload struct {
	EntryID        string `json:"entry_id"`
	RoomType       string `json:"room_type"`
	Status         string `json:"status"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Opponent       string `json:"opponent,omitempty"`
}
