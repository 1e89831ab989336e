package session

import (
	"time"

	"github.com/wricardo/koikoi/game/engine"
)

// Status is the lifecycle stage of a game. It only moves forward.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// Advance tells what follows an ended round.
type Advance string

const (
	// AdvanceNone: the round is still being played.
	AdvanceNone Advance = ""
	// AdvanceAuto: the next round is dealt when the display timer fires or
	// both players confirm.
	AdvanceAuto Advance = "AUTO"
	// AdvanceFinal: the round target is reached; nothing is dealt.
	AdvanceFinal Advance = "FINAL"
)

// FinishReason explains why a game finished.
type FinishReason string

const (
	FinishNormal               FinishReason = "normal"
	FinishOpponentDisconnected FinishReason = "opponent_disconnected"
	FinishOpponentIdle         FinishReason = "opponent_idle_timeout"
	FinishOpponentLeft         FinishReason = "opponent_left"
	// FinishAborted: a server failure stopped the game without a winner.
	FinishAborted FinishReason = "aborted"
)

// Player is a seat at a game.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Bot  bool   `json:"bot,omitempty"`
}

// RoundResult is the archived outcome of a finished round.
type RoundResult struct {
	Number  int            `json:"number"`
	Dealer  string         `json:"dealer"`
	Outcome engine.Outcome `json:"outcome"`
}

// Game is the aggregate root of one match between two players.
type Game struct {
	ID       string   `json:"id"`
	RoomType string   `json:"room_type"`
	Status   Status   `json:"status"`
	Players  []Player `json:"players"`

	Scores      map[string]int `json:"scores"`
	Round       *engine.Round  `json:"round,omitempty"`
	RoundNumber int            `json:"round_number"`
	History     []RoundResult  `json:"history,omitempty"`
	Advance     Advance        `json:"advance,omitempty"`
	// Confirmed holds the players who asked for the next round early.
	Confirmed map[string]bool `json:"confirmed,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`
	WinnerID     string       `json:"winner_id,omitempty"`

	// Version is bumped by every mutation. Timer callbacks compare it with
	// the version they were armed for.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewGame returns a WAITING game seating its creator.
func NewGame(id, roomType string, creator Player, now time.Time) *Game {
	return &Game{
		ID:        id,
		RoomType:  roomType,
		Status:    StatusWaiting,
		Players:   []Player{creator},
		Scores:    map[string]int{creator.ID: 0},
		Confirmed: map[string]bool{},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Touch records a mutation.
func (g *Game) Touch(now time.Time) {
	g.Version++
	g.UpdatedAt = now
}

// HasPlayer reports whether playerID is seated.
func (g *Game) HasPlayer(playerID string) bool {
	_, ok := g.Player(playerID)
	return ok
}

// Player returns the seat of playerID.
func (g *Game) Player(playerID string) (Player, bool) {
	for _, p := range g.Players {
		if p.ID == playerID {
			return p, true
		}
	}
	return Player{}, false
}

// Opponent returns the other seated player's id.
func (g *Game) Opponent(playerID string) string {
	for _, p := range g.Players {
		if p.ID != playerID {
			return p.ID
		}
	}
	return ""
}

// PlayerIDs returns the seated player ids in seat order.
func (g *Game) PlayerIDs() []string {
	ids := make([]string, len(g.Players))
	for i, p := range g.Players {
		ids[i] = p.ID
	}
	return ids
}

// Humans returns the ids of seated players that are not bots.
func (g *Game) Humans() []string {
	var ids []string
	for _, p := range g.Players {
		if !p.Bot {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// IsBot reports whether playerID is a bot seat.
func (g *Game) IsBot(playerID string) bool {
	p, ok := g.Player(playerID)
	return ok && p.Bot
}

// Active reports whether the game still accepts operations.
func (g *Game) Active() bool {
	return g.Status != StatusFinished
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	out := *g
	out.Players = append([]Player(nil), g.Players...)
	out.Scores = make(map[string]int, len(g.Scores))
	for k, v := range g.Scores {
		out.Scores[k] = v
	}
	out.Confirmed = make(map[string]bool, len(g.Confirmed))
	for k, v := range g.Confirmed {
		out.Confirmed[k] = v
	}
	out.History = append([]RoundResult(nil), g.History...)
	out.Round = g.Round.Clone()
	return &out
}

// Result is the summary of a finished game handed to stats recorders.
type Result struct {
	GameID     string         `json:"game_id"`
	RoomType   string         `json:"room_type"`
	Players    []Player       `json:"players"`
	Scores     map[string]int `json:"scores"`
	WinnerID   string         `json:"winner_id,omitempty"`
	Reason     FinishReason   `json:"reason"`
	Rounds     int            `json:"rounds"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Result summarizes a finished game.
func (g *Game) Result() Result {
	c := g.Clone()
	return Result{
		GameID:     c.ID,
		RoomType:   c.RoomType,
		Players:    c.Players,
		Scores:     c.Scores,
		WinnerID:   c.WinnerID,
		Reason:     c.FinishReason,
		Rounds:     len(c.History),
		FinishedAt: c.UpdatedAt,
	}
}
