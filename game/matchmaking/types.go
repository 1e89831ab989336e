package matchmaking

import (
	"fmt"
	"time"
)

// Status is the state of a matchmaking entry.
type Status string

const (
	StatusSearching       Status = "SEARCHING"
	StatusLowAvailability Status = "LOW_AVAILABILITY"
	StatusMatched         Status = "MATCHED"
	StatusCancelled       Status = "CANCELLED"
	// StatusFailed is only reported to listeners: the fallback deadline
	// passed in a room without bot fallback. The entry itself ends
	// CANCELLED.
	StatusFailed Status = "FAILED"
)

// Live reports whether an entry in this status is still queued.
func (s Status) Live() bool {
	return s == StatusSearching || s == StatusLowAvailability
}

// Fixed deadlines measured from the entry time.
const (
	EscalateAfter = 10 * time.Second
	FallbackAfter = 15 * time.Second
)

// Entry is one player waiting for an opponent.
type Entry struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Name      string    `json:"name"`
	RoomType  string    `json:"room_type"`
	Status    Status    `json:"status"`
	EnteredAt time.Time `json:"entered_at"`
	// MatchedWith is the opponent's player id once MATCHED.
	MatchedWith string `json:"matched_with,omitempty"`
}

// EnterRequest asks to join the pool.
type EnterRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	RoomType string `json:"room_type"`
}

// Match pairs two entries of one room. Players[0] entered first. With Bot
// set, Players[1] is a synthesized bot entry.
type Match struct {
	RoomType string   `json:"room_type"`
	Players  [2]Entry `json:"players"`
	Bot      bool     `json:"bot"`
}

// Listener is told about every status change and every match. Calls are made
// without the pool lock held, after both sides of a match are updated.
type Listener interface {
	StatusChanged(e Entry, status Status, elapsed time.Duration)
	Matched(m Match)
}

// GameChecker answers whether a player already has an active game.
type GameChecker interface {
	HasActiveGame(playerID string) bool
}

// GameCheckerFunc adapts a function to GameChecker.
type GameCheckerFunc func(playerID string) bool

// HasActiveGame implements GameChecker.
func (f GameCheckerFunc) HasActiveGame(playerID string) bool { return f(playerID) }

// Code is a machine-readable matchmaking failure.
type Code string

const (
	CodeAlreadyInQueue Code = "ALREADY_IN_QUEUE"
	CodeAlreadyInGame  Code = "ALREADY_IN_GAME"
	CodeEntryNotFound  Code = "ENTRY_NOT_FOUND"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeNotInQueue     Code = "NOT_IN_QUEUE"
	CodeInvalidRequest Code = "INVALID_REQUEST"
)

// Error is a matchmaking rule violation; errors.Is matches on Code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyInQueue = &Error{Code: CodeAlreadyInQueue, Message: "player already has a live entry"}
	ErrAlreadyInGame  = &Error{Code: CodeAlreadyInGame, Message: "player already has an active game"}
	ErrEntryNotFound  = &Error{Code: CodeEntryNotFound, Message: "entry not found"}
	ErrUnauthorized   = &Error{Code: CodeUnauthorized, Message: "entry belongs to another player"}
	ErrNotInQueue     = &Error{Code: CodeNotInQueue, Message: "entry is no longer queued"}
	ErrInvalidRequest = &Error{Code: CodeInvalidRequest, Message: "player id and room type are required"}
)
