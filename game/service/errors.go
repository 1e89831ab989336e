package service

import (
	"errors"
	"fmt"

	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/matchmaking"
)

// Code is a machine-readable failure reported to clients.
type Code string

const (
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeGameNotFound         Code = "GAME_NOT_FOUND"
	CodeNotAPlayer           Code = "NOT_A_PLAYER"
	CodeGameFinished         Code = "GAME_FINISHED"
	CodeGameNotStarted       Code = "GAME_NOT_STARTED"
	CodeRoomNotFound         Code = "ROOM_NOT_FOUND"
	CodeStaleState           Code = "STALE_STATE"
	CodeMatchmakingTimeout   Code = "MATCHMAKING_TIMEOUT"
	CodeOpponentDisconnected Code = "OPPONENT_DISCONNECTED"
	CodeInternal             Code = "INTERNAL"
)

// Action is the next step a client is advised to take after a failure.
type Action string

const (
	ActionRetry            Action = "retry"
	ActionRetryMatchmaking Action = "retry_matchmaking"
	ActionReturnHome       Action = "return_home"
	ActionReconnect        Action = "reconnect"
	ActionWait             Action = "wait"
)

// Error is the error type returned by every service operation that fails for
// a reason the client can act on. errors.Is matches on Code.
type Error struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Action      Action `json:"action,omitempty"`
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
	ErrInvalidRequest = &Error{Code: CodeInvalidRequest, Message: "invalid request", Recoverable: true, Action: ActionRetry}
	ErrGameNotFound   = &Error{Code: CodeGameNotFound, Message: "game not found", Action: ActionReturnHome}
	ErrNotAPlayer     = &Error{Code: CodeNotAPlayer, Message: "player is not seated in this game", Action: ActionReturnHome}
	ErrGameFinished   = &Error{Code: CodeGameFinished, Message: "game is finished", Action: ActionReturnHome}
	ErrGameNotStarted = &Error{Code: CodeGameNotStarted, Message: "game is still waiting for an opponent", Recoverable: true, Action: ActionWait}
	ErrRoomNotFound   = &Error{Code: CodeRoomNotFound, Message: "room type not found", Recoverable: true, Action: ActionRetry}

	ErrAlreadyInGame  = &Error{Code: Code(matchmaking.CodeAlreadyInGame), Message: "player is already seated in another game", Recoverable: true, Action: ActionReconnect}
	ErrAlreadyInQueue = &Error{Code: Code(matchmaking.CodeAlreadyInQueue), Message: "player is waiting in matchmaking", Recoverable: true, Action: ActionWait}

	// ErrStaleState reports that a game changed while the caller waited for
	// its lock. Join absorbs it by creating a new game.
	ErrStaleState = &Error{Code: CodeStaleState, Message: "game changed while waiting", Recoverable: true, Action: ActionRetry}
)

func invalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...), Recoverable: true, Action: ActionRetry}
}

// AsError converts any error returned by the service into an *Error. Rule
// violations from the round engine and the matchmaking pool keep their codes.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return &Error{Code: Code(ee.Code), Message: ee.Error(), Recoverable: true, Action: ActionRetry}
	}
	var me *matchmaking.Error
	if errors.As(err, &me) {
		return &Error{Code: Code(me.Code), Message: me.Message, Recoverable: true, Action: ActionRetryMatchmaking}
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Recoverable: true, Action: ActionRetry}
}

// IsValidation reports whether err is a rule violation by the caller rather
// than a session or server failure.
func IsValidation(err error) bool {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return true
	}
	var me *matchmaking.Error
	if errors.As(err, &me) {
		return true
	}
	return errors.Is(err, ErrInvalidRequest)
}
