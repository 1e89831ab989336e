package engine

import "fmt"

// Code is a machine-readable validation failure.
type Code string

const (
	CodeWrongPlayer      Code = "WRONG_PLAYER"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeInvalidCard      Code = "INVALID_CARD"
	CodeInvalidTarget    Code = "INVALID_TARGET"
	CodeInvalidSelection Code = "INVALID_SELECTION"
	CodeInvalidDecision  Code = "INVALID_DECISION"
	CodeRedeal           Code = "REDEAL"
)

// Error is a rule violation. Two errors match with errors.Is when their codes
// are equal.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrWrongPlayer      = &Error{Code: CodeWrongPlayer}
	ErrInvalidState     = &Error{Code: CodeInvalidState}
	ErrInvalidCard      = &Error{Code: CodeInvalidCard}
	ErrInvalidTarget    = &Error{Code: CodeInvalidTarget}
	ErrInvalidSelection = &Error{Code: CodeInvalidSelection}
	ErrInvalidDecision  = &Error{Code: CodeInvalidDecision}
	ErrRedeal           = &Error{Code: CodeRedeal, Message: "four cards of one month on the field"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
