// Package timer provides the delayed-callback scheduling used by every other
// part of the Koi-Koi server.
//
// The timer package implements:
//   - A Clock abstraction returning cancellable Handles instead of raw timers
//   - A Registry of keyed timers grouped into families
//   - Staged timers (several steps measured from one start instant)
//   - Remaining-time queries for client countdowns
//
// Families:
//
// Each armed timer is identified by a Key made of a Family, a game (or
// matchmaking entry) id and an optional player id:
//
//	FamilyAction       one per game, turn or display countdown
//	FamilyDisconnect   one per (game, player)
//	FamilyIdle         one per (game, player), restartable
//	FamilyContinue     one per (game, player), continue confirmation window
//	FamilyMatchmaking  one per waiting game or matchmaking entry
//	FamilyBot          one per game, bot think delay
//
// Registration semantics:
//
// Scheduling a key that is already armed cancels the previous registration
// first. A callback whose registration was superseded or cancelled never
// runs, even when its underlying timer had already fired and was waiting to
// be dispatched. Cancelling an unknown or already fired key is a no-op.
//
// Usage:
//
//	reg := timer.NewRegistry(timer.RealClock(), logger)
//	key := timer.GameKey(timer.FamilyAction, gameID)
//	reg.Schedule(key, timer.WithBuffer(30*time.Second), onExpire)
//
//	secs, ok := reg.Remaining(key) // never reports less than 1
//	reg.ClearGame(gameID)
package timer
