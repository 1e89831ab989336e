// Package session holds the Game aggregate and the live store of games.
//
// The session package implements:
//   - the Game aggregate: status, seats, cumulative scores, the current round
//     and a version counter bumped by every mutation
//   - Manager, the injectable store created at process start and closed on
//     shutdown
//   - SessionPersistence with a JSON file backend (FilePersistence); a
//     SQLite backend lives in the sqlite subpackage
//
// Concurrency:
//
// The Manager guards its own maps and keeps a small index (status, room,
// seats) so lookups such as FindWaiting never read a Game that another
// goroutine is mutating. Games themselves are mutated only under the
// per-game lock held by the service; Save refreshes the index afterwards.
//
// Usage:
//
//	persistence, err := session.NewFilePersistence("sessions")
//	manager := session.NewManagerWithPersistence(persistence, logger)
//	defer manager.Close()
//
//	game := session.NewGame(id, "QUICK", session.Player{ID: "p1", Name: "Ann"}, time.Now())
//	if err := manager.Create(game); err != nil {
//		return err
//	}
//
// Persistence is advisory: a failed write is logged and the in-memory game
// stays the source of truth for live play.
package session
