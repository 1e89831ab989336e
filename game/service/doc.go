// Package service is the session engine of the Koi-Koi server.
//
// The service package implements:
//   - Game creation, joining and reconnection
//   - Turn processing through the round engine
//   - Round and game progression, including the end-of-round display
//   - The action, idle, continue, disconnect and bot timers of every game
//   - The bridge between the matchmaking pool and new games
//
// Core Interfaces:
//
// GameService is the main service interface used by the HTTP, WebSocket and
// MCP transports. Service implements it and is also the matchmaking.Listener
// and matchmaking.GameChecker of its pool.
//
// Concurrency:
//
// Every operation that reads or changes a game runs under that game's lock
// (package lock). Timer callbacks run outside any lock, take the game lock
// and drop themselves when the game's Version moved on since they were
// armed. The matchmaking pool mutex is always taken before any game lock.
//
// Usage:
//
//	rooms, _ := config.NewManager("configs/rooms")
//	timers := timer.NewRegistry(timer.RealClock(), logger)
//	svc := service.NewGameService(service.Options{
//		Sessions: session.NewManager(logger),
//		Rooms:    rooms,
//		Timers:   timers,
//		Events:   hub,
//		Logger:   logger,
//	})
//
//	res, err := svc.Join(ctx, service.JoinRequest{PlayerID: "alice", RoomType: "QUICK"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = svc.PlayHandCard(ctx, service.PlayRequest{GameID: res.Snapshot.GameID, PlayerID: "alice", Card: 0})
//
// Failures the client can act on are returned as *Error; AsError converts
// any other error to one.
package service
