// Package api provides the HTTP REST API of the Koi-Koi server.
//
// The api package implements:
//   - Game creation, joining, reconnection and leaving
//   - Turn commands: play, select, decide and continue
//   - Matchmaking entry, status, cancellation and processing
//   - Room preset listing
//   - WebSocket upgrade for server-pushed events
//
// Endpoints:
//
// Games:
//   - GET /api/games - List live games (optional ?status=WAITING|IN_PROGRESS|FINISHED)
//   - POST /api/games/join - Create, join or reconnect
//   - GET /api/games/{id}?player_id= - Player snapshot
//   - POST /api/games/{id}/leave
//
// Turns:
//   - POST /api/games/{id}/play - {"player_id", "card", "target"}
//   - POST /api/games/{id}/select - {"player_id", "source", "target"}
//   - POST /api/games/{id}/decide - {"player_id", "decision": "KOI_KOI|END_ROUND"}
//   - POST /api/games/{id}/continue - {"player_id", "choice": "CONTINUE|LEAVE"}
//
// Cards are given by id (0-47) or by name such as "pine-crane".
//
// Matchmaking:
//   - POST /api/matchmaking - Enter the pool
//   - GET /api/matchmaking/{id}
//   - POST /api/matchmaking/{id}/cancel
//   - POST /api/matchmaking/{id}/process
//
// Players:
//   - GET /api/players/{id}/active
//   - GET /api/players/{id}/stats (with WithRecords)
//   - GET /api/games/{id}/audit (with WithRecords)
//
// Rooms:
//   - GET /api/rooms
//   - GET /api/rooms/{id}, POST /api/rooms (with WithRooms)
//
// Usage:
//
//	server := api.NewServer(svc, hub, api.WithRooms(rooms), api.WithLogger(logger))
//	http.ListenAndServe(":8080", server)
//
// Error Handling:
//
// Service failures are returned with an HTTP status derived from their code:
//
//	{
//	  "error": "card pine-crane is not in hand",
//	  "code": "INVALID_CARD",
//	  "recoverable": true,
//	  "action": "retry"
//	}
//
// Malformed requests return {"error": "..."} with status 400.
package api
