// Package websocket pushes game events to players over WebSocket.
//
// The Hub keeps every open connection keyed by player id and implements
// event.Sink, so the session engine publishes to it directly. A player may
// hold several connections (tabs, devices); every one receives the player's
// events.
//
// Message Protocol:
//
// Each frame is one JSON-encoded event.Event:
//
//	{"id": "...", "type": "turn_completed", "game_id": "...", "timestamp": "...", "payload": {...}}
//
// Commands are not read from the socket; clients send them to the HTTP API.
//
// Presence:
//
// When a player's first connection opens the hub calls
// Presence.PlayerConnected, and when the last one closes it calls
// Presence.PlayerDisconnected, which starts the disconnect timer of the
// player's game. Callbacks run in order on their own goroutine.
//
// Usage:
//
//	hub := websocket.NewHub(gameService, logger)
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("player_id"))
//	})
package websocket
