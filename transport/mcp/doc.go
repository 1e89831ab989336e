// Package mcp exposes the Koi-Koi REST API as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool call becomes one or more REST calls
// against a running server, and results are rendered as text for agents.
//
// MCP Tools:
//   - game_rules, list_rooms
//   - join_game, game_state, wait_for_turn, leave_game
//   - play_card, select_target, decide, continue_game
//   - enter_matchmaking, matchmaking_status, cancel_matchmaking
//
// wait_for_turn polls the player's snapshot until the game needs the player:
// a hand play, a pending selection or decision, a continue prompt, the end
// of a round, or the end of the game.
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//   - HTTP: the /mcp endpoint of the main server hands request bodies to
//     GetMCPServer().HandleMessage
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal(err)
//	}
package mcp
