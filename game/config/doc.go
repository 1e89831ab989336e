// Package config provides room configuration management for the Koi-Koi
// server.
//
// A room is a preset that selects how many rounds a game lasts, the
// duration of every timer family (matchmaking, action, display, confirm,
// idle, disconnect), whether a bot may stand in for a missing opponent, and
// the scoring variant.
//
// Three rooms are built in: QUICK, STANDARD (the default) and MARATHON.
// JSON files in the config directory add rooms or override a built-in room
// with the same id:
//
//	{
//	  "id": "QUICK",
//	  "name": "Quick",
//	  "rounds": 3,
//	  "matchmaking_timeout_seconds": 60,
//	  "action_seconds": 15,
//	  "display_seconds": 5,
//	  "confirm_seconds": 10,
//	  "idle_seconds": 45,
//	  "disconnect_seconds": 30,
//	  "bot_fallback": true,
//	  "bot_delay_millis": 800,
//	  "sake_cup_combos": true,
//	  "sake_cup_as_chaff": true
//	}
//
// Usage:
//
//	manager, err := config.NewManager("configs/rooms")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	room, err := manager.LoadConfig("quick")
//	rooms, err := manager.ListConfigs()
//
// Validation:
//
// Every room needs at least one round, positive matchmaking, action, idle
// and disconnect timeouts, and an idle timeout longer than the action
// timeout so the action timer always fires first.
package config
