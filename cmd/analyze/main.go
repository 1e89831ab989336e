// Command analyze prints a human-readable review of the room presets: the
// built-in rooms plus every JSON file in the config directory. For each room
// it shows the timer budget, the longest a game can run when every player
// waits out every timer, and the combinations the room's rule variant scores
// when one player captures the whole deck. Rooms whose timers contradict each
// other are flagged.
//
// Usage:
//
//	go run ./cmd/analyze [config-dir]
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/yaku"
)

// turnsPerRound is the number of hand plays in a round: eight cards each.
const turnsPerRound = 16

// RoomAnalysis is the review of one room.
type RoomAnalysis struct {
	Room        *config.RoomConfig
	Warnings    []string
	LongestGame time.Duration
	FullCapture []yaku.Combination
}

func main() {
	dir := "configs/rooms"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	manager, err := config.NewManager(dir)
	if err != nil {
		pterm.Error.Printfln("Failed to open %s: %v", dir, err)
		os.Exit(1)
	}

	analyses, err := analyzeAll(manager)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	pterm.DefaultSection.Println("Rooms")
	if err := pterm.DefaultTable.WithHasHeader().WithData(roomTable(analyses)).Render(); err != nil {
		pterm.Error.Println(err)
	}

	for _, a := range analyses {
		pterm.DefaultSection.WithLevel(2).Printfln("%s (%s)", a.Room.Name, a.Room.ID)
		if err := pterm.DefaultTable.WithHasHeader().WithData(captureTable(a.FullCapture)).Render(); err != nil {
			pterm.Error.Println(err)
		}
		if len(a.Warnings) == 0 {
			pterm.Success.Println("Timers are consistent")
			continue
		}
		for _, w := range a.Warnings {
			pterm.Warning.Println(w)
		}
	}
}

// analyzeAll reviews every room the manager knows.
func analyzeAll(manager *config.Manager) ([]RoomAnalysis, error) {
	rooms, err := manager.ListConfigs()
	if err != nil {
		return nil, err
	}

	var analyses []RoomAnalysis
	for _, info := range rooms {
		room, err := manager.LoadConfig(info.ID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", info.ID, err)
		}
		analyses = append(analyses, analyzeRoom(room))
	}
	return analyses, nil
}

func analyzeRoom(room *config.RoomConfig) RoomAnalysis {
	a := RoomAnalysis{
		Room:        room,
		FullCapture: room.Evaluator().Evaluate(hanafuda.NewDeck()),
	}

	if err := config.ValidateRoomConfig(room); err != nil {
		a.Warnings = append(a.Warnings, err.Error())
	}
	if room.IdleSeconds > 0 && room.ContinueTimeout() >= room.IdleTimeout() {
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"continue window (%s) is not shorter than the idle timeout (%s)",
			room.ContinueTimeout(), room.IdleTimeout()))
	}
	if room.DisconnectSeconds > room.IdleSeconds && room.IdleSeconds > 0 {
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"disconnect grace (%s) outlasts the idle timeout (%s)",
			room.DisconnectTimeout(), room.IdleTimeout()))
	}
	if !room.BotFallback {
		a.Warnings = append(a.Warnings, "no bot fallback: matchmaking fails when no opponent shows up")
	}

	perRound := turnsPerRound*room.ActionTimeout() + room.ContinueTimeout()
	a.LongestGame = time.Duration(room.Rounds) * perRound
	return a
}

func roomTable(analyses []RoomAnalysis) pterm.TableData {
	data := pterm.TableData{
		{"ID", "Rounds", "Action", "Continue", "Idle", "Disconnect", "Matchmaking", "Bots", "Longest game"},
	}
	for _, a := range analyses {
		r := a.Room
		data = append(data, []string{
			r.ID,
			strconv.Itoa(r.Rounds),
			r.ActionTimeout().String(),
			r.ContinueTimeout().String(),
			r.IdleTimeout().String(),
			r.DisconnectTimeout().String(),
			r.MatchmakingTimeout().String(),
			strconv.FormatBool(r.BotFallback),
			a.LongestGame.String(),
		})
	}
	return data
}

func captureTable(combos []yaku.Combination) pterm.TableData {
	data := pterm.TableData{{"Combination", "Points", "Cards"}}
	for _, c := range combos {
		data = append(data, []string{string(c.Type), strconv.Itoa(c.Points), strconv.Itoa(len(c.Cards))})
	}
	data = append(data, []string{pterm.Bold.Sprint("total"), strconv.Itoa(yaku.Total(combos)), ""})
	return data
}
