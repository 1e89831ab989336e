// Command autoplay plays Koi-Koi games against a running server through the
// REST API, choosing every move with the greedy bot strategy. It is useful
// for smoke-testing a deployment and for filling a room with opponents.
//
// Usage:
//
//	go run ./cmd/autoplay --url http://localhost:8080 --room QUICK --games 3
//	go run ./cmd/autoplay --matchmaking --room STANDARD
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/bot"
	"github.com/wricardo/koikoi/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "autoplay",
		Usage: "Play Koi-Koi games through the REST API with the greedy bot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Game server URL"},
			&cli.StringFlag{Name: "room", Value: "QUICK", Usage: "Room type"},
			&cli.StringFlag{Name: "player", Usage: "Player id (default: random)"},
			&cli.StringFlag{Name: "game", Usage: "Join or resume this game id"},
			&cli.IntFlag{Name: "games", Value: 1, Usage: "Number of games to play"},
			&cli.BoolFlag{Name: "matchmaking", Usage: "Find the opponent through matchmaking"},
			&cli.IntFlag{Name: "koikoi-min-hand", Value: 4, Usage: "Smallest hand at which the bot declares koi-koi"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"v"}, Usage: "Verbose output"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := logging.Must(cmd.Bool("debug"))
	defer logger.Sync()

	playerID := cmd.String("player")
	if playerID == "" {
		playerID = "auto-" + uuid.NewString()[:8]
	}

	client := NewClient(cmd.String("url"), playerID)
	player := NewPlayer(client, bot.Greedy{KoiKoiMinHand: int(cmd.Int("koikoi-min-hand"))}, logger)

	var summaries []*Summary
	gameID := cmd.String("game")
	for i := 0; i < int(cmd.Int("games")); i++ {
		summary, err := playOne(ctx, player, cmd.String("room"), gameID, cmd.Bool("matchmaking"))
		if err != nil {
			return err
		}
		summaries = append(summaries, summary)
		gameID = ""
	}

	return pterm.DefaultTable.WithHasHeader().WithData(summaryTable(playerID, summaries)).Render()
}

func playOne(ctx context.Context, player *Player, room, gameID string, viaMatchmaking bool) (*Summary, error) {
	var err error
	switch {
	case gameID != "":
	case viaMatchmaking:
		gameID, err = player.Matchmake(ctx, room)
	default:
		gameID, err = join(ctx, player, room)
	}
	if err != nil {
		return nil, err
	}

	player.logger.Info("playing", zap.String("game_id", gameID))
	return player.Play(ctx, gameID)
}

// join seats the player in a waiting game of the room or opens a new one.
func join(ctx context.Context, player *Player, room string) (string, error) {
	res, err := player.client.Join(ctx, room, "")
	if err != nil {
		return "", fmt.Errorf("join: %w", err)
	}
	player.logger.Info("joined", zap.String("outcome", string(res.Outcome)), zap.String("game_id", res.Snapshot.GameID))
	return res.Snapshot.GameID, nil
}

func summaryTable(playerID string, summaries []*Summary) pterm.TableData {
	data := pterm.TableData{{"Game", "Result", "Reason", "Score", "Opponent", "Rounds", "Moves"}}
	for _, s := range summaries {
		result := "lost"
		switch s.WinnerID {
		case playerID:
			result = "won"
		case "":
			result = "draw"
		}
		opponent := 0
		for id, score := range s.Scores {
			if id != playerID {
				opponent = score
			}
		}
		data = append(data, []string{
			s.GameID,
			result,
			string(s.FinishReason),
			fmt.Sprint(s.Scores[playerID]),
			fmt.Sprint(opponent),
			fmt.Sprint(s.Rounds),
			fmt.Sprint(s.Moves),
		})
	}
	return data
}
