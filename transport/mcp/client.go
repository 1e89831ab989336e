package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/service"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
)

const (
	defaultWaitSeconds = 30
	maxWaitSeconds     = 120
	pollInterval       = 500 * time.Millisecond
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	mcpServer    *server.MCPServer
	pollInterval time.Duration
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		pollInterval: pollInterval,
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Koi-Koi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Koi-Koi - MCP Interface

This is a thin client that proxies all requests to the REST API server.

Every tool takes your player_id. Pick one and keep it for the whole game.

TYPICAL FLOW:
1. join_game (or enter_matchmaking, then matchmaking_status until MATCHED)
2. wait_for_turn until it is your move
3. play_card, then select_target or decide when the game asks for it
4. continue_game at the end of each round or when asked if you are still there

AVAILABLE TOOLS:
- game_rules: How Koi-Koi is played and scored
- list_rooms: Room presets (rounds and timers)
- join_game: Create, join or reconnect to a game
- game_state: Your view of a game
- wait_for_turn: Block until it is your move or the game ends
- play_card: Play a card from your hand
- select_target: Choose which field card to capture
- decide: KOI_KOI or END_ROUND after forming a combination
- continue_game: CONTINUE or LEAVE when prompted
- leave_game: Abandon a game
- enter_matchmaking / matchmaking_status / cancel_matchmaking

Cards are numbered 0-47, four per month; names such as "pine-crane" are accepted too.
If you do not act before your action timer runs out the server plays for you.`),
	)

	c.registerTools()
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func cardProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        []string{"integer", "string"},
		"description": description + " (card id 0-47 or card name)",
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	playerID := stringProp("Your player ID")
	gameID := stringProp("Game ID")

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_rules",
		Description: "Get the rules of Koi-Koi: dealing, capturing, combinations and scoring",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameRules)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List room presets with their number of rounds",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRooms)

	// Games
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join_game",
		Description: "Create a game, join the oldest waiting game of a room, or reconnect to a game you are seated in",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"name":      stringProp("Display name (optional)"),
				"game_id":   stringProp("Game to join or reconnect to (optional)"),
				"room_type": stringProp("Room preset, e.g. QUICK or STANDARD (optional)"),
			},
			Required: []string{"player_id"},
		},
	}, c.handleJoin)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_state",
		Description: "Get your view of a game: hand, field, captures, scores and what the game is waiting for",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
			},
			Required: []string{"player_id", "game_id"},
		},
	}, c.handleGameState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "wait_for_turn",
		Description: "Wait until the game needs something from you, or the game finishes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum wait (default %d, max %d)", defaultWaitSeconds, maxWaitSeconds),
				},
			},
			Required: []string{"player_id", "game_id"},
		},
	}, c.handleWaitForTurn)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_game",
		Description: "Abandon a game. An in-progress game is awarded to your opponent",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
			},
			Required: []string{"player_id", "game_id"},
		},
	}, c.handleLeave)

	// Turns
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "play_card",
		Description: "Play a card from your hand. When two field cards match it you may name the target; otherwise the game asks with select_target",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
				"card":      cardProp("Card from your hand"),
				"target":    cardProp("Field card to capture (optional)"),
				"intent": stringProp("Brief explanation of why you play this card " +
					"(serves as a rubber duck to help explain your reasoning)"),
			},
			Required: []string{"player_id", "game_id", "card"},
		},
	}, c.handlePlayCard)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "select_target",
		Description: "Resolve a pending selection by choosing one of the candidate field cards",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
				"source":    cardProp("The card being matched"),
				"target":    cardProp("Candidate field card to capture"),
			},
			Required: []string{"player_id", "game_id", "source", "target"},
		},
	}, c.handleSelectTarget)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "decide",
		Description: "After forming a combination, keep playing for more (KOI_KOI) or take the points now (END_ROUND)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
				"decision": map[string]interface{}{
					"type":        "string",
					"enum":        []string{string(engine.KoiKoi), string(engine.EndRound)},
					"description": "Your decision",
				},
				"intent": stringProp("Brief explanation of your decision"),
			},
			Required: []string{"player_id", "game_id", "decision"},
		},
	}, c.handleDecide)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "continue_game",
		Description: "Confirm you want to go on after a round ends or after an inactivity prompt",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"game_id":   gameID,
				"choice": map[string]interface{}{
					"type":        "string",
					"enum":        []string{string(service.Continue), string(service.Leave)},
					"description": "CONTINUE (default) or LEAVE",
				},
			},
			Required: []string{"player_id", "game_id"},
		},
	}, c.handleContinue)

	// Matchmaking
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "enter_matchmaking",
		Description: "Queue for an opponent. After 15 seconds without one, rooms with bots pair you with a bot",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": playerID,
				"name":      stringProp("Display name (optional)"),
				"room_type": stringProp("Room preset"),
			},
			Required: []string{"player_id", "room_type"},
		},
	}, c.handleEnterMatchmaking)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "matchmaking_status",
		Description: "Check a matchmaking entry. Once MATCHED, join_game reconnects you to the new game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entry_id":  stringProp("Matchmaking entry ID"),
				"player_id": playerID,
			},
			Required: []string{"entry_id", "player_id"},
		},
	}, c.handleMatchmakingStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "cancel_matchmaking",
		Description: "Leave the matchmaking queue",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entry_id":  stringProp("Matchmaking entry ID"),
				"player_id": playerID,
			},
			Required: []string{"entry_id", "player_id"},
		},
	}, c.handleCancelMatchmaking)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// APIError is a failed REST call.
type APIError struct {
	Status      int
	Message     string
	Code        string
	Recoverable bool
	Action      string
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if e.Action != "" {
		fmt.Fprintf(&b, " (suggested action: %s)", e.Action)
	}
	return b.String()
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error       string `json:"error"`
			Code        string `json:"code"`
			Recoverable bool   `json:"recoverable"`
			Action      string `json:"action"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error == "" {
			errResp.Error = fmt.Sprintf("API error: %d", resp.StatusCode)
		}
		return &APIError{
			Status:      resp.StatusCode,
			Message:     errResp.Error,
			Code:        errResp.Code,
			Recoverable: errResp.Recoverable,
			Action:      errResp.Action,
		}
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// cardArg passes card ids through as numbers and names as strings; the REST
// API accepts both.
func cardArg(args map[string]interface{}, key string) interface{} {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		if c, err := hanafuda.Parse(strings.TrimSpace(v)); err == nil {
			return int(c)
		}
		return v
	}
	return nil
}

func requireArgs(args map[string]interface{}, keys ...string) *mcp.CallToolResult {
	var missing []string
	for _, k := range keys {
		if v, ok := args[k]; !ok || v == nil || v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return mcp.NewToolResultError("missing required argument(s): " + strings.Join(missing, ", "))
	}
	return nil
}

func gamePath(gameID, suffix string) string {
	return "/api/games/" + url.PathEscape(gameID) + suffix
}

// Tool handlers

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var rooms []config.RoomInfo
	if err := c.apiCall(ctx, "GET", "/api/rooms", nil, &rooms); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := "Available Rooms:\n\n"
	for _, room := range rooms {
		bots := ""
		if room.BotFallback {
			bots = ", bot fallback"
		}
		result += fmt.Sprintf("• %s (%s)\n  %s\n  Rounds: %d%s\n\n",
			room.ID, room.Name, room.Description, room.Rounds, bots)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleJoin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id"); res != nil {
		return res, nil
	}

	body := service.JoinRequest{
		PlayerID: stringArg(args, "player_id"),
		Name:     stringArg(args, "name"),
		GameID:   stringArg(args, "game_id"),
		RoomType: stringArg(args, "room_type"),
	}

	var res service.JoinResult
	if err := c.apiCall(ctx, "POST", "/api/games/join", body, &res); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Join outcome: %s\n\n%s", res.Outcome, formatSnapshot(res.Snapshot))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) snapshot(ctx context.Context, gameID, playerID string) (*service.Snapshot, error) {
	var snap service.Snapshot
	path := gamePath(gameID, "?player_id="+url.QueryEscape(playerID))
	if err := c.apiCall(ctx, "GET", path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) handleGameState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id"); res != nil {
		return res, nil
	}

	snap, err := c.snapshot(ctx, stringArg(args, "game_id"), stringArg(args, "player_id"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSnapshot(snap)), nil
}

func (c *Client) handleWaitForTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id"); res != nil {
		return res, nil
	}
	gameID, playerID := stringArg(args, "game_id"), stringArg(args, "player_id")

	wait := defaultWaitSeconds
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		wait = int(v)
	}
	if wait > maxWaitSeconds {
		wait = maxWaitSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(wait)*time.Second)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		snap, err := c.snapshot(ctx, gameID, playerID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		if reason := needsAttention(snap, playerID); reason != "" {
			return mcp.NewToolResultText(reason + "\n\n" + formatSnapshot(snap)), nil
		}

		select {
		case <-ctx.Done():
			snap, err := c.snapshot(context.Background(), gameID, playerID)
			if err != nil {
				return mcp.NewToolResultText(fmt.Sprintf("Still waiting after %ds.", wait)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Still waiting after %ds.\n\n%s", wait, formatSnapshot(snap))), nil
		case <-ticker.C:
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("Still waiting after %ds.", wait)), nil
}

// needsAttention returns why the snapshot needs playerID, or "".
func needsAttention(snap *service.Snapshot, playerID string) string {
	if snap.Status == session.StatusFinished {
		return "The game is finished."
	}
	if snap.Timeouts[string(timer.FamilyContinue)] > 0 {
		return "The server asks whether you are still there: call continue_game."
	}
	if snap.Round == nil {
		return ""
	}
	switch snap.Round.Flow {
	case engine.RoundEnded:
		return "The round ended: call continue_game to go on."
	case engine.AwaitingSelection:
		if snap.Round.Selection != nil && snap.Round.Selection.PlayerID == playerID {
			return "Choose a target with select_target."
		}
	case engine.AwaitingDecision:
		if snap.Round.Decision != nil && snap.Round.Decision.PlayerID == playerID {
			return "You formed a combination: call decide."
		}
	case engine.AwaitingHandPlay:
		if snap.Round.Active == playerID {
			return "It is your turn: call play_card."
		}
	}
	return ""
}

func (c *Client) handleLeave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id"); res != nil {
		return res, nil
	}
	gameID := stringArg(args, "game_id")

	var resp struct {
		Message string `json:"message"`
	}
	body := map[string]string{"player_id": stringArg(args, "player_id")}
	if err := c.apiCall(ctx, "POST", gamePath(gameID, "/leave"), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(resp.Message), nil
}

func (c *Client) handlePlayCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id", "card"); res != nil {
		return res, nil
	}

	// Intent parameter serves as rubber duck debugging - we don't need to process it further
	_ = stringArg(args, "intent")

	body := map[string]interface{}{
		"player_id": stringArg(args, "player_id"),
		"card":      cardArg(args, "card"),
	}
	if target := cardArg(args, "target"); target != nil {
		body["target"] = target
	}

	var resp service.TurnResponse
	if err := c.apiCall(ctx, "POST", gamePath(stringArg(args, "game_id"), "/play"), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTurnResponse(&resp)), nil
}

func (c *Client) handleSelectTarget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id", "source", "target"); res != nil {
		return res, nil
	}

	body := map[string]interface{}{
		"player_id": stringArg(args, "player_id"),
		"source":    cardArg(args, "source"),
		"target":    cardArg(args, "target"),
	}

	var resp service.TurnResponse
	if err := c.apiCall(ctx, "POST", gamePath(stringArg(args, "game_id"), "/select"), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTurnResponse(&resp)), nil
}

func (c *Client) handleDecide(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id", "decision"); res != nil {
		return res, nil
	}

	body := map[string]string{
		"player_id": stringArg(args, "player_id"),
		"decision":  strings.ToUpper(stringArg(args, "decision")),
	}

	var resp service.TurnResponse
	if err := c.apiCall(ctx, "POST", gamePath(stringArg(args, "game_id"), "/decide"), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTurnResponse(&resp)), nil
}

func (c *Client) handleContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "game_id"); res != nil {
		return res, nil
	}

	choice := strings.ToUpper(stringArg(args, "choice"))
	if choice == "" {
		choice = string(service.Continue)
	}
	body := map[string]string{
		"player_id": stringArg(args, "player_id"),
		"choice":    choice,
	}

	var snap service.Snapshot
	if err := c.apiCall(ctx, "POST", gamePath(stringArg(args, "game_id"), "/continue"), body, &snap); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSnapshot(&snap)), nil
}

func (c *Client) handleEnterMatchmaking(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "player_id", "room_type"); res != nil {
		return res, nil
	}

	body := matchmaking.EnterRequest{
		PlayerID: stringArg(args, "player_id"),
		Name:     stringArg(args, "name"),
		RoomType: stringArg(args, "room_type"),
	}

	var entry matchmaking.Entry
	if err := c.apiCall(ctx, "POST", "/api/matchmaking", body, &entry); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatEntry(&entry)), nil
}

func (c *Client) handleMatchmakingStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "entry_id", "player_id"); res != nil {
		return res, nil
	}
	entryID := url.PathEscape(stringArg(args, "entry_id"))

	// Processing re-checks the queue before reporting.
	var entry matchmaking.Entry
	body := map[string]string{"player_id": stringArg(args, "player_id")}
	err := c.apiCall(ctx, "POST", "/api/matchmaking/"+entryID+"/process", body, &entry)
	if apiErr, ok := err.(*APIError); ok && apiErr.Code == string(matchmaking.CodeNotInQueue) {
		err = c.apiCall(ctx, "GET", "/api/matchmaking/"+entryID, nil, &entry)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatEntry(&entry)), nil
}

func (c *Client) handleCancelMatchmaking(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if res := requireArgs(args, "entry_id", "player_id"); res != nil {
		return res, nil
	}

	var entry matchmaking.Entry
	body := map[string]string{"player_id": stringArg(args, "player_id")}
	path := "/api/matchmaking/" + url.PathEscape(stringArg(args, "entry_id")) + "/cancel"
	if err := c.apiCall(ctx, "POST", path, body, &entry); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatEntry(&entry)), nil
}

func (c *Client) handleGameRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(rules), nil
}

const rules = `Koi-Koi - Rules

THE DECK:
48 cards, four per month. Months 1-12 are pine, plum, cherry, wisteria, iris,
peony, bush clover, pampas, chrysanthemum, maple, willow and paulownia.
Card ids run in month order: 0-3 are pine, 4-7 plum, and so on.
Each card is a bright, an animal, a ribbon or a chaff.

THE DEAL:
Each player gets 8 cards, 8 go face up on the field, the rest form the draw pile.

A TURN:
1. Play a card from your hand.
   - No field card of its month: it stays on the field.
   - One match: you capture both.
   - Two matches: choose one (target on play_card, or select_target).
   - Three matches: you capture all four.
2. The top card of the pile is drawn and matched the same way.

COMBINATIONS:
- Five brights: 15 | Four brights: 8 | Rainy four brights: 7 | Three brights: 5
- Boar-deer-butterflies: 5 | Poetry ribbons: 5 | Blue ribbons: 5
- Viewing the moon / cherry blossoms with the sake cup: 5 (if the room allows)
- Animals (5+): 1 and 1 per extra | Ribbons (5+): 1 and 1 per extra
- Chaff (10+): 1 and 1 per extra

KOI-KOI:
When you form a new or improved combination you must decide:
- END_ROUND: score your combinations now.
- KOI_KOI: keep playing for more. The round multiplier doubles and your
  opponent may now end the round on you.

ROUND END:
A round ends when someone ends it, or when both hands are empty (a draw
scores nothing). The winner's score is added to their total; the player
with most points after the last round wins.

TIMERS:
If you do not act in time the server plays for you. After several automatic
turns you will be asked whether you are still there; answer with
continue_game or you forfeit.`

// Formatting

func cardList(cards []hanafuda.Card) string {
	if len(cards) == 0 {
		return "(none)"
	}
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = fmt.Sprintf("%d:%s", int(c), c.Name())
	}
	return strings.Join(parts, ", ")
}

func playerName(snap *service.Snapshot, id string) string {
	for _, p := range snap.Players {
		if p.ID == id {
			if p.Name != "" && p.Name != p.ID {
				return fmt.Sprintf("%s (%s)", p.Name, p.ID)
			}
			return p.ID
		}
	}
	return id
}

func formatSnapshot(snap *service.Snapshot) string {
	if snap == nil {
		return "No game state"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Game %s [%s] - %s\n", snap.GameID, snap.RoomType, snap.Status)
	fmt.Fprintf(&b, "Round %d of %d\n", snap.RoundNumber, snap.TotalRounds)

	b.WriteString("Scores:\n")
	ids := make([]string, 0, len(snap.Scores))
	for id := range snap.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  %s: %d\n", playerName(snap, id), snap.Scores[id])
	}

	if snap.Status == session.StatusFinished {
		if snap.WinnerID != "" {
			fmt.Fprintf(&b, "Winner: %s\n", playerName(snap, snap.WinnerID))
		} else {
			b.WriteString("Result: draw\n")
		}
		if snap.FinishReason != "" {
			fmt.Fprintf(&b, "Finish reason: %s\n", snap.FinishReason)
		}
		return b.String()
	}

	r := snap.Round
	if r == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "\nFlow: %s | Active: %s | Multiplier: x%d\n", r.Flow, playerName(snap, r.Active), r.Multiplier)
	if r.RemainingSeconds > 0 {
		fmt.Fprintf(&b, "Time left: %ds\n", r.RemainingSeconds)
	}
	fmt.Fprintf(&b, "Your hand: %s\n", cardList(r.Hand))
	fmt.Fprintf(&b, "Field: %s\n", cardList(r.Field))
	fmt.Fprintf(&b, "Opponent hand: %d cards | Pile: %d cards\n", r.OpponentHandCount, r.PileCount)

	depIDs := make([]string, 0, len(r.Depositories))
	for id := range r.Depositories {
		depIDs = append(depIDs, id)
	}
	sort.Strings(depIDs)
	for _, id := range depIDs {
		koi := ""
		if r.KoiKoi[id] {
			koi = " [koi-koi]"
		}
		fmt.Fprintf(&b, "Captured by %s%s: %s\n", playerName(snap, id), koi, cardList(r.Depositories[id]))
	}

	if len(r.Combinations) > 0 {
		b.WriteString("Your combinations:\n")
		for _, c := range r.Combinations {
			fmt.Fprintf(&b, "  %s: %d\n", c.Type, c.Points)
		}
	}
	if r.Selection != nil {
		fmt.Fprintf(&b, "Pending selection (%s phase) for %s: %s matches %s\n",
			r.Selection.Phase, playerName(snap, r.Selection.PlayerID),
			r.Selection.Source.Name(), cardList(r.Selection.Candidates))
	}
	if r.Decision != nil {
		fmt.Fprintf(&b, "Pending decision for %s: %d points at x%d\n",
			playerName(snap, r.Decision.PlayerID), r.Decision.Points, r.Decision.Multiplier)
	}
	if r.Outcome != nil {
		b.WriteString(formatOutcome(snap, r.Outcome))
	}
	return b.String()
}

func formatOutcome(snap *service.Snapshot, o *engine.Outcome) string {
	if o.WinnerID == "" {
		return fmt.Sprintf("Round ended (%s): no winner\n", o.Reason)
	}
	return fmt.Sprintf("Round ended (%s): %s scores %d (%d x%d)\n",
		o.Reason, playerName(snap, o.WinnerID), o.Points, o.BasePoints, o.Multiplier)
}

func formatTurnResponse(resp *service.TurnResponse) string {
	var b strings.Builder
	if t := resp.Turn; t != nil {
		for _, step := range t.Steps {
			if len(step.Captured) == 0 {
				fmt.Fprintf(&b, "%s: %s placed on the field\n", step.Phase, step.Card.Name())
				continue
			}
			fmt.Fprintf(&b, "%s: %s captured %s\n", step.Phase, step.Card.Name(), cardList(step.Captured))
		}
		if t.NextPlayer != "" {
			fmt.Fprintf(&b, "Next player: %s\n", t.NextPlayer)
		}
		b.WriteString("\n")
	}
	b.WriteString(formatSnapshot(resp.Snapshot))
	return b.String()
}

func formatEntry(e *matchmaking.Entry) string {
	result := fmt.Sprintf("Matchmaking entry %s\nPlayer: %s\nRoom: %s\nStatus: %s\nEntered: %s\n",
		e.ID, e.PlayerID, e.RoomType, e.Status, e.EnteredAt.Format("15:04:05"))
	if e.MatchedWith != "" {
		result += fmt.Sprintf("Matched with: %s\nCall join_game with your player_id to reconnect to the new game.\n", e.MatchedWith)
	}
	return result
}
