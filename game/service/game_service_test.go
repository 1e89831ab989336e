package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/event"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/service"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
	"github.com/wricardo/koikoi/game/timer/timertest"
)

type C = hanafuda.Card

// Layouts dealt as creator's hand, joiner's hand, field, then pile top.
var (
	baseAlice = []C{0, 4, 8, 12, 16, 20, 24, 32}
	baseBob   = []C{1, 5, 9, 13, 17, 21, 25, 29}
	baseField = []C{2, 33, 34, 37, 38, 41, 45, 46}
	basePile  = []C{6}

	koiAlice = []C{8, 0, 4, 12, 16, 20, 24, 28}
	koiBob   = []C{1, 5, 13, 17, 21, 25, 29, 41}
	koiField = []C{10, 33, 37, 38, 42, 45, 46, 30}
	koiPile  = []C{32, 7, 3}
)

func stackDeck(t *testing.T, hands0, hands1, field, pileTop []C) []C {
	t.Helper()
	used := map[C]bool{}
	var deck []C
	for _, part := range [][]C{hands0, hands1, field, pileTop} {
		for _, c := range part {
			if used[c] {
				t.Fatalf("card %d used twice in layout", c)
			}
			used[c] = true
			deck = append(deck, c)
		}
	}
	for _, c := range hanafuda.NewDeck() {
		if !used[c] {
			deck = append(deck, c)
		}
	}
	return deck
}

type recordingStats struct {
	mu      sync.Mutex
	results []session.Result
}

func (r *recordingStats) RecordResult(_ context.Context, res session.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *recordingStats) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type fixture struct {
	svc      *service.Service
	clock    *timertest.Clock
	timers   *timer.Registry
	events   *event.Recorder
	sessions *session.Manager
	rooms    *config.Manager
	stats    *recordingStats
}

type fixtureOption func(*service.Options)

func withDeck(deck []C) fixtureOption {
	return func(o *service.Options) {
		o.Deck = func() []C { return append([]C(nil), deck...) }
	}
}

func withPersistence(p session.SessionPersistence) fixtureOption {
	return func(o *service.Options) {
		o.Sessions = session.NewManagerWithPersistence(p, nil)
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	rooms, err := config.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create room manager: %v", err)
	}
	clock := timertest.NewClock()
	timers := timer.NewRegistry(clock, nil)
	t.Cleanup(timers.Stop)

	f := &fixture{
		clock:  clock,
		timers: timers,
		events: &event.Recorder{},
		rooms:  rooms,
		stats:  &recordingStats{},
	}
	o := service.Options{
		Sessions: session.NewManager(nil),
		Rooms:    rooms,
		Timers:   timers,
		Events:   f.events,
		Stats:    f.stats,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.sessions = o.Sessions
	f.svc = service.NewGameService(o)
	return f
}

// addRoom saves a custom room preset.
func (f *fixture) addRoom(t *testing.T, room *config.RoomConfig) {
	t.Helper()
	if err := f.rooms.SaveConfig(room); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
}

func (f *fixture) join(t *testing.T, req service.JoinRequest) *service.JoinResult {
	t.Helper()
	res, err := f.svc.Join(context.Background(), req)
	if err != nil {
		t.Fatalf("Join(%s) failed: %v", req.PlayerID, err)
	}
	return res
}

// start creates a QUICK game for alice and seats bob.
func (f *fixture) start(t *testing.T) string {
	t.Helper()
	return f.startRoom(t, config.RoomQuick)
}

func (f *fixture) startRoom(t *testing.T, roomType string) string {
	t.Helper()
	created := f.join(t, service.JoinRequest{PlayerID: "alice", RoomType: roomType})
	f.join(t, service.JoinRequest{PlayerID: "bob", GameID: created.Snapshot.GameID})
	return created.Snapshot.GameID
}

// room returns a QUICK-like preset with the given id and timeouts in seconds.
func room(id string, rounds, action, display, idle int) *config.RoomConfig {
	return &config.RoomConfig{
		ID:                        id,
		Name:                      id,
		Rounds:                    rounds,
		MatchmakingTimeoutSeconds: 60,
		ActionSeconds:             action,
		DisplaySeconds:            display,
		ConfirmSeconds:            10,
		IdleSeconds:               idle,
		DisconnectSeconds:         30,
		SakeCupCombos:             true,
		SakeCupAsChaff:            true,
	}
}

func (f *fixture) game(t *testing.T, id string) *session.Game {
	t.Helper()
	g, err := f.sessions.Get(id)
	if err != nil {
		t.Fatalf("game %s not found: %v", id, err)
	}
	return g
}

func (f *fixture) snapshot(t *testing.T, gameID, playerID string) *service.Snapshot {
	t.Helper()
	snap, err := f.svc.Snapshot(context.Background(), gameID, playerID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func hasType(types []event.Type, want event.Type) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func TestJoin_CreateThenJoin(t *testing.T) {
	f := newFixture(t)

	created := f.join(t, service.JoinRequest{PlayerID: "alice", Name: "Alice", RoomType: "quick"})
	if created.Outcome != service.JoinCreated {
		t.Fatalf("Expected created, got %s", created.Outcome)
	}
	gameID := created.Snapshot.GameID
	if created.Snapshot.Status != session.StatusWaiting || created.Snapshot.RoomType != config.RoomQuick {
		t.Errorf("Unexpected snapshot: status=%s room=%s", created.Snapshot.Status, created.Snapshot.RoomType)
	}
	mmKey := timer.GameKey(timer.FamilyMatchmaking, gameID)
	if secs, ok := f.timers.Remaining(mmKey); !ok || secs != 60 {
		t.Errorf("Expected a 60s matchmaking timer, got %d (active=%v)", secs, ok)
	}

	joined := f.join(t, service.JoinRequest{PlayerID: "bob", Name: "Bob", GameID: gameID})
	if joined.Outcome != service.JoinJoined {
		t.Fatalf("Expected joined, got %s", joined.Outcome)
	}
	snap := joined.Snapshot
	if snap.Status != session.StatusInProgress || snap.Round == nil {
		t.Fatalf("Expected an in-progress game with a round, got %s", snap.Status)
	}
	if snap.Round.Flow != engine.AwaitingHandPlay || snap.Round.Active != "alice" {
		t.Errorf("Expected alice to play first, got %s %s", snap.Round.Flow, snap.Round.Active)
	}
	if len(snap.Round.Hand) != 8 || snap.Round.OpponentHandCount != 8 {
		t.Errorf("Expected 8 own cards and 8 hidden, got %d and %d", len(snap.Round.Hand), snap.Round.OpponentHandCount)
	}
	if f.timers.Active(mmKey) {
		t.Error("Matchmaking timer must be cleared when the game starts")
	}
	if secs := snap.Round.RemainingSeconds; secs != 15 {
		t.Errorf("Expected 15s on the action timer, got %d", secs)
	}

	for _, p := range []string{"alice", "bob"} {
		types := f.events.Types(p)
		if !hasType(types, event.GameStarted) || !hasType(types, event.RoundDealt) {
			t.Errorf("%s missing start events: %v", p, types)
		}
	}
	dealt, _ := f.events.Last("bob", event.RoundDealt)
	if view := dealt.Payload.(*service.Snapshot); view.ViewerID != "bob" || view.Round.OpponentHandCount != 8 {
		t.Errorf("round_dealt must carry bob's own view, got viewer %s", view.ViewerID)
	}
}

func TestJoin_Reconnect(t *testing.T) {
	f := newFixture(t)
	gameID := f.start(t)
	before := f.game(t, gameID).Version

	f.svc.PlayerDisconnected(context.Background(), "bob")
	discKey := timer.PlayerKey(timer.FamilyDisconnect, gameID, "bob")
	if !f.timers.Active(discKey) {
		t.Fatal("Expected a disconnect timer for bob")
	}

	res := f.join(t, service.JoinRequest{PlayerID: "bob", GameID: gameID})
	if res.Outcome != service.JoinReconnected {
		t.Fatalf("Expected reconnected, got %s", res.Outcome)
	}
	if f.timers.Active(discKey) {
		t.Error("Reconnect must cancel the disconnect timer")
	}
	if after := f.game(t, gameID).Version; after != before {
		t.Errorf("Reconnect must not mutate the game: version %d -> %d", before, after)
	}
	if _, ok := f.events.Last("bob", event.StateSnapshot); !ok {
		t.Error("Expected a state snapshot for bob")
	}
}

func TestJoin_MatchesWaitingGameOfSameRoom(t *testing.T) {
	f := newFixture(t)
	first := f.join(t, service.JoinRequest{PlayerID: "alice", RoomType: config.RoomQuick})
	other := f.join(t, service.JoinRequest{PlayerID: "carol", RoomType: config.RoomStandard})
	if other.Outcome != service.JoinCreated || other.Snapshot.GameID == first.Snapshot.GameID {
		t.Fatal("A different room must get its own game")
	}

	res := f.join(t, service.JoinRequest{PlayerID: "bob", RoomType: config.RoomQuick})
	if res.Outcome != service.JoinJoined || res.Snapshot.GameID != first.Snapshot.GameID {
		t.Errorf("Expected bob to join alice's game, got %s %s", res.Outcome, res.Snapshot.GameID)
	}

	again := f.join(t, service.JoinRequest{PlayerID: "alice"})
	if again.Outcome != service.JoinReconnected || again.Snapshot.GameID != first.Snapshot.GameID {
		t.Errorf("A seated player joining again must reconnect, got %s", again.Outcome)
	}
}

func TestJoin_ConcurrentJoinsOnOneGame(t *testing.T) {
	f := newFixture(t)
	created := f.join(t, service.JoinRequest{PlayerID: "alice", RoomType: config.RoomQuick})
	gameID := created.Snapshot.GameID

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*service.JoinResult
	)
	for _, p := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			res, err := f.svc.Join(context.Background(), service.JoinRequest{PlayerID: p, GameID: gameID})
			if err != nil {
				t.Errorf("Join(%s) failed: %v", p, err)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	outcomes := map[service.JoinOutcome]int{}
	for _, r := range results {
		outcomes[r.Outcome]++
	}
	if outcomes[service.JoinJoined] != 1 || outcomes[service.JoinCreated] != 1 {
		t.Errorf("Expected one join and one fallback create, got %v", outcomes)
	}
	if n := len(f.game(t, gameID).Players); n != 2 {
		t.Errorf("Expected exactly two seats, got %d", n)
	}
}

func TestJoin_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  service.JoinRequest
		want error
	}{
		{"missing player", service.JoinRequest{}, service.ErrInvalidRequest},
		{"unknown room", service.JoinRequest{PlayerID: "alice", RoomType: "NOPE"}, service.ErrRoomNotFound},
		{"unknown game", service.JoinRequest{PlayerID: "alice", GameID: "missing"}, service.ErrGameNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Join(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// activeGames counts the unfinished games seating playerID.
func activeGames(t *testing.T, f *fixture, playerID string) int {
	t.Helper()
	games, err := f.svc.ListGames(context.Background())
	if err != nil {
		t.Fatalf("ListGames failed: %v", err)
	}
	n := 0
	for _, g := range games {
		if g.Status == session.StatusFinished {
			continue
		}
		for _, p := range g.Players {
			if p.ID == playerID {
				n++
			}
		}
	}
	return n
}

func TestJoin_SingleSeatPerPlayer(t *testing.T) {
	f := newFixture(t)
	full := f.start(t)
	f.clock.Advance(time.Second)
	carols := f.join(t, service.JoinRequest{PlayerID: "carol", RoomType: config.RoomStandard}).Snapshot.GameID
	daves := f.join(t, service.JoinRequest{PlayerID: "dave", RoomType: config.RoomQuick}).Snapshot.GameID

	tests := []struct {
		name string
		req  service.JoinRequest
	}{
		{"full game", service.JoinRequest{PlayerID: "carol", GameID: full}},
		{"other waiting game", service.JoinRequest{PlayerID: "carol", GameID: daves}},
		{"seated in a running game", service.JoinRequest{PlayerID: "alice", GameID: carols}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Join(context.Background(), tt.req); !errors.Is(err, service.ErrAlreadyInGame) {
				t.Errorf("Expected ALREADY_IN_GAME, got %v", err)
			}
		})
	}

	for _, p := range []string{"alice", "carol", "dave"} {
		if n := activeGames(t, f, p); n != 1 {
			t.Errorf("%s is seated in %d active games", p, n)
		}
	}
	if n := len(f.game(t, daves).Players); n != 1 {
		t.Errorf("dave's game must still wait, got %d players", n)
	}
	if res := f.join(t, service.JoinRequest{PlayerID: "carol"}); res.Outcome != service.JoinReconnected || res.Snapshot.GameID != carols {
		t.Errorf("Expected carol to reconnect to the game carol created, got %s %s", res.Outcome, res.Snapshot.GameID)
	}
}

func TestJoin_RefusedWhileQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carols := f.join(t, service.JoinRequest{PlayerID: "carol", RoomType: config.RoomQuick}).Snapshot.GameID

	if _, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "dave", RoomType: config.RoomQuick}); err != nil {
		t.Fatalf("EnterMatchmaking failed: %v", err)
	}
	for _, req := range []service.JoinRequest{
		{PlayerID: "dave", RoomType: config.RoomQuick},
		{PlayerID: "dave", GameID: carols},
	} {
		if _, err := f.svc.Join(ctx, req); !errors.Is(err, service.ErrAlreadyInQueue) {
			t.Errorf("Join(%+v): expected ALREADY_IN_QUEUE, got %v", req, err)
		}
	}
	if n := len(f.game(t, carols).Players); n != 1 {
		t.Errorf("carol's game must still wait, got %d players", n)
	}

	if _, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "erin", RoomType: config.RoomQuick}); err != nil {
		t.Fatalf("EnterMatchmaking failed: %v", err)
	}
	if n := activeGames(t, f, "dave"); n != 1 {
		t.Errorf("dave is seated in %d active games, want 1", n)
	}
	if g := f.sessions.ActiveGameFor("dave"); g == nil || !g.HasPlayer("erin") {
		t.Errorf("Expected dave matched with erin, got %v", g)
	}
}

func TestWaitingGameExpires(t *testing.T) {
	f := newFixture(t)
	created := f.join(t, service.JoinRequest{PlayerID: "alice", RoomType: config.RoomQuick})
	gameID := created.Snapshot.GameID

	f.clock.Advance(59 * time.Second)
	if _, err := f.sessions.Get(gameID); err != nil {
		t.Fatalf("Game removed too early: %v", err)
	}

	f.clock.Advance(time.Second)
	if _, err := f.svc.Snapshot(context.Background(), gameID, "alice"); !errors.Is(err, service.ErrGameNotFound) {
		t.Errorf("Expected GAME_NOT_FOUND after expiry, got %v", err)
	}
	evt, ok := f.events.Last("alice", event.GameError)
	if !ok {
		t.Fatal("Expected a game_error for alice")
	}
	if e := evt.Payload.(*service.Error); e.Code != service.CodeMatchmakingTimeout || !e.Recoverable || e.Action != service.ActionRetryMatchmaking {
		t.Errorf("Unexpected game_error payload: %+v", e)
	}
	if f.svc.HasActiveGame("alice") {
		t.Error("alice must be free to play again")
	}
}

func TestPlayHandCard_CompletesTurn(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	gameID := f.start(t)
	f.events.Reset()

	resp, err := f.svc.PlayHandCard(context.Background(), service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 0})
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if resp.Turn.NextPlayer != "bob" || resp.Turn.Flow != engine.AwaitingHandPlay {
		t.Errorf("Expected bob to play next, got %s %s", resp.Turn.NextPlayer, resp.Turn.Flow)
	}
	if len(resp.Turn.Steps) != 2 || len(resp.Turn.Steps[0].Captured) != 2 || len(resp.Turn.Steps[1].Captured) != 0 {
		t.Errorf("Unexpected steps: %+v", resp.Turn.Steps)
	}
	for _, p := range []string{"alice", "bob"} {
		if !hasType(f.events.Types(p), event.TurnCompleted) {
			t.Errorf("%s did not receive turn_completed", p)
		}
	}
	if n := f.game(t, gameID).Round.CardCount(); n != hanafuda.DeckSize {
		t.Errorf("Card count is %d", n)
	}
}

func TestTurnErrors(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	gameID := f.start(t)
	version := f.game(t, gameID).Version

	tests := []struct {
		name string
		req  service.PlayRequest
		want error
	}{
		{"wrong player", service.PlayRequest{GameID: gameID, PlayerID: "bob", Card: 1}, engine.ErrWrongPlayer},
		{"card not in hand", service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 1}, engine.ErrInvalidCard},
		{"target not matching", service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 32, Target: ptr(2)}, engine.ErrInvalidTarget},
		{"stranger", service.PlayRequest{GameID: gameID, PlayerID: "mallory", Card: 0}, service.ErrNotAPlayer},
		{"missing game", service.PlayRequest{GameID: "nope", PlayerID: "alice", Card: 0}, service.ErrGameNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlayHandCard(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if after := f.game(t, gameID).Version; after != version {
		t.Errorf("Rejected turns must not change the game: version %d -> %d", version, after)
	}
	evt, ok := f.events.Last("bob", event.TurnError)
	if !ok {
		t.Fatal("Expected a turn_error for bob")
	}
	if e := evt.Payload.(*service.Error); e.Code != service.Code(engine.CodeWrongPlayer) || !e.Recoverable {
		t.Errorf("Unexpected turn_error payload: %+v", e)
	}

	if _, err := f.svc.Decide(context.Background(), service.DecisionRequest{GameID: gameID, PlayerID: "alice", Decision: engine.KoiKoi}); !errors.Is(err, engine.ErrInvalidState) {
		t.Errorf("Expected INVALID_STATE for a decision while awaiting hand play, got %v", err)
	}
}

func TestSelectTarget(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	gameID := f.start(t)
	f.events.Reset()

	resp, err := f.svc.PlayHandCard(context.Background(), service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 32})
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if resp.Turn.Flow != engine.AwaitingSelection {
		t.Fatalf("Expected AWAITING_SELECTION, got %s", resp.Turn.Flow)
	}
	if got := f.events.Types("alice"); len(got) != 1 || got[0] != event.SelectionRequired {
		t.Errorf("alice events = %v, want only selection_required", got)
	}
	if got := f.events.Types("bob"); len(got) != 1 || got[0] != event.TurnPending {
		t.Errorf("bob events = %v, want only turn_pending", got)
	}
	pending, _ := f.events.Last("bob", event.TurnPending)
	if p := pending.Payload.(service.TurnPendingPayload); p.PlayerID != "alice" || p.Flow != engine.AwaitingSelection || p.RemainingSeconds != 15 {
		t.Errorf("Unexpected turn_pending payload: %+v", p)
	}
	if _, ok := f.events.Last("alice", event.SelectionRequired); !ok {
		t.Error("Expected selection_required for alice")
	}
	if resp.Snapshot.Round.Selection == nil {
		t.Error("The acting player's snapshot must carry the pending selection")
	}
	if other := f.snapshot(t, gameID, "bob"); other.Round.Selection != nil {
		t.Error("The opponent's snapshot must not carry the pending selection")
	}

	_, err = f.svc.SelectTarget(context.Background(), service.SelectRequest{GameID: gameID, PlayerID: "alice", Source: 32, Target: 37})
	if !errors.Is(err, engine.ErrInvalidSelection) {
		t.Errorf("Expected INVALID_SELECTION, got %v", err)
	}

	resp, err = f.svc.SelectTarget(context.Background(), service.SelectRequest{GameID: gameID, PlayerID: "alice", Source: 32, Target: 34})
	if err != nil {
		t.Fatalf("SelectTarget failed: %v", err)
	}
	if resp.Turn.NextPlayer != "bob" {
		t.Errorf("Expected bob next, got %s", resp.Turn.NextPlayer)
	}
	for _, p := range []string{"alice", "bob"} {
		if !hasType(f.events.Types(p), event.TurnCompleted) {
			t.Errorf("%s did not receive turn_completed once the selection resolved", p)
		}
	}
}

// koiTurns plays alice to the second decision in the koi layout.
func koiTurns(t *testing.T, f *fixture, gameID string) {
	t.Helper()
	ctx := context.Background()
	seen := len(f.events.Types("bob"))
	resp, err := f.svc.PlayHandCard(ctx, service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 8})
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if resp.Turn.Flow != engine.AwaitingDecision {
		t.Fatalf("Expected AWAITING_DECISION, got %s", resp.Turn.Flow)
	}
	if _, ok := f.events.Last("alice", event.DecisionRequired); !ok {
		t.Error("Expected decision_required for alice")
	}
	if got := f.events.Types("bob")[seen:]; len(got) != 1 || got[0] != event.TurnPending {
		t.Errorf("bob events for a suspended turn = %v, want only turn_pending", got)
	}

	resp, err = f.svc.Decide(ctx, service.DecisionRequest{GameID: gameID, PlayerID: "alice", Decision: engine.KoiKoi})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if resp.Snapshot.Round.Multiplier != 2 {
		t.Errorf("Expected multiplier 2, got %d", resp.Snapshot.Round.Multiplier)
	}
	if _, err := f.svc.PlayHandCard(ctx, service.PlayRequest{GameID: gameID, PlayerID: "bob", Card: 41}); err != nil {
		t.Fatalf("bob PlayHandCard failed: %v", err)
	}
	resp, err = f.svc.PlayHandCard(ctx, service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 28})
	if err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	if resp.Turn.Flow != engine.AwaitingDecision {
		t.Fatalf("Expected a second decision, got %s", resp.Turn.Flow)
	}
}

func TestDecide_SecondKoiKoiKeepsMultiplier(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, koiAlice, koiBob, koiField, koiPile)))
	gameID := f.start(t)
	koiTurns(t, f, gameID)

	resp, err := f.svc.Decide(context.Background(), service.DecisionRequest{GameID: gameID, PlayerID: "alice", Decision: engine.KoiKoi})
	if err != nil {
		t.Fatalf("Second koi-koi failed: %v", err)
	}
	if resp.Snapshot.Round.Multiplier != 2 {
		t.Errorf("A second koi-koi must not double again, got %d", resp.Snapshot.Round.Multiplier)
	}
}

func TestDecide_EndRoundAdvancesAfterDisplay(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, koiAlice, koiBob, koiField, koiPile)))
	gameID := f.start(t)
	koiTurns(t, f, gameID)

	resp, err := f.svc.Decide(context.Background(), service.DecisionRequest{GameID: gameID, PlayerID: "alice", Decision: engine.EndRound})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if resp.Turn.Outcome == nil || resp.Turn.Outcome.Points != 20 {
		t.Fatalf("Expected 20 points, got %+v", resp.Turn.Outcome)
	}

	evt, ok := f.events.Last("bob", event.RoundEnded)
	if !ok {
		t.Fatal("Expected round_ended for bob")
	}
	payload := evt.Payload.(service.RoundEndedPayload)
	if payload.Reason != engine.ReasonScored || payload.Scores["alice"] != 20 || payload.Advance != session.AdvanceAuto {
		t.Errorf("Unexpected round_ended payload: %+v", payload)
	}
	if payload.DisplaySeconds != 5 {
		t.Errorf("Expected a 5s display, got %d", payload.DisplaySeconds)
	}

	f.clock.Advance(5 * time.Second)
	if g := f.game(t, gameID); g.RoundNumber != 1 {
		t.Fatalf("Next round dealt before the server buffer elapsed")
	}
	f.clock.Advance(timer.ServerBuffer)
	g := f.game(t, gameID)
	if g.RoundNumber != 2 || g.Round.Flow != engine.AwaitingHandPlay {
		t.Fatalf("Expected round 2 in hand play, got round %d", g.RoundNumber)
	}
	if g.Round.Dealer != "alice" {
		t.Errorf("The round winner deals next, got %s", g.Round.Dealer)
	}
}

func TestConfirmContinue_BothPlayersSkipDisplay(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, koiAlice, koiBob, koiField, koiPile)))
	gameID := f.start(t)
	koiTurns(t, f, gameID)
	ctx := context.Background()

	if _, err := f.svc.Decide(ctx, service.DecisionRequest{GameID: gameID, PlayerID: "alice", Decision: engine.EndRound}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if _, err := f.svc.ConfirmContinue(ctx, service.ContinueRequest{GameID: gameID, PlayerID: "alice", Choice: service.Continue}); err != nil {
		t.Fatalf("ConfirmContinue failed: %v", err)
	}
	if f.game(t, gameID).RoundNumber != 1 {
		t.Fatal("One confirmation must not deal the next round")
	}
	snap, err := f.svc.ConfirmContinue(ctx, service.ContinueRequest{GameID: gameID, PlayerID: "bob", Choice: service.Continue})
	if err != nil {
		t.Fatalf("ConfirmContinue failed: %v", err)
	}
	if snap.RoundNumber != 2 {
		t.Errorf("Expected round 2 once both confirmed, got %d", snap.RoundNumber)
	}

	_, err = f.svc.ConfirmContinue(ctx, service.ContinueRequest{GameID: gameID, PlayerID: "bob", Choice: "MAYBE"})
	if !errors.Is(err, service.ErrInvalidRequest) {
		t.Errorf("Expected INVALID_REQUEST, got %v", err)
	}
	_, err = f.svc.ConfirmContinue(ctx, service.ContinueRequest{GameID: gameID, PlayerID: "bob", Choice: service.Continue})
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Errorf("Expected INVALID_STATE with nothing to confirm, got %v", err)
	}
}

func TestFinalRoundFinishesGame(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, koiAlice, koiBob, koiField, koiPile)))
	f.addRoom(t, room("single", 1, 15, 5, 45))
	gameID := f.startRoom(t, "single")
	koiTurns(t, f, gameID)

	if _, err := f.svc.Decide(context.Background(), service.DecisionRequest{GameID: gameID, PlayerID: "alice", Decision: engine.EndRound}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	g := f.game(t, gameID)
	if g.Status != session.StatusFinished || g.Advance != session.AdvanceFinal {
		t.Fatalf("Expected a finished game, got %s %s", g.Status, g.Advance)
	}
	if g.FinishReason != session.FinishNormal || g.WinnerID != "alice" {
		t.Errorf("Unexpected finish: %s %s", g.FinishReason, g.WinnerID)
	}
	if f.stats.count() != 1 {
		t.Errorf("Expected one recorded result, got %d", f.stats.count())
	}
	evt, ok := f.events.Last("bob", event.GameFinished)
	if !ok || evt.Payload.(service.GameFinishedPayload).Reason != session.FinishNormal {
		t.Errorf("Expected game_finished with reason normal, got %+v", evt)
	}
	if f.timers.Len() != 0 {
		t.Errorf("Finished game left %d timers armed", f.timers.Len())
	}
	if _, err := f.svc.PlayHandCard(context.Background(), service.PlayRequest{GameID: gameID, PlayerID: "bob", Card: 1}); !errors.Is(err, service.ErrGameFinished) {
		t.Errorf("Expected GAME_FINISHED, got %v", err)
	}
}

func TestActionTimeoutPlaysAutomatically(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	gameID := f.start(t)

	f.clock.Advance(15 * time.Second)
	if f.game(t, gameID).Round.Active != "alice" {
		t.Fatal("The action timer fired before the server buffer elapsed")
	}
	f.clock.Advance(timer.ServerBuffer)

	g := f.game(t, gameID)
	if g.Round.Active != "bob" || len(g.Round.Hands["alice"]) != 7 {
		t.Fatalf("Expected alice's turn to be played, active=%s hand=%d", g.Round.Active, len(g.Round.Hands["alice"]))
	}
	evt, ok := f.events.Last("bob", event.TurnCompleted)
	if !ok || !evt.Payload.(service.TurnCompletedPayload).Auto {
		t.Error("Expected an automatic turn_completed")
	}
	if secs, _ := f.timers.Remaining(timer.GameKey(timer.FamilyAction, gameID)); secs != 15 {
		t.Errorf("Expected a fresh 15s action timer for bob, got %d", secs)
	}
}

// failingSink panics on the events selected by fail and records the rest.
type failingSink struct {
	*event.Recorder
	fail func(event.Event) bool
}

func (s failingSink) Publish(recipients []string, evt event.Event) {
	if s.fail(evt) {
		panic("sink failure")
	}
	s.Recorder.Publish(recipients, evt)
}

func TestTimerPanicAbortsOnlyItsGame(t *testing.T) {
	var broken string
	f := newFixture(t,
		withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)),
		func(o *service.Options) {
			o.Events = failingSink{
				Recorder: o.Events.(*event.Recorder),
				fail: func(evt event.Event) bool {
					return evt.GameID == broken && evt.Type == event.TurnCompleted
				},
			}
		})
	broken = f.start(t)
	healthy := f.join(t, service.JoinRequest{PlayerID: "carol", RoomType: config.RoomQuick}).Snapshot.GameID
	f.join(t, service.JoinRequest{PlayerID: "dave", RoomType: config.RoomQuick})

	f.clock.Advance(15*time.Second + timer.ServerBuffer)

	g := f.game(t, broken)
	if g.Status != session.StatusFinished || g.FinishReason != session.FinishAborted || g.WinnerID != "" {
		t.Fatalf("Expected the failing game to be aborted, got %s %s %q", g.Status, g.FinishReason, g.WinnerID)
	}
	for _, p := range []string{"alice", "bob"} {
		evt, ok := f.events.Last(p, event.GameError)
		if !ok || evt.Payload.(*service.Error).Code != service.CodeInternal {
			t.Errorf("Expected an internal game_error for %s, got %+v", p, evt)
		}
	}
	if f.timers.Active(timer.GameKey(timer.FamilyAction, broken)) {
		t.Error("An aborted game must not keep its timers")
	}

	h := f.game(t, healthy)
	if h.Status != session.StatusInProgress || h.Round.Active != "dave" {
		t.Errorf("The other game must keep running, got %s active=%s", h.Status, h.Round.Active)
	}
	if _, ok := f.events.Last("dave", event.TurnCompleted); !ok {
		t.Error("Expected dave to see carol's automatic turn")
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	gameID := f.start(t)

	f.clock.Advance(10 * time.Second)
	if _, err := f.svc.PlayHandCard(context.Background(), service.PlayRequest{GameID: gameID, PlayerID: "alice", Card: 0}); err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	// Past alice's original deadline; bob's timer was armed at t=10s.
	f.clock.Advance(10 * time.Second)
	if g := f.game(t, gameID); g.Round.Active != "bob" || len(g.Round.Hands["bob"]) != 8 {
		t.Errorf("The superseded action timer played for bob")
	}
}

// In the lazy room the idle timer runs out at 31s, before the first action
// timer fires at 31.5s, while alice is still the player awaited.
func TestIdlePromptAndContinue(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	f.addRoom(t, room("lazy", 3, 30, 5, 31))
	gameID := f.startRoom(t, "lazy")
	ctx := context.Background()

	f.clock.Advance(31 * time.Second)
	evt, ok := f.events.Last("alice", event.ContinueRequired)
	if !ok {
		t.Fatal("Expected continue_required for alice")
	}
	if secs := evt.Payload.(service.ContinueRequiredPayload).TimeoutSeconds; secs != 15 {
		t.Errorf("Expected display+confirm of 15s, got %d", secs)
	}
	if _, ok := f.events.Last("bob", event.ContinueRequired); ok {
		t.Error("bob was not awaited and must not be prompted")
	}
	if !f.timers.Active(timer.PlayerKey(timer.FamilyIdle, gameID, "bob")) {
		t.Error("bob's idle timer must be re-armed")
	}
	if snap := f.snapshot(t, gameID, "alice"); snap.Timeouts[string(timer.FamilyContinue)] != 15 {
		t.Errorf("Expected the continue countdown in the snapshot, got %v", snap.Timeouts)
	}

	if _, err := f.svc.ConfirmContinue(ctx, service.ContinueRequest{GameID: gameID, PlayerID: "alice", Choice: service.Continue}); err != nil {
		t.Fatalf("ConfirmContinue failed: %v", err)
	}
	if f.timers.Active(timer.PlayerKey(timer.FamilyContinue, gameID, "alice")) {
		t.Error("Continue timer must be cancelled")
	}
	if !f.timers.Active(timer.PlayerKey(timer.FamilyIdle, gameID, "alice")) {
		t.Error("Idle timer must be re-armed")
	}
	f.clock.Advance(20 * time.Second)
	if g := f.game(t, gameID); g.Status != session.StatusInProgress {
		t.Errorf("Game must go on after CONTINUE, got %s", g.Status)
	}
}

func TestIdleExpiryFinishesGame(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	f.addRoom(t, room("lazy", 3, 30, 5, 31))
	gameID := f.startRoom(t, "lazy")

	f.clock.Advance(31*time.Second + 15*time.Second)
	if g := f.game(t, gameID); g.Status != session.StatusInProgress {
		t.Fatal("The continue prompt expired before the server buffer elapsed")
	}
	f.clock.Advance(timer.ServerBuffer)
	g := f.game(t, gameID)
	if g.Status != session.StatusFinished || g.FinishReason != session.FinishOpponentIdle || g.WinnerID != "bob" {
		t.Fatalf("Expected bob to win on alice's idle timeout, got %s %s %s", g.Status, g.FinishReason, g.WinnerID)
	}
}

func TestIdleLeaveDuringPrompt(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	f.addRoom(t, room("lazy", 3, 30, 5, 31))
	gameID := f.startRoom(t, "lazy")

	f.clock.Advance(31 * time.Second)
	if _, err := f.svc.ConfirmContinue(context.Background(), service.ContinueRequest{GameID: gameID, PlayerID: "alice", Choice: service.Leave}); err != nil {
		t.Fatalf("ConfirmContinue failed: %v", err)
	}
	if g := f.game(t, gameID); g.FinishReason != session.FinishOpponentIdle || g.WinnerID != "bob" {
		t.Errorf("Leaving an idle prompt counts as idle, got %s %s", g.FinishReason, g.WinnerID)
	}
}

func TestDisconnectExpiryFinishesGame(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	f.addRoom(t, room("patient", 3, 15, 5, 600))
	gameID := f.startRoom(t, "patient")
	ctx := context.Background()

	f.svc.PlayerDisconnected(ctx, "alice")
	evt, ok := f.events.Last("bob", event.GameError)
	if !ok || evt.Payload.(*service.Error).Code != service.CodeOpponentDisconnected {
		t.Fatalf("Expected bob to hear about the disconnect, got %+v", evt)
	}
	if snap := f.snapshot(t, gameID, "bob"); snap.Timeouts[string(timer.FamilyDisconnect)] != 30 {
		t.Errorf("Expected the opponent's disconnect countdown, got %v", snap.Timeouts)
	}

	t.Run("reconnect in time", func(t *testing.T) {
		f.clock.Advance(10 * time.Second)
		f.svc.PlayerConnected(ctx, "alice")
		f.clock.Advance(25 * time.Second)
		if g := f.game(t, gameID); g.Status != session.StatusInProgress {
			t.Fatalf("Reconnected player must keep the game, got %s", g.Status)
		}
	})

	f.svc.PlayerDisconnected(ctx, "alice")
	f.clock.Advance(30 * time.Second)
	g := f.game(t, gameID)
	if g.FinishReason != session.FinishOpponentDisconnected || g.WinnerID != "bob" {
		t.Errorf("Expected bob to win on disconnect, got %s %s", g.FinishReason, g.WinnerID)
	}
}

func TestDisconnectWhileWaitingRemovesGame(t *testing.T) {
	f := newFixture(t)
	created := f.join(t, service.JoinRequest{PlayerID: "alice", RoomType: config.RoomQuick})

	f.svc.PlayerDisconnected(context.Background(), "alice")
	f.clock.Advance(30 * time.Second)
	if _, err := f.sessions.Get(created.Snapshot.GameID); err == nil {
		t.Error("A creator who never came back must not keep the game open")
	}
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("waiting game is removed", func(t *testing.T) {
		created := f.join(t, service.JoinRequest{PlayerID: "carol", RoomType: config.RoomMarathon})
		if err := f.svc.Leave(ctx, created.Snapshot.GameID, "carol"); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		if _, err := f.sessions.Get(created.Snapshot.GameID); err == nil {
			t.Error("Waiting game must be removed")
		}
	})

	t.Run("in-progress game is forfeited", func(t *testing.T) {
		gameID := f.start(t)
		if err := f.svc.Leave(ctx, gameID, "mallory"); !errors.Is(err, service.ErrNotAPlayer) {
			t.Errorf("Expected NOT_A_PLAYER, got %v", err)
		}
		if err := f.svc.Leave(ctx, gameID, "bob"); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		g := f.game(t, gameID)
		if g.FinishReason != session.FinishOpponentLeft || g.WinnerID != "alice" {
			t.Errorf("Unexpected finish: %s %s", g.FinishReason, g.WinnerID)
		}
		if f.stats.count() != 1 {
			t.Errorf("Expected the forfeit to be recorded")
		}
		if err := f.svc.Leave(ctx, gameID, "bob"); !errors.Is(err, service.ErrGameFinished) {
			t.Errorf("Expected GAME_FINISHED, got %v", err)
		}
	})
}

func TestMatchmaking_HumanPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "alice", RoomType: config.RoomQuick})
	if err != nil || a.Status != matchmaking.StatusSearching {
		t.Fatalf("EnterMatchmaking = %+v, %v", a, err)
	}
	b, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "bob", RoomType: config.RoomQuick})
	if err != nil || b.Status != matchmaking.StatusMatched {
		t.Fatalf("EnterMatchmaking = %+v, %v", b, err)
	}

	g := f.sessions.ActiveGameFor("alice")
	if g == nil || !f.svc.HasActiveGame("bob") {
		t.Fatal("Expected a game seating both players")
	}
	if g.Status != session.StatusInProgress || g.Players[0].ID != "alice" {
		t.Errorf("Expected an in-progress game with alice first, got %s %v", g.Status, g.PlayerIDs())
	}
	if _, ok := f.events.Last("alice", event.GameStarted); !ok {
		t.Error("Expected game_started for alice")
	}
	evt, ok := f.events.Last("bob", event.MatchmakingStatus)
	if !ok || evt.Payload.(service.MatchmakingStatusPayload).Status != "matched" {
		t.Errorf("Expected a matched status for bob, got %+v", evt)
	}

	if _, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "alice", RoomType: config.RoomQuick}); !errors.Is(err, matchmaking.ErrAlreadyInGame) {
		t.Errorf("Expected ALREADY_IN_GAME, got %v", err)
	}
	if _, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "dave", RoomType: "NOPE"}); !errors.Is(err, service.ErrRoomNotFound) {
		t.Errorf("Expected ROOM_NOT_FOUND, got %v", err)
	}
}

func TestMatchmaking_MatchRefusedForSeatedPlayer(t *testing.T) {
	f := newFixture(t)
	gameID := f.start(t)
	before := len(f.sessions.List())

	f.svc.Matched(matchmaking.Match{
		RoomType: config.RoomQuick,
		Players: [2]matchmaking.Entry{
			{ID: "e1", PlayerID: "erin", RoomType: config.RoomQuick},
			{ID: "e2", PlayerID: "alice", RoomType: config.RoomQuick},
		},
	})

	if n := len(f.sessions.List()); n != before {
		t.Fatalf("Expected no new game, got %d games (was %d)", n, before)
	}
	if f.svc.HasActiveGame("erin") {
		t.Error("erin must not be seated")
	}
	if g := f.sessions.ActiveGameFor("alice"); g == nil || g.ID != gameID {
		t.Errorf("alice must stay in %s, got %v", gameID, g)
	}
	for _, p := range []string{"erin", "alice"} {
		evt, ok := f.events.Last(p, event.GameError)
		if !ok {
			t.Errorf("Expected a game_error for %s", p)
			continue
		}
		if se := evt.Payload.(*service.Error); se.Code != service.ErrAlreadyInGame.Code || se.Action != service.ActionRetryMatchmaking {
			t.Errorf("Unexpected game_error for %s: %+v", p, se)
		}
	}
}

func TestMatchmaking_BotFallbackPlays(t *testing.T) {
	f := newFixture(t, withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	ctx := context.Background()

	entry, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "alice", RoomType: config.RoomQuick})
	if err != nil {
		t.Fatalf("EnterMatchmaking failed: %v", err)
	}

	f.clock.Advance(matchmaking.EscalateAfter)
	evt, _ := f.events.Last("alice", event.MatchmakingStatus)
	if p := evt.Payload.(service.MatchmakingStatusPayload); p.Status != "low_availability" || p.ElapsedSeconds != 10 {
		t.Errorf("Expected low_availability at 10s, got %+v", p)
	}

	f.clock.Advance(matchmaking.FallbackAfter - matchmaking.EscalateAfter)
	g := f.sessions.ActiveGameFor("alice")
	if g == nil {
		t.Fatal("Expected a bot game after the fallback deadline")
	}
	botID := g.Opponent("alice")
	if !g.IsBot(botID) {
		t.Fatalf("Expected a bot opponent, got %s", botID)
	}
	if got, _ := f.svc.GetMatchmaking(ctx, entry.ID); got.Status != matchmaking.StatusMatched {
		t.Errorf("Entry status = %s, want MATCHED", got.Status)
	}

	if _, err := f.svc.PlayHandCard(ctx, service.PlayRequest{GameID: g.ID, PlayerID: "alice", Card: 0}); err != nil {
		t.Fatalf("PlayHandCard failed: %v", err)
	}
	f.clock.Advance(800 * time.Millisecond)
	g = f.game(t, g.ID)
	if g.Round.Active != "alice" || len(g.Round.Hands[botID]) != 7 {
		t.Errorf("Expected the bot to have played, active=%s", g.Round.Active)
	}
	for _, d := range f.events.Deliveries() {
		for _, r := range d.Recipients {
			if r == botID {
				t.Fatalf("Event %s delivered to the bot seat", d.Event.Type)
			}
		}
	}
}

func TestMatchmaking_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.EnterMatchmaking(ctx, matchmaking.EnterRequest{PlayerID: "alice"})
	if err != nil {
		t.Fatalf("EnterMatchmaking failed: %v", err)
	}
	if entry.RoomType != config.RoomStandard {
		t.Errorf("Expected the default room, got %s", entry.RoomType)
	}
	if _, err := f.svc.CancelMatchmaking(ctx, entry.ID, "bob"); !errors.Is(err, matchmaking.ErrUnauthorized) {
		t.Errorf("Expected UNAUTHORIZED, got %v", err)
	}
	if _, err := f.svc.CancelMatchmaking(ctx, entry.ID, "alice"); err != nil {
		t.Fatalf("CancelMatchmaking failed: %v", err)
	}
	f.clock.Advance(time.Minute)
	if f.svc.HasActiveGame("alice") {
		t.Error("A cancelled entry must not fall back to a bot")
	}
}

// A whole game driven by timers keeps every round consistent.
func TestTimerDrivenGameKeepsInvariants(t *testing.T) {
	f := newFixture(t)
	f.addRoom(t, room("blitz", 2, 1, 0, 3600))
	gameID := f.startRoom(t, "blitz")

	for i := 0; i < 500; i++ {
		g := f.game(t, gameID)
		if g.Status == session.StatusFinished {
			break
		}
		if n := g.Round.CardCount(); n != hanafuda.DeckSize {
			t.Fatalf("Card count %d in round %d", n, g.RoundNumber)
		}
		f.clock.Advance(500 * time.Millisecond)
	}

	g := f.game(t, gameID)
	if g.Status != session.StatusFinished || g.FinishReason != session.FinishNormal {
		t.Fatalf("Expected the game to finish normally, got %s %s", g.Status, g.FinishReason)
	}
	if len(g.History) != 2 {
		t.Errorf("Expected two rounds of history, got %d", len(g.History))
	}
	total := 0
	for _, r := range g.History {
		if r.Outcome.WinnerID != "" {
			total += r.Outcome.Points
		}
	}
	if total != g.Scores["alice"]+g.Scores["bob"] {
		t.Errorf("Scores %v do not add up to round points %d", g.Scores, total)
	}
}

func TestRestore(t *testing.T) {
	store, err := session.NewFilePersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePersistence failed: %v", err)
	}
	f := newFixture(t, withPersistence(store), withDeck(stackDeck(t, baseAlice, baseBob, baseField, basePile)))
	gameID := f.start(t)

	restarted := newFixture(t, withPersistence(store))
	n, err := restarted.svc.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v; want 1", n, err)
	}
	if !restarted.timers.Active(timer.GameKey(timer.FamilyAction, gameID)) {
		t.Error("Restored game must have its action timer armed")
	}
	snap := restarted.snapshot(t, gameID, "alice")
	if snap.Round == nil || snap.Round.Active != "alice" || len(snap.Round.Hand) != 8 {
		t.Errorf("Unexpected restored snapshot: %+v", snap.Round)
	}
}

func TestListGamesAndSweep(t *testing.T) {
	f := newFixture(t)
	gameID := f.start(t)
	f.clock.Advance(time.Second)
	f.join(t, service.JoinRequest{PlayerID: "carol", RoomType: config.RoomStandard})

	games, err := f.svc.ListGames(context.Background())
	if err != nil || len(games) != 2 {
		t.Fatalf("ListGames = %d games, %v", len(games), err)
	}
	if games[0].ID != gameID {
		t.Errorf("Expected oldest first")
	}

	if err := f.svc.Leave(context.Background(), gameID, "alice"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	f.clock.Advance(time.Hour)
	if removed := f.svc.Sweep(time.Minute); removed != 1 {
		t.Errorf("Expected one finished game swept, got %d", removed)
	}
}

func ptr(c C) *C { return &c }
