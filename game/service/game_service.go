package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/audit"
	"github.com/wricardo/koikoi/game/bot"
	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/event"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/lock"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/timer"
)

// GameService defines all game-related operations
type GameService interface {
	// Games
	Join(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Leave(ctx context.Context, gameID, playerID string) error
	Snapshot(ctx context.Context, gameID, playerID string) (*Snapshot, error)
	ListGames(ctx context.Context) ([]GameSummary, error)
	HasActiveGame(playerID string) bool

	// Turns
	PlayHandCard(ctx context.Context, req PlayRequest) (*TurnResponse, error)
	SelectTarget(ctx context.Context, req SelectRequest) (*TurnResponse, error)
	Decide(ctx context.Context, req DecisionRequest) (*TurnResponse, error)
	ConfirmContinue(ctx context.Context, req ContinueRequest) (*Snapshot, error)

	// Matchmaking
	EnterMatchmaking(ctx context.Context, req matchmaking.EnterRequest) (matchmaking.Entry, error)
	CancelMatchmaking(ctx context.Context, entryID, playerID string) (matchmaking.Entry, error)
	ProcessMatchmaking(ctx context.Context, entryID, playerID string) (matchmaking.Entry, error)
	GetMatchmaking(ctx context.Context, entryID string) (matchmaking.Entry, error)

	// Rooms
	ListRooms(ctx context.Context) ([]*config.RoomInfo, error)

	// Presence
	PlayerConnected(ctx context.Context, playerID string)
	PlayerDisconnected(ctx context.Context, playerID string)
}

// RoomSource resolves room presets.
type RoomSource interface {
	LoadConfig(name string) (*config.RoomConfig, error)
	ListConfigs() ([]*config.RoomInfo, error)
	GetDefault() *config.RoomConfig
}

// StatsRecorder receives the result of every finished game.
type StatsRecorder interface {
	RecordResult(ctx context.Context, r session.Result) error
}

// NopStats discards results.
type NopStats struct{}

// RecordResult implements StatsRecorder.
func (NopStats) RecordResult(context.Context, session.Result) error { return nil }

// Options are the collaborators of a Service. Sessions, Rooms and Timers are
// required; every other field has a no-op or default implementation.
type Options struct {
	Sessions *session.Manager
	Rooms    RoomSource
	Timers   *timer.Registry
	Locks    *lock.Locker
	Events   event.Sink
	Audit    audit.Recorder
	Stats    StatsRecorder
	Strategy bot.Strategy
	Logger   *zap.Logger
	// Deck returns the deck for the next deal. It defaults to a shuffled
	// deck.
	Deck func() []hanafuda.Card
	// MaxRedeals bounds redeals caused by a field holding a whole month.
	MaxRedeals int
}

// Service is the session engine: it owns live games, drives their rounds
// through the round engine under the per-game lock, arms every timer and
// publishes events.
type Service struct {
	sessions *session.Manager
	rooms    RoomSource
	timers   *timer.Registry
	locks    *lock.Locker
	events   event.Sink
	audit    audit.Recorder
	stats    StatsRecorder
	strategy bot.Strategy
	pool     *matchmaking.Pool
	logger   *zap.Logger
	tracer   trace.Tracer

	deck       func() []hanafuda.Card
	maxRedeals int
}

var _ GameService = (*Service)(nil)

// NewGameService creates a new game service instance
func NewGameService(opts Options) *Service {
	s := &Service{
		sessions:   opts.Sessions,
		rooms:      opts.Rooms,
		timers:     opts.Timers,
		locks:      opts.Locks,
		events:     opts.Events,
		audit:      opts.Audit,
		stats:      opts.Stats,
		strategy:   opts.Strategy,
		logger:     opts.Logger,
		deck:       opts.Deck,
		maxRedeals: opts.MaxRedeals,
		tracer:     otel.Tracer("github.com/wricardo/koikoi/game/service"),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("service")
	if s.locks == nil {
		s.locks = lock.New()
	}
	if s.events == nil {
		s.events = event.NopSink{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.stats == nil {
		s.stats = NopStats{}
	}
	if s.strategy == nil {
		s.strategy = bot.Greedy{}
	}
	if s.deck == nil {
		var mu sync.Mutex
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		s.deck = func() []hanafuda.Card {
			mu.Lock()
			defer mu.Unlock()
			return hanafuda.Shuffle(hanafuda.NewDeck(), rng)
		}
	}
	if s.maxRedeals <= 0 {
		s.maxRedeals = 16
	}

	s.pool = matchmaking.New(s.timers, s, s, s.logger.Named("matchmaking"),
		matchmaking.WithBotFallback(s.roomHasBots))
	return s
}

// Pool returns the matchmaking pool fed by the service.
func (s *Service) Pool() *matchmaking.Pool {
	return s.pool
}

// Close cancels every matchmaking entry and saves every live game.
func (s *Service) Close(ctx context.Context) error {
	s.pool.Close()
	for _, g := range s.sessions.List() {
		err := s.locks.Do(ctx, g.ID, func(context.Context) error {
			return s.sessions.Save(g)
		})
		if err != nil {
			s.logger.Warn("failed to save game on shutdown", zap.String("game_id", g.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.timers.Clock().Now()
}

func (s *Service) room(roomType string) (*config.RoomConfig, error) {
	if roomType == "" {
		return s.rooms.GetDefault(), nil
	}
	room, err := s.rooms.LoadConfig(roomType)
	if err != nil {
		return nil, &Error{Code: CodeRoomNotFound, Message: err.Error(), Recoverable: true, Action: ActionRetry}
	}
	return room, nil
}

// roomOf resolves the room of a live game. Games outlive room file edits, so
// a room that disappeared falls back to the default.
func (s *Service) roomOf(g *session.Game) *config.RoomConfig {
	room, err := s.rooms.LoadConfig(g.RoomType)
	if err != nil {
		s.logger.Warn("room of live game not found, using default", zap.String("game_id", g.ID), zap.String("room_type", g.RoomType))
		return s.rooms.GetDefault()
	}
	return room
}

func (s *Service) roomHasBots(roomType string) bool {
	room, err := s.rooms.LoadConfig(roomType)
	return err == nil && room.BotFallback
}

// engineFor returns a round engine scoring with the room's rules.
func (s *Service) engineFor(room *config.RoomConfig) *engine.GameEngine {
	return engine.NewEngine(room.Evaluator())
}

// ListRooms returns the available room presets.
func (s *Service) ListRooms(ctx context.Context) ([]*config.RoomInfo, error) {
	return s.rooms.ListConfigs()
}

// HasActiveGame reports whether playerID is seated in a WAITING or
// IN_PROGRESS game.
func (s *Service) HasActiveGame(playerID string) bool {
	return s.sessions.ActiveGameFor(playerID) != nil
}
