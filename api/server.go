package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/audit"
	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/service"
	"github.com/wricardo/koikoi/game/session/sqlite"
	"github.com/wricardo/koikoi/transport/websocket"
)

// RoomStore reads and writes room presets. It is optional; without one the
// room detail and save endpoints are not routed.
type RoomStore interface {
	LoadConfig(name string) (*config.RoomConfig, error)
	SaveConfig(room *config.RoomConfig) error
}

// Records exposes finished-game statistics and audit trails. It is optional;
// without one the stats and audit endpoints are not routed.
type Records interface {
	Stats(ctx context.Context, playerID string) (sqlite.PlayerStats, error)
	AuditTrail(ctx context.Context, gameID string) ([]audit.Entry, error)
}

// Server represents the REST API server
type Server struct {
	service service.GameService
	hub     *websocket.Hub
	rooms   RoomStore
	records Records
	router  *mux.Router
	logger  *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRooms enables the room detail and save endpoints.
func WithRooms(rooms RoomStore) Option {
	return func(s *Server) { s.rooms = rooms }
}

// WithRecords enables the player stats and game audit endpoints.
func WithRecords(records Records) Option {
	return func(s *Server) { s.records = records }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new API server. hub may be nil, in which case /ws is
// unavailable.
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Games
	api.HandleFunc("/games", s.handleListGames).Methods("GET")
	api.HandleFunc("/games/join", s.handleJoin).Methods("POST")
	api.HandleFunc("/games/{id}", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/games/{id}/leave", s.handleLeave).Methods("POST")

	// Turns
	api.HandleFunc("/games/{id}/play", s.handlePlay).Methods("POST")
	api.HandleFunc("/games/{id}/select", s.handleSelect).Methods("POST")
	api.HandleFunc("/games/{id}/decide", s.handleDecide).Methods("POST")
	api.HandleFunc("/games/{id}/continue", s.handleContinue).Methods("POST")

	// Matchmaking
	api.HandleFunc("/matchmaking", s.handleEnterMatchmaking).Methods("POST")
	api.HandleFunc("/matchmaking/{id}", s.handleGetMatchmaking).Methods("GET")
	api.HandleFunc("/matchmaking/{id}/cancel", s.handleCancelMatchmaking).Methods("POST")
	api.HandleFunc("/matchmaking/{id}/process", s.handleProcessMatchmaking).Methods("POST")

	// Players
	api.HandleFunc("/players/{id}/active", s.handlePlayerActive).Methods("GET")
	if s.records != nil {
		api.HandleFunc("/players/{id}/stats", s.handlePlayerStats).Methods("GET")
		api.HandleFunc("/games/{id}/audit", s.handleAuditTrail).Methods("GET")
	}

	// Rooms
	api.HandleFunc("/rooms", s.handleListRooms).Methods("GET")
	if s.rooms != nil {
		api.HandleFunc("/rooms", s.handleSaveRoom).Methods("POST")
		api.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods("GET")
	}

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON body of a failed request.
type errorBody struct {
	Error       string         `json:"error"`
	Code        service.Code   `json:"code"`
	Recoverable bool           `json:"recoverable"`
	Action      service.Action `json:"action,omitempty"`
}

// respondServiceError maps a service error to its HTTP status.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	se := service.AsError(err)
	status := statusFor(se.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, errorBody{
		Error:       se.Message,
		Code:        se.Code,
		Recoverable: se.Recoverable,
		Action:      se.Action,
	})
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeInvalidRequest:
		return http.StatusBadRequest
	case service.CodeGameNotFound, service.CodeRoomNotFound,
		service.Code(matchmaking.CodeEntryNotFound):
		return http.StatusNotFound
	case service.CodeNotAPlayer, service.Code(matchmaking.CodeUnauthorized):
		return http.StatusForbidden
	case service.CodeGameFinished, service.CodeGameNotStarted, service.CodeStaleState,
		service.Code(matchmaking.CodeAlreadyInQueue), service.Code(matchmaking.CodeAlreadyInGame),
		service.Code(matchmaking.CodeNotInQueue):
		return http.StatusConflict
	case service.Code(engine.CodeWrongPlayer), service.Code(engine.CodeInvalidState),
		service.Code(engine.CodeInvalidCard), service.Code(engine.CodeInvalidTarget),
		service.Code(engine.CodeInvalidSelection), service.Code(engine.CodeInvalidDecision):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// Game Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.service.ListGames(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	status := strings.ToUpper(r.URL.Query().Get("status"))
	if status != "" {
		filtered := games[:0]
		for _, g := range games {
			if string(g.Status) == status {
				filtered = append(filtered, g)
			}
		}
		games = filtered
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(games),
		"games": games,
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req service.JoinRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.Join(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == service.JoinCreated {
		status = http.StatusCreated
	}
	respondJSON(w, status, res)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		respondError(w, http.StatusBadRequest, "player_id query parameter required")
		return
	}

	snap, err := s.service.Snapshot(r.Context(), gameID, playerID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type playerRequest struct {
	PlayerID string `json:"player_id"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req playerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.Leave(r.Context(), gameID, req.PlayerID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Player %s left game %s", req.PlayerID, gameID),
	})
}

// Turn Handlers

// cardRequest accepts cards as ids or as names such as "pine-crane".
type cardRequest struct {
	PlayerID string          `json:"player_id"`
	Card     json.RawMessage `json:"card"`
	Target   json.RawMessage `json:"target,omitempty"`
	Source   json.RawMessage `json:"source,omitempty"`
}

func parseCard(raw json.RawMessage, field string) (*hanafuda.Card, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var id int
	if err := json.Unmarshal(raw, &id); err == nil {
		c := hanafuda.Card(id)
		if !c.Valid() {
			return nil, fmt.Errorf("%s: card %d out of range", field, id)
		}
		return &c, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, fmt.Errorf("%s must be a card id or name", field)
	}
	c, err := hanafuda.Parse(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &c, nil
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req cardRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	card, err := parseCard(req.Card, "card")
	if err == nil && card == nil {
		err = errors.New("card is required")
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseCard(req.Target, "target")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.service.PlayHandCard(r.Context(), service.PlayRequest{
		GameID:   gameID,
		PlayerID: req.PlayerID,
		Card:     *card,
		Target:   target,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req cardRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := parseCard(req.Source, "source")
	if err == nil && source == nil {
		err = errors.New("source is required")
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseCard(req.Target, "target")
	if err == nil && target == nil {
		err = errors.New("target is required")
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.service.SelectTarget(r.Context(), service.SelectRequest{
		GameID:   gameID,
		PlayerID: req.PlayerID,
		Source:   *source,
		Target:   *target,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req service.DecisionRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.GameID = mux.Vars(r)["id"]
	req.Decision = engine.Decision(strings.ToUpper(string(req.Decision)))

	resp, err := s.service.Decide(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req service.ContinueRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.GameID = mux.Vars(r)["id"]
	req.Choice = service.ContinueChoice(strings.ToUpper(string(req.Choice)))

	snap, err := s.service.ConfirmContinue(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Matchmaking Handlers

func (s *Server) handleEnterMatchmaking(w http.ResponseWriter, r *http.Request) {
	var req matchmaking.EnterRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.service.EnterMatchmaking(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetMatchmaking(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetMatchmaking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCancelMatchmaking(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.service.CancelMatchmaking(r.Context(), mux.Vars(r)["id"], req.PlayerID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleProcessMatchmaking(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.service.ProcessMatchmaking(r.Context(), mux.Vars(r)["id"], req.PlayerID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePlayerActive(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["id"]
	respondJSON(w, http.StatusOK, map[string]any{
		"player_id": playerID,
		"active":    s.service.HasActiveGame(playerID),
	})
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.records.Stats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	entries, err := s.records.AuditTrail(r.Context(), gameID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"game_id": gameID,
		"count":   len(entries),
		"entries": entries,
	})
}

// Room Handlers

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.ListRooms(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.LoadConfig(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, room)
}

func (s *Server) handleSaveRoom(w http.ResponseWriter, r *http.Request) {
	var room config.RoomConfig
	if err := decode(r, &room); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.rooms.SaveConfig(&room); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save room: %v", err))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Room saved successfully",
		"room_id": room.ID,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id parameter required", http.StatusBadRequest)
		return
	}
	if s.hub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}

	s.hub.ServeWS(w, r, playerID)
}
