package matchmaking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/bot"
	"github.com/wricardo/koikoi/game/timer"
)

// historyTTL bounds how long terminal entries stay queryable.
const historyTTL = 10 * time.Minute

// Option configures a Pool.
type Option func(*Pool)

// WithBotFallback decides per room whether the fallback deadline pairs the
// entry with a bot. Without it every room falls back to a bot.
func WithBotFallback(f func(roomType string) bool) Option {
	return func(p *Pool) { p.botFallback = f }
}

// WithDeadlines overrides the escalation and fallback deadlines.
func WithDeadlines(escalate, fallback time.Duration) Option {
	return func(p *Pool) {
		p.escalateAfter = escalate
		p.fallbackAfter = fallback
	}
}

// Pool holds every live entry, keyed by entry id, and pairs entries of the
// same room in arrival order.
type Pool struct {
	timers   *timer.Registry
	games    GameChecker
	listener Listener
	logger   *zap.Logger

	botFallback   func(roomType string) bool
	escalateAfter time.Duration
	fallbackAfter time.Duration

	mu       sync.Mutex
	entries  map[string]*Entry
	byPlayer map[string]string
	history  map[string]*Entry
	// seating counts matches per player that the listener has not finished
	// seating yet.
	seating map[string]int
}

// New creates an empty pool. games and listener may be nil.
func New(timers *timer.Registry, games GameChecker, listener Listener, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		timers:        timers,
		games:         games,
		listener:      listener,
		logger:        logger,
		botFallback:   func(string) bool { return true },
		escalateAfter: EscalateAfter,
		fallbackAfter: FallbackAfter,
		entries:       make(map[string]*Entry),
		byPlayer:      make(map[string]string),
		history:       make(map[string]*Entry),
		seating:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetListener replaces the listener. It is meant for wiring at startup,
// before any entry exists.
func (p *Pool) SetListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// notification is a listener call collected under the lock and delivered
// after it is released.
type notification struct {
	entry   Entry
	status  Status
	elapsed time.Duration
	match   *Match
}

// Enter adds a player to the pool of a room. If another live entry is
// waiting in the same room the two are matched immediately; otherwise the
// entry starts SEARCHING and its deadlines are armed.
func (p *Pool) Enter(ctx context.Context, req EnterRequest) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	req.RoomType = strings.ToUpper(strings.TrimSpace(req.RoomType))
	if req.PlayerID == "" || req.RoomType == "" {
		return Entry{}, ErrInvalidRequest
	}

	p.mu.Lock()
	now := p.timers.Clock().Now()
	p.pruneLocked(now)

	if _, queued := p.byPlayer[req.PlayerID]; queued || p.seating[req.PlayerID] > 0 {
		p.mu.Unlock()
		return Entry{}, ErrAlreadyInQueue
	}
	if p.games != nil && p.games.HasActiveGame(req.PlayerID) {
		p.mu.Unlock()
		return Entry{}, ErrAlreadyInGame
	}

	e := &Entry{
		ID:        uuid.NewString(),
		PlayerID:  req.PlayerID,
		Name:      req.Name,
		RoomType:  req.RoomType,
		Status:    StatusSearching,
		EnteredAt: now,
	}
	p.entries[e.ID] = e
	p.byPlayer[e.PlayerID] = e.ID

	var notes []notification
	if opp := p.opponentLocked(e); opp != nil {
		notes = p.matchLocked(opp, e, now)
	} else {
		id := e.ID
		p.timers.ScheduleSteps(timer.GameKey(timer.FamilyMatchmaking, id),
			timer.Step{After: p.escalateAfter, Fn: func() { p.escalate(id) }},
			timer.Step{After: p.fallbackAfter, Fn: func() { p.fallback(id) }},
		)
		notes = append(notes, notification{entry: *e, status: StatusSearching})
	}
	out := *e
	listener := p.listener
	p.mu.Unlock()

	p.logger.Info("matchmaking entry created",
		zap.String("entry_id", out.ID),
		zap.String("player_id", out.PlayerID),
		zap.String("room_type", out.RoomType),
		zap.String("status", string(out.Status)))
	p.deliver(listener, notes)
	return out, nil
}

// Cancel withdraws a live entry. Only the owning player may cancel it.
func (p *Pool) Cancel(ctx context.Context, entryID, playerID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	p.mu.Lock()
	now := p.timers.Clock().Now()
	p.pruneLocked(now)

	e, err := p.lookupLocked(entryID, playerID)
	if err != nil {
		p.mu.Unlock()
		return Entry{}, err
	}

	p.timers.Cancel(timer.GameKey(timer.FamilyMatchmaking, e.ID))
	e.Status = StatusCancelled
	p.retireLocked(e)
	out := *e
	listener := p.listener
	p.mu.Unlock()

	p.logger.Info("matchmaking entry cancelled", zap.String("entry_id", out.ID), zap.String("player_id", out.PlayerID))
	p.deliver(listener, []notification{{entry: out, status: StatusCancelled, elapsed: now.Sub(out.EnteredAt)}})
	return out, nil
}

// Process retries pairing a live entry with the oldest waiting opponent.
func (p *Pool) Process(ctx context.Context, entryID, playerID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	p.mu.Lock()
	now := p.timers.Clock().Now()
	e, err := p.lookupLocked(entryID, playerID)
	if err != nil {
		p.mu.Unlock()
		return Entry{}, err
	}

	var notes []notification
	if opp := p.opponentLocked(e); opp != nil {
		// The opponent was queued first unless EnteredAt says otherwise.
		first, second := opp, e
		if e.EnteredAt.Before(opp.EnteredAt) {
			first, second = e, opp
		}
		notes = p.matchLocked(first, second, now)
	}
	out := *e
	listener := p.listener
	p.mu.Unlock()

	p.deliver(listener, notes)
	return out, nil
}

// Get returns an entry, live or recently finished.
func (p *Pool) Get(entryID string) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[entryID]; ok {
		return *e, nil
	}
	if e, ok := p.history[entryID]; ok {
		return *e, nil
	}
	return Entry{}, ErrEntryNotFound
}

// Seating reports whether a match including playerID has been made but the
// listener has not returned from Matched yet.
func (p *Pool) Seating(playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seating[playerID] > 0
}

// EntryFor returns the live entry of a player, if any.
func (p *Pool) EntryFor(playerID string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byPlayer[playerID]
	if !ok {
		return Entry{}, false
	}
	return *p.entries[id], true
}

// Queue returns the live entries of a room in arrival order. An empty room
// type returns every live entry.
func (p *Pool) Queue(roomType string) []Entry {
	roomType = strings.ToUpper(roomType)
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if roomType == "" || e.RoomType == roomType {
			out = append(out, *e)
		}
	}
	sortByArrival(out)
	return out
}

// Len returns the number of live entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close cancels every live entry without notifying the listener.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.entries {
		p.timers.Cancel(timer.GameKey(timer.FamilyMatchmaking, id))
		e.Status = StatusCancelled
		p.retireLocked(e)
	}
}

func (p *Pool) escalate(entryID string) {
	p.mu.Lock()
	e, ok := p.entries[entryID]
	if !ok || e.Status != StatusSearching {
		p.mu.Unlock()
		return
	}
	e.Status = StatusLowAvailability
	now := p.timers.Clock().Now()
	out := *e
	listener := p.listener
	p.mu.Unlock()

	p.logger.Info("matchmaking availability low", zap.String("entry_id", out.ID), zap.String("room_type", out.RoomType))
	p.deliver(listener, []notification{{entry: out, status: StatusLowAvailability, elapsed: now.Sub(out.EnteredAt)}})
}

func (p *Pool) fallback(entryID string) {
	p.mu.Lock()
	e, ok := p.entries[entryID]
	if !ok || !e.Status.Live() {
		p.mu.Unlock()
		return
	}
	now := p.timers.Clock().Now()
	elapsed := now.Sub(e.EnteredAt)

	var notes []notification
	if p.botFallback(e.RoomType) {
		botEntry := Entry{
			ID:          uuid.NewString(),
			PlayerID:    bot.NewID(),
			Name:        "Bot",
			RoomType:    e.RoomType,
			Status:      StatusMatched,
			EnteredAt:   now,
			MatchedWith: e.PlayerID,
		}
		e.Status = StatusMatched
		e.MatchedWith = botEntry.PlayerID
		p.retireLocked(e)
		m := &Match{RoomType: e.RoomType, Players: [2]Entry{*e, botEntry}, Bot: true}
		p.seating[e.PlayerID]++
		notes = append(notes,
			notification{entry: *e, status: StatusMatched, elapsed: elapsed},
			notification{match: m},
		)
	} else {
		e.Status = StatusCancelled
		p.retireLocked(e)
		notes = append(notes, notification{entry: *e, status: StatusFailed, elapsed: elapsed})
	}
	listener := p.listener
	p.mu.Unlock()

	p.logger.Info("matchmaking fallback deadline reached",
		zap.String("entry_id", entryID),
		zap.Duration("elapsed", elapsed),
		zap.Bool("bot", notes[0].status == StatusMatched))
	p.deliver(listener, notes)
}

// lookupLocked resolves a live entry owned by playerID.
func (p *Pool) lookupLocked(entryID, playerID string) (*Entry, error) {
	e, live := p.entries[entryID]
	if !live {
		e = p.history[entryID]
	}
	if e == nil {
		return nil, ErrEntryNotFound
	}
	if e.PlayerID != playerID {
		return nil, ErrUnauthorized
	}
	if !live {
		return nil, ErrNotInQueue
	}
	return e, nil
}

// opponentLocked returns the oldest live entry of e's room held by another
// player.
func (p *Pool) opponentLocked(e *Entry) *Entry {
	var best *Entry
	for _, other := range p.entries {
		if other.ID == e.ID || other.PlayerID == e.PlayerID || other.RoomType != e.RoomType || !other.Status.Live() {
			continue
		}
		if best == nil || arrivesBefore(other, best) {
			best = other
		}
	}
	return best
}

// matchLocked pairs two live entries. Both timer registrations are cancelled
// before either entry is marked MATCHED.
func (p *Pool) matchLocked(first, second *Entry, now time.Time) []notification {
	p.timers.Cancel(timer.GameKey(timer.FamilyMatchmaking, first.ID))
	p.timers.Cancel(timer.GameKey(timer.FamilyMatchmaking, second.ID))

	first.Status, second.Status = StatusMatched, StatusMatched
	first.MatchedWith, second.MatchedWith = second.PlayerID, first.PlayerID
	p.retireLocked(first)
	p.retireLocked(second)

	m := &Match{RoomType: first.RoomType, Players: [2]Entry{*first, *second}}
	p.seating[first.PlayerID]++
	p.seating[second.PlayerID]++
	return []notification{
		{entry: *first, status: StatusMatched, elapsed: now.Sub(first.EnteredAt)},
		{entry: *second, status: StatusMatched, elapsed: now.Sub(second.EnteredAt)},
		{match: m},
	}
}

func (p *Pool) retireLocked(e *Entry) {
	delete(p.entries, e.ID)
	if p.byPlayer[e.PlayerID] == e.ID {
		delete(p.byPlayer, e.PlayerID)
	}
	p.history[e.ID] = e
}

func (p *Pool) pruneLocked(now time.Time) {
	for id, e := range p.history {
		if now.Sub(e.EnteredAt) > historyTTL {
			delete(p.history, id)
		}
	}
}

// deliver hands notes to the listener and releases the seating marks of
// every match once Matched returns.
func (p *Pool) deliver(l Listener, notes []notification) {
	for _, n := range notes {
		if n.match != nil {
			if l != nil {
				l.Matched(*n.match)
			}
			p.seated(*n.match)
			continue
		}
		if l != nil {
			l.StatusChanged(n.entry, n.status, n.elapsed)
		}
	}
}

func (p *Pool) seated(m Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range m.Players {
		if p.seating[e.PlayerID] <= 1 {
			delete(p.seating, e.PlayerID)
			continue
		}
		p.seating[e.PlayerID]--
	}
}

func arrivesBefore(a, b *Entry) bool {
	if !a.EnteredAt.Equal(b.EnteredAt) {
		return a.EnteredAt.Before(b.EnteredAt)
	}
	return a.ID < b.ID
}

func sortByArrival(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return arrivesBefore(&entries[i], &entries[j]) })
}
