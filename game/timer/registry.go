package timer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServerBuffer is added to every client-visible countdown so the server
// never expires a deadline before the client shows it as elapsed.
const ServerBuffer = 1500 * time.Millisecond

// Family groups timers that share a purpose.
type Family string

const (
	FamilyAction      Family = "action"
	FamilyDisconnect  Family = "disconnect"
	FamilyIdle        Family = "idle"
	FamilyContinue    Family = "continue"
	FamilyMatchmaking Family = "matchmaking"
	FamilyBot         Family = "bot"
)

// Key identifies one registration in a Registry.
type Key struct {
	Family   Family
	GameID   string
	PlayerID string
}

// GameKey builds a key scoped to a whole game (or matchmaking entry).
func GameKey(f Family, gameID string) Key {
	return Key{Family: f, GameID: gameID}
}

// PlayerKey builds a key scoped to one player of a game.
func PlayerKey(f Family, gameID, playerID string) Key {
	return Key{Family: f, GameID: gameID, PlayerID: playerID}
}

func (k Key) String() string {
	if k.PlayerID == "" {
		return fmt.Sprintf("%s/%s", k.Family, k.GameID)
	}
	return fmt.Sprintf("%s/%s/%s", k.Family, k.GameID, k.PlayerID)
}

// Step is one callback of a staged registration, measured from the
// registration instant.
type Step struct {
	After time.Duration
	Fn    func()
}

type registration struct {
	id        uint64
	startedAt time.Time
	visible   time.Duration
	steps     []Step
	handles   []Handle
	pending   int
}

// Registry owns every armed timer of the process. It is safe for concurrent
// use; callbacks run without the registry lock held.
type Registry struct {
	clock  Clock
	logger *zap.Logger

	mu     sync.Mutex
	timers map[Key]*registration
	nextID uint64
	closed bool
}

// NewRegistry creates an empty registry on the given clock.
func NewRegistry(clock Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clock:  clock,
		logger: logger,
		timers: make(map[Key]*registration),
	}
}

// Clock returns the clock the registry schedules on.
func (r *Registry) Clock() Clock {
	return r.clock
}

// Schedule arms fn to run after d, replacing any registration under key.
func (r *Registry) Schedule(key Key, d time.Duration, fn func()) {
	r.arm(key, d, []Step{{After: d, Fn: fn}})
}

// ScheduleVisible arms fn for a client-visible countdown of d. The callback
// runs ServerBuffer after the visible deadline; Remaining reports against d.
func (r *Registry) ScheduleVisible(key Key, d time.Duration, fn func()) {
	r.arm(key, d, []Step{{After: d + ServerBuffer, Fn: fn}})
}

// ScheduleSteps arms several callbacks measured from the same instant under
// one key. Cancelling the key cancels every step that has not run yet.
func (r *Registry) ScheduleSteps(key Key, steps ...Step) {
	if len(steps) == 0 {
		r.Cancel(key)
		return
	}
	sorted := append([]Step(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].After < sorted[j].After })
	r.arm(key, sorted[len(sorted)-1].After, sorted)
}

func (r *Registry) arm(key Key, visible time.Duration, steps []Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Debug("timer registry closed, ignoring schedule", zap.Stringer("key", key))
		return
	}
	if prev, ok := r.timers[key]; ok {
		stopAll(prev)
		delete(r.timers, key)
	}

	r.nextID++
	reg := &registration{
		id:        r.nextID,
		startedAt: r.clock.Now(),
		visible:   visible,
		steps:     steps,
		pending:   len(steps),
	}
	r.timers[key] = reg
	r.startLocked(key, reg)
}

// startLocked creates the underlying handles. Must hold r.mu.
func (r *Registry) startLocked(key Key, reg *registration) {
	reg.handles = make([]Handle, 0, len(reg.steps))
	for _, step := range reg.steps {
		step := step
		id := reg.id
		reg.handles = append(reg.handles, r.clock.AfterFunc(step.After, func() {
			r.fire(key, id, step.Fn)
		}))
	}
}

func (r *Registry) fire(key Key, id uint64, fn func()) {
	r.mu.Lock()
	reg, ok := r.timers[key]
	if !ok || reg.id != id {
		r.mu.Unlock()
		return
	}
	reg.pending--
	if reg.pending <= 0 {
		delete(r.timers, key)
	}
	r.mu.Unlock()

	r.logger.Debug("timer fired", zap.Stringer("key", key))
	if fn != nil {
		fn()
	}
}

// Restart re-arms an existing registration from now with its original
// durations and callbacks. It reports false when nothing is armed under key.
func (r *Registry) Restart(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.timers[key]
	if !ok || r.closed {
		return false
	}
	stopAll(prev)

	r.nextID++
	reg := &registration{
		id:        r.nextID,
		startedAt: r.clock.Now(),
		visible:   prev.visible,
		steps:     prev.steps,
		pending:   len(prev.steps),
	}
	r.timers[key] = reg
	r.startLocked(key, reg)
	return true
}

// Cancel stops the registration under key. It reports whether something was
// armed; cancelling an unknown key is a no-op.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.timers[key]
	if !ok {
		return false
	}
	stopAll(reg)
	delete(r.timers, key)
	return true
}

// ClearGame cancels every family registered for gameID and returns how many
// registrations were removed.
func (r *Registry) ClearGame(gameID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, reg := range r.timers {
		if key.GameID != gameID {
			continue
		}
		stopAll(reg)
		delete(r.timers, key)
		removed++
	}
	return removed
}

// Active reports whether a registration exists under key.
func (r *Registry) Active(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Remaining returns the whole seconds left on the client-visible countdown of
// key. The value never drops below 1 while the timer is armed.
func (r *Registry) Remaining(key Key) (int, bool) {
	r.mu.Lock()
	reg, ok := r.timers[key]
	if !ok {
		r.mu.Unlock()
		return 0, false
	}
	elapsed := r.clock.Now().Sub(reg.startedAt)
	visible := reg.visible
	r.mu.Unlock()

	secs := int((visible - elapsed) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs, true
}

// Len returns the number of armed registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels everything and rejects further scheduling.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, reg := range r.timers {
		stopAll(reg)
		delete(r.timers, key)
	}
	r.closed = true
}

func stopAll(reg *registration) {
	for _, h := range reg.handles {
		if h != nil {
			h.Stop()
		}
	}
}
