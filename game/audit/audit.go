// Package audit records an append-only trail of game actions.
//
// Sequence numbers are taken from a process-wide counter when Record is
// called, not when the entry is written, so the stored trail keeps the
// logical order even though writes complete out of order. Record never
// blocks and never fails: a full buffer drops the entry with a warning and
// writer errors are only logged.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Entry is one audited action.
type Entry struct {
	Seq      uint64         `json:"seq"`
	Time     time.Time      `json:"time"`
	GameID   string         `json:"game_id,omitempty"`
	PlayerID string         `json:"player_id,omitempty"`
	Action   string         `json:"action"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Writer durably stores entries.
type Writer interface {
	WriteAudit(ctx context.Context, e Entry) error
}

// Recorder is the capability consumed by the session engine.
type Recorder interface {
	Record(gameID, playerID, action string, detail map[string]any) uint64
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(string, string, string, map[string]any) uint64 { return 0 }

// Options tunes a Log.
type Options struct {
	Buffer       int
	Workers      int
	WriteTimeout time.Duration
}

// Log is an asynchronous Recorder backed by a Writer.
type Log struct {
	w      Writer
	logger *zap.Logger
	opts   Options

	seq    atomic.Uint64
	ch     chan Entry
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a Log with opts.Workers goroutines draining into w.
func New(w Writer, logger *zap.Logger, opts Options) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	l := &Log{
		w:      w,
		logger: logger.Named("audit"),
		opts:   opts,
		ch:     make(chan Entry, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		l.wg.Add(1)
		go l.run()
	}
	return l
}

// Record assigns the next sequence number and queues the entry.
func (l *Log) Record(gameID, playerID, action string, detail map[string]any) uint64 {
	e := Entry{
		Seq:      l.seq.Add(1),
		Time:     time.Now().UTC(),
		GameID:   gameID,
		PlayerID: playerID,
		Action:   action,
		Detail:   detail,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("audit log closed, dropping entry", zap.Uint64("seq", e.Seq), zap.String("action", action))
		return e.Seq
	}
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("audit buffer full, dropping entry", zap.Uint64("seq", e.Seq), zap.String("action", action))
	}
	return e.Seq
}

// Close stops accepting entries and waits for queued ones to be written or
// for ctx to expire.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit log drain: %w", ctx.Err())
	}
}

func (l *Log) run() {
	defer l.wg.Done()
	for e := range l.ch {
		l.write(e)
	}
}

func (l *Log) write(e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("audit writer panicked", zap.Uint64("seq", e.Seq), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.WriteTimeout)
	defer cancel()
	if err := l.w.WriteAudit(ctx, e); err != nil {
		l.logger.Warn("audit write failed", zap.Uint64("seq", e.Seq), zap.String("game_id", e.GameID), zap.Error(err))
	}
}

// ZapWriter writes entries to a zap logger.
type ZapWriter struct {
	Logger *zap.Logger
}

// WriteAudit implements Writer.
func (z ZapWriter) WriteAudit(_ context.Context, e Entry) error {
	z.Logger.Info("audit",
		zap.Uint64("seq", e.Seq),
		zap.Time("time", e.Time),
		zap.String("game_id", e.GameID),
		zap.String("player_id", e.PlayerID),
		zap.String("action", e.Action),
		zap.Any("detail", e.Detail),
	)
	return nil
}
