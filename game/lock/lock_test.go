package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocker_SerializesSameID(t *testing.T) {
	l := New()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), "g1", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("Expected at most one holder, saw %d", maxSeen)
	}
	if l.Held() != 0 {
		t.Errorf("Expected slots to be released, %d remain", l.Held())
	}
}

func TestLocker_DistinctIDsDoNotBlock(t *testing.T) {
	l := New()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.Do(context.Background(), "g1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), "g2", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Work on a different id was blocked")
	}
	close(release)
}

func TestRun_ReturnsResult(t *testing.T) {
	l := New()
	got, err := Run(context.Background(), l, "g1", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

func TestRun_ReleasesOnError(t *testing.T) {
	l := New()
	boom := errors.New("boom")

	_, err := Run(context.Background(), l, "g1", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Do(ctx, "g1", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Lock was not released after error: %v", err)
	}
}

func TestRun_ReleasesOnPanic(t *testing.T) {
	l := New()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic to propagate")
			}
		}()
		_ = l.Do(context.Background(), "g1", func(ctx context.Context) error {
			panic("boom")
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Do(ctx, "g1", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Lock was not released after panic: %v", err)
	}
	if l.Held() != 0 {
		t.Errorf("Expected no held slots, got %d", l.Held())
	}
}

func TestLocker_ContextCancelWhileWaiting(t *testing.T) {
	l := New()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.Do(context.Background(), "g1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, "g1", func(ctx context.Context) error {
		t.Error("Work should not run after the wait was cancelled")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	close(release)
}

func TestLocker_RevalidationPattern(t *testing.T) {
	l := New()
	status := "waiting"

	claim := func() error {
		return l.Do(context.Background(), "g1", func(ctx context.Context) error {
			if status != "waiting" {
				return ErrStale
			}
			status = "taken"
			return nil
		})
	}

	if err := claim(); err != nil {
		t.Fatalf("First claim failed: %v", err)
	}
	if err := claim(); !errors.Is(err, ErrStale) {
		t.Errorf("Second claim should be stale, got %v", err)
	}
}
