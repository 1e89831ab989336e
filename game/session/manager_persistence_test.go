package session

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingPersistence struct {
	SessionPersistence
}

func (failingPersistence) Save(*Game) error { return errors.New("disk full") }

func TestManager_WithPersistence(t *testing.T) {
	persistence, err := NewFilePersistence(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	manager := NewManagerWithPersistence(persistence, nil)

	g := newTestGame("g1", "QUICK", "p1", t0)
	if err := manager.Create(g); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !persistence.Exists("g1") {
		t.Fatal("Create should write the game through")
	}

	t.Run("get falls back to persistence", func(t *testing.T) {
		if err := manager.DeleteFromMemory("g1"); err != nil {
			t.Fatalf("DeleteFromMemory failed: %v", err)
		}
		got, err := manager.Get("g1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.RoomType != "QUICK" || got.Players[0].ID != "p1" {
			t.Errorf("Unexpected game: %+v", got)
		}
		if manager.ActiveGameFor("p1") == nil {
			t.Error("A game loaded on demand must be indexed")
		}
	})

	t.Run("load persisted skips finished games", func(t *testing.T) {
		done := newTestGame("done", "QUICK", "p2", t0)
		done.Status = StatusFinished
		if err := persistence.Save(done); err != nil {
			t.Fatal(err)
		}

		fresh := NewManagerWithPersistence(persistence, nil)
		loaded, err := fresh.LoadPersistedSessions()
		if err != nil {
			t.Fatalf("LoadPersistedSessions failed: %v", err)
		}
		if len(loaded) != 1 || loaded[0].ID != "g1" {
			t.Errorf("Expected only g1 loaded, got %d games", len(loaded))
		}
	})

	t.Run("delete removes file", func(t *testing.T) {
		if err := manager.Delete("g1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if persistence.Exists("g1") {
			t.Error("Expected file removed")
		}
	})
}

func TestManager_PersistenceFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	manager := NewManagerWithPersistence(failingPersistence{}, zap.New(core))

	g := newTestGame("g1", "QUICK", "p1", time.Now())
	if err := manager.Create(g); err != nil {
		t.Fatalf("Create must succeed when persistence fails, got %v", err)
	}
	if _, err := manager.Get("g1"); err != nil {
		t.Errorf("Game must stay in memory: %v", err)
	}
	if logs.FilterMessage("failed to persist game").Len() != 1 {
		t.Errorf("Expected a logged warning, got %v", logs.All())
	}
}
