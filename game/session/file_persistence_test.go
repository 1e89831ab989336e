package session

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
)

func TestFilePersistence(t *testing.T) {
	dir := t.TempDir()
	persistence, err := NewFilePersistence(dir)
	if err != nil {
		t.Fatalf("Failed to create file persistence: %v", err)
	}

	g := newTestGame("g1", "QUICK", "p1", t0)
	g.Players = append(g.Players, Player{ID: "p2", Name: "p2"})
	g.Status = StatusInProgress
	var round *engine.Round
	for seed := int64(1); round == nil; seed++ {
		deck := hanafuda.Shuffle(hanafuda.NewDeck(), rand.New(rand.NewSource(seed)))
		round, _ = engine.NewEngine(nil).Deal(1, [2]string{"p1", "p2"}, "p1", deck)
	}
	g.Round = round

	t.Run("save and load", func(t *testing.T) {
		if err := persistence.Save(g); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		loaded, err := persistence.Load("g1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Status != StatusInProgress || len(loaded.Players) != 2 {
			t.Errorf("Unexpected game: %+v", loaded)
		}
		if loaded.Round == nil || loaded.Round.CardCount() != hanafuda.DeckSize {
			t.Errorf("Round did not survive the round trip")
		}
	})

	t.Run("list and exists", func(t *testing.T) {
		ids, err := persistence.ListAll()
		if err != nil {
			t.Fatalf("ListAll failed: %v", err)
		}
		if len(ids) != 1 || ids[0] != "g1" {
			t.Errorf("Unexpected ids: %v", ids)
		}
		if !persistence.Exists("g1") || persistence.Exists("g2") {
			t.Error("Exists mismatch")
		}
	})

	t.Run("rejects path ids", func(t *testing.T) {
		if _, err := persistence.Load("../etc"); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Expected ErrInvalidSessionID, got %v", err)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := persistence.Load("bad"); err == nil {
			t.Error("Expected error for corrupt file")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := persistence.Delete("g1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := persistence.Delete("g1"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
		if _, err := persistence.Load("g1"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}
