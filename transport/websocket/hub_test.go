package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/koikoi/game/event"
)

type presenceRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (p *presenceRecorder) PlayerConnected(_ context.Context, playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "connected:"+playerID)
}

func (p *presenceRecorder) PlayerDisconnected(_ context.Context, playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "disconnected:"+playerID)
}

func (p *presenceRecorder) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("player_id"))
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url, playerID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?player_id="+playerID, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.players == nil {
		t.Error("Hub players map is nil")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("Hub channels must be created")
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(nil, nil)
	client1 := &Client{hub: hub, playerID: "alice", send: make(chan []byte, sendBuffer)}
	client2 := &Client{hub: hub, playerID: "alice", send: make(chan []byte, sendBuffer)}

	hub.registerClient(client1)
	hub.registerClient(client2)
	if n := hub.Connections("alice"); n != 2 {
		t.Errorf("Expected 2 connections, got %d", n)
	}

	hub.unregisterClient(client1)
	if n := hub.Connections("alice"); n != 1 {
		t.Errorf("Expected 1 connection remaining, got %d", n)
	}
	if !hub.players["alice"][client2] {
		t.Error("client2 should still be registered")
	}

	hub.unregisterClient(client2)
	if _, exists := hub.players["alice"]; exists {
		t.Error("Player should have been cleaned up after last client unregistered")
	}

	// A second unregister is a no-op and must not close send twice.
	hub.unregisterClient(client2)
}

func TestHubDeliverToRecipients(t *testing.T) {
	hub := NewHub(nil, nil)
	alice := &Client{hub: hub, playerID: "alice", send: make(chan []byte, sendBuffer)}
	bob := &Client{hub: hub, playerID: "bob", send: make(chan []byte, sendBuffer)}
	hub.registerClient(alice)
	hub.registerClient(bob)

	hub.Publish([]string{"alice"}, event.New(event.TurnError, "g1", map[string]string{"code": "WRONG_PLAYER"}))
	hub.deliver(<-hub.broadcast)

	select {
	case data := <-alice.send:
		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		if evt.Type != event.TurnError || evt.GameID != "g1" || evt.ID == "" {
			t.Errorf("Unexpected event: %+v", evt)
		}
	default:
		t.Fatal("alice received nothing")
	}
	select {
	case <-bob.send:
		t.Error("bob must not receive alice's event")
	default:
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := &Client{hub: hub, playerID: "alice", send: make(chan []byte)}
	hub.registerClient(slow)

	hub.deliver(delivery{recipients: []string{"alice"}, data: []byte("{}")})
	if hub.Connections("alice") != 0 {
		t.Error("A client that cannot keep up must be dropped")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < publishBuffer+10; i++ {
			hub.Publish([]string{"alice"}, event.New(event.StateSnapshot, "g1", nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}

func TestWebSocketEventsAndPresence(t *testing.T) {
	presence := &presenceRecorder{}
	hub := NewHub(presence, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	url := newTestServer(t, hub)

	first := dial(t, url, "alice")
	second := dial(t, url, "alice")
	waitFor(t, "two connections", func() bool { return hub.Connections("alice") == 2 })

	hub.Publish([]string{"alice", "bob"}, event.New(event.GameStarted, "g1", map[string]int{"total_rounds": 3}))
	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("connection %d: failed to read: %v", i, err)
		}
		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("connection %d: failed to unmarshal: %v", i, err)
		}
		if evt.Type != event.GameStarted {
			t.Errorf("connection %d: expected game_started, got %s", i, evt.Type)
		}
	}

	first.Close()
	waitFor(t, "one connection", func() bool { return hub.Connections("alice") == 1 })
	second.Close()
	waitFor(t, "disconnect callback", func() bool { return len(presence.snapshot()) == 2 })

	want := []string{"connected:alice", "disconnected:alice"}
	got := presence.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Presence calls = %v, want %v", got, want)
			break
		}
	}
}

func TestRunClosesConnectionsOnShutdown(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	url := newTestServer(t, hub)

	conn := dial(t, url, "alice")
	waitFor(t, "connection", func() bool { return hub.Connections("alice") == 1 })

	cancel()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if hub.Connections("alice") != 0 {
		t.Error("Shutdown must drop every connection")
	}
}
