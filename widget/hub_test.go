package widget

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// dialPair upgrades one client/server connection pair through httptest.
func dialPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	select {
	case server = <-serverCh:
	case <-time.After(time.Second):
		t.Fatal("server connection not established")
	}
	return server, client
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

func TestNotifyOneReachesOnlyItsRoom(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	srA, clA := dialPair(t)
	srB, clB := dialPair(t)
	if err := hub.Register(Room{UserID: 1, Module: "sr"}, srA); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := hub.Register(Room{UserID: 2, Module: "sr"}, srB); err != nil {
		t.Fatalf("register B: %v", err)
	}

	hub.NotifyOne(1, "sr", Event{Type: "playlist", Data: []string{"song"}})

	ev := readEvent(t, clA)
	if ev.Type != "playlist" {
		t.Fatalf("event = %+v", ev)
	}

	_ = clB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := clB.ReadMessage(); err == nil {
		t.Fatal("room 2 received room 1's event")
	}
}

func TestNotifyAllFansOut(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	srA, clA := dialPair(t)
	srB, clB := dialPair(t)
	if err := hub.Register(Room{UserID: 1, Module: "sr"}, srA); err != nil {
		t.Fatal(err)
	}
	if err := hub.Register(Room{UserID: 2, Module: "sr"}, srB); err != nil {
		t.Fatal(err)
	}

	hub.NotifyAll([]int64{1, 2}, "sr", Event{Type: "pause"})
	if ev := readEvent(t, clA); ev.Type != "pause" {
		t.Fatalf("A got %+v", ev)
	}
	if ev := readEvent(t, clB); ev.Type != "pause" {
		t.Fatalf("B got %+v", ev)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	sr, cl := dialPair(t)
	room := Room{UserID: 1, Module: "general"}
	if err := hub.Register(room, sr); err != nil {
		t.Fatal(err)
	}
	if got := hub.ClientCount(room); got != 1 {
		t.Fatalf("clients = %d", got)
	}

	hub.Unregister(room, sr)
	if got := hub.ClientCount(room); got != 0 {
		t.Fatalf("clients after unregister = %d", got)
	}

	hub.NotifyOne(1, "general", Event{Type: "x"})
	_ = cl.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := cl.ReadMessage(); err == nil {
		t.Fatal("received event after unregister")
	}
}

func TestStoppedHubDoesNotBlockCallers(t *testing.T) {
	hub := NewHub()
	hub.Stop()
	hub.Stop()

	sr, _ := dialPair(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the command buffer size; every call must return.
		for i := 0; i < 1000; i++ {
			hub.NotifyOne(1, "sr", Event{Type: "playlist"})
		}
		if got := hub.ClientCount(Room{UserID: 1, Module: "sr"}); got != 0 {
			t.Errorf("clients after stop = %d", got)
		}
		if err := hub.Register(Room{UserID: 1, Module: "sr"}, sr); err != ErrHubStopped {
			t.Errorf("register after stop = %v, want ErrHubStopped", err)
		}
		hub.Unregister(Room{UserID: 1, Module: "sr"}, sr)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("caller blocked on stopped hub")
	}
}

func TestTokensStableAndRevocable(t *testing.T) {
	toks := NewTokens()
	tok := toks.Create(1, "sr")
	if tok == "" {
		t.Fatal("empty token")
	}
	if again := toks.Create(1, "sr"); again != tok {
		t.Fatal("token not stable across Create calls")
	}
	room, ok := toks.Lookup(tok)
	if !ok || room.UserID != 1 || room.Module != "sr" {
		t.Fatalf("lookup = %+v %v", room, ok)
	}

	toks.Revoke(1, "sr")
	if _, ok := toks.Lookup(tok); ok {
		t.Fatal("token still valid after revoke")
	}
	if fresh := toks.Create(1, "sr"); fresh == tok {
		t.Fatal("revoked token reissued")
	}
}
