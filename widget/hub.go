// Package widget pushes module state to browser-source widgets over
// WebSocket. Connections are grouped into rooms keyed by channel user id and
// module name; the hub runs as a single actor goroutine so room state needs
// no locking.
package widget

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/streambot/telemetry"
)

const maxClientsPerRoom = 50

// Room identifies one widget audience.
type Room struct {
	UserID int64
	Module string
}

// Event is the wire envelope every widget message uses.
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data,omitempty"`
}

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	room  Room
	conn  *websocket.Conn
	errCh chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	room Room
	conn *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	rooms []Room
	data  []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdClientCount struct {
	room    Room
	replyCh chan int
}

func (cmdClientCount) hubCmd() {}

// clientWriter serializes writes to one connection.
type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			_ = cw.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	_ = cw.conn.Close()
}

// Hub owns all widget connections.
type Hub struct {
	cmdCh    chan hubCmd
	done     chan struct{}
	stopOnce sync.Once
	clients  map[Room]map[*websocket.Conn]*clientWriter
}

func NewHub() *Hub {
	h := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		done:    make(chan struct{}),
		clients: make(map[Room]map[*websocket.Conn]*clientWriter),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case cmdRegister:
				h.handleRegister(c)
			case cmdUnregister:
				h.handleUnregister(c.room, c.conn)
			case cmdBroadcast:
				for _, room := range c.rooms {
					h.handleBroadcast(room, c.data)
				}
			case cmdClientCount:
				c.replyCh <- len(h.clients[c.room])
			}
		case <-h.done:
			h.handleStop()
			return
		}
	}
}

// send enqueues a command, or reports false when the hub is stopped. Callers
// after Stop return immediately instead of blocking on a dead actor.
func (h *Hub) send(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	clients := h.clients[c.room]
	if clients == nil {
		clients = make(map[*websocket.Conn]*clientWriter)
		h.clients[c.room] = clients
	}
	if len(clients) >= maxClientsPerRoom {
		slog.Warn("rejecting widget client, room full",
			slog.Int64("user_id", c.room.UserID), slog.String("module", c.room.Module))
		_ = c.conn.Close()
		c.errCh <- ErrRoomFull
		return
	}
	clients[c.conn] = newClientWriter(c.conn)
	telemetry.IncWidget()
	slog.Info("widget client connected",
		slog.Int64("user_id", c.room.UserID),
		slog.String("module", c.room.Module),
		slog.Int("clients", len(clients)))
	c.errCh <- nil
}

func (h *Hub) handleUnregister(room Room, conn *websocket.Conn) {
	clients, ok := h.clients[room]
	if !ok {
		return
	}
	cw, ok := clients[conn]
	if !ok {
		return
	}
	cw.stop()
	delete(clients, conn)
	telemetry.DecWidget()
	if len(clients) == 0 {
		delete(h.clients, room)
	}
}

func (h *Hub) handleBroadcast(room Room, data []byte) {
	clients, ok := h.clients[room]
	if !ok {
		return
	}
	var slow []*websocket.Conn
	for conn, cw := range clients {
		select {
		case cw.sendCh <- data:
		default:
			slow = append(slow, conn)
		}
	}
	for _, conn := range slow {
		slog.Warn("disconnecting slow widget client",
			slog.Int64("user_id", room.UserID), slog.String("module", room.Module))
		h.handleUnregister(room, conn)
	}
}

func (h *Hub) handleStop() {
	for room, clients := range h.clients {
		for _, cw := range clients {
			cw.stop()
		}
		delete(h.clients, room)
	}
}

// ErrRoomFull is returned by Register when a room hit maxClientsPerRoom.
var ErrRoomFull = errors.New("widget room full")

// ErrHubStopped is returned by Register after Stop.
var ErrHubStopped = errors.New("widget hub stopped")

// Register adds a connection to its room and blocks until accepted.
func (h *Hub) Register(room Room, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	if !h.send(cmdRegister{room: room, conn: conn, errCh: errCh}) {
		_ = conn.Close()
		return ErrHubStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-h.done:
		_ = conn.Close()
		return ErrHubStopped
	}
}

// Unregister drops a connection. Safe to call for unknown connections.
func (h *Hub) Unregister(room Room, conn *websocket.Conn) {
	h.send(cmdUnregister{room: room, conn: conn})
}

// NotifyOne pushes an event to every widget in one user's module room.
func (h *Hub) NotifyOne(userID int64, module string, ev Event) {
	h.notify([]Room{{UserID: userID, Module: module}}, ev)
}

// NotifyAll pushes an event to the module room of every listed user.
func (h *Hub) NotifyAll(userIDs []int64, module string, ev Event) {
	rooms := make([]Room, 0, len(userIDs))
	for _, id := range userIDs {
		rooms = append(rooms, Room{UserID: id, Module: module})
	}
	h.notify(rooms, ev)
}

func (h *Hub) notify(rooms []Room, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshaling widget event failed", slog.Any("err", err))
		return
	}
	h.send(cmdBroadcast{rooms: rooms, data: data})
}

// ClientCount reports the connections in one room, 0 after Stop.
func (h *Hub) ClientCount(room Room) int {
	replyCh := make(chan int, 1)
	if !h.send(cmdClientCount{room: room, replyCh: replyCh}) {
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.done:
		return 0
	}
}

// Stop closes every connection and terminates the hub goroutine. Later calls
// into the hub return immediately. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
