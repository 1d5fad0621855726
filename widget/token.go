package widget

import (
	"sync"

	"github.com/google/uuid"
)

// Tokens maps opaque widget URL tokens to rooms. Widgets are meant to be
// pasted into broadcast software as browser sources, so the token in the URL
// is the only credential.
type Tokens struct {
	mu     sync.RWMutex
	byTok  map[string]Room
	byRoom map[Room]string
}

func NewTokens() *Tokens {
	return &Tokens{
		byTok:  make(map[string]Room),
		byRoom: make(map[Room]string),
	}
}

// Create returns the room's token, minting one on first use. Tokens are
// stable for the process lifetime so widget URLs survive reconnects.
func (t *Tokens) Create(userID int64, module string) string {
	room := Room{UserID: userID, Module: module}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.byRoom[room]; ok {
		return tok
	}
	tok := uuid.NewString()
	t.byTok[tok] = room
	t.byRoom[room] = tok
	return tok
}

// Lookup resolves a token back to its room.
func (t *Tokens) Lookup(token string) (Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.byTok[token]
	return room, ok
}

// Revoke invalidates a room's token; the next Create mints a fresh one.
func (t *Tokens) Revoke(userID int64, module string) {
	room := Room{UserID: userID, Module: module}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.byRoom[room]; ok {
		delete(t.byTok, tok)
		delete(t.byRoom, room)
	}
}
