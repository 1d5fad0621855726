// Package engine is the bot core: it routes chat lines and platform events to
// command triggers, executes matched commands with the documented concurrency
// (modules fan out, commands within a module fan out), applies variable
// changes, and runs per-channel timers.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/db"
)

// Module is one feature unit owning its own command list. Modules are
// instantiated once per user and persist their whole command list back to
// storage, not incrementally.
type Module interface {
	Name() string
	Commands() []*command.Bound
	// OnChatMsg runs after trigger dispatch for every non-self message.
	OnChatMsg(ctx context.Context, chat *command.ChatContext, text string)
	SaveCommands(ctx context.Context) error
}

// VarStore is the slice of the variable store the engine needs for variable
// changes and macro resolution.
type VarStore interface {
	GetString(ctx context.Context, name string) (string, bool)
	Set(ctx context.Context, name string, value any) error
}

// ChatLogStore persists raw chat lines and backs the first-chat checks.
type ChatLogStore interface {
	Insert(ctx context.Context, channel, userID, username, message string, at time.Time) error
	CountAll(ctx context.Context, channel, userID string) (int, error)
	CountSince(ctx context.Context, channel, userID string, since time.Time) (int, error)
}

// SessionStore tracks stream sessions for the first-chat-of-stream check.
type SessionStore interface {
	Open(ctx context.Context, userID int64, startedAt time.Time) error
	Close(ctx context.Context, userID int64, endedAt time.Time) error
	CurrentStart(ctx context.Context, userID int64) (time.Time, bool, error)
}

// UserContext is the per-channel state threaded through every dispatch call.
// There is no process-wide instance map; whoever owns the context passes it.
type UserContext struct {
	User    *db.User
	Channel string
	Vars    VarStore

	mu      sync.RWMutex
	modules []Module

	timerMu sync.Mutex
	timers  []*timerEntry
}

// Modules returns a snapshot of the module list.
func (uc *UserContext) Modules() []Module {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := make([]Module, len(uc.modules))
	copy(out, uc.modules)
	return out
}

// SetModules replaces the module list, e.g. after a module document changed.
// The caller should rebuild timers afterwards (Dispatcher.RebuildTimers).
func (uc *UserContext) SetModules(mods []Module) {
	uc.mu.Lock()
	uc.modules = mods
	uc.mu.Unlock()
}

// ModuleByName returns the named module or nil.
func (uc *UserContext) ModuleByName(name string) Module {
	for _, m := range uc.Modules() {
		if m.Name() == name {
			return m
		}
	}
	return nil
}
