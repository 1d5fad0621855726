package engine

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/db"
)

// memVars is an in-memory VarStore.
type memVars struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemVars() *memVars { return &memVars{vals: map[string]string{}} }

func (m *memVars) GetString(ctx context.Context, name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[name]
	return v, ok
}

func (m *memVars) Set(ctx context.Context, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, _ := value.(string)
	m.vals[name] = s
	return nil
}

// fakeModule is a Module with a fixed command list.
type fakeModule struct {
	name string

	mu       sync.Mutex
	cmds     []*command.Bound
	saves    int
	chatMsgs []string
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Commands() []*command.Bound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*command.Bound, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func (f *fakeModule) OnChatMsg(ctx context.Context, chat *command.ChatContext, text string) {
	f.mu.Lock()
	f.chatMsgs = append(f.chatMsgs, text)
	f.mu.Unlock()
}

func (f *fakeModule) SaveCommands(ctx context.Context) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return nil
}

func (f *fakeModule) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// memChatLog is an in-memory ChatLogStore. Lines are kept per user id with
// timestamps so CountSince works.
type memChatLog struct {
	mu    sync.Mutex
	lines map[string][]time.Time
}

func newMemChatLog() *memChatLog { return &memChatLog{lines: map[string][]time.Time{}} }

func (m *memChatLog) Insert(ctx context.Context, channel, userID, username, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[userID] = append(m.lines[userID], at)
	return nil
}

func (m *memChatLog) CountAll(ctx context.Context, channel, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines[userID]), nil
}

func (m *memChatLog) CountSince(ctx context.Context, channel, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, at := range m.lines[userID] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu    sync.Mutex
	start time.Time
	live  bool
}

func (m *memSessions) Open(ctx context.Context, userID int64, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start, m.live = startedAt, true
	return nil
}

func (m *memSessions) Close(ctx context.Context, userID int64, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = false
	return nil
}

func (m *memSessions) CurrentStart(ctx context.Context, userID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start, m.live, nil
}

func testUserContext(vars VarStore, mods ...Module) *UserContext {
	uc := &UserContext{
		User:    &db.User{ID: 1, TwitchID: "100", Login: "streamer"},
		Channel: "streamer",
		Vars:    vars,
	}
	uc.SetModules(mods)
	return uc
}

func textCommand(trigger string, fn command.ExecFunc) *command.Bound {
	return &command.Bound{
		Command: &command.Command{
			ID:       trigger,
			Action:   command.ActionText,
			Triggers: []command.Trigger{command.NewCommandTrigger(trigger, false)},
		},
		Fn: fn,
	}
}

func viewerChat() *command.ChatContext {
	return &command.ChatContext{
		UserID:      "200",
		UserName:    "viewer",
		DisplayName: "Viewer",
		RoomID:      "100",
		Channel:     "streamer",
	}
}
