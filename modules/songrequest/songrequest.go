// Package songrequest implements the playlist module: viewers queue YouTube
// videos with !sr, moderators steer playback, and a browser-source widget
// renders the player. The playlist is one per-user document; every mutation
// persists it and pushes the new state to connected widgets.
package songrequest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/widget"
	"github.com/onnwee/streambot/youtubeapi"
)

// ModuleName is the storage and widget key of this module.
const ModuleName = "sr"

// Item is one playlist entry.
type Item struct {
	ID        string    `json:"id"`
	YoutubeID string    `json:"youtube_id"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel,omitempty"`
	Duration  int64     `json:"duration_ms,omitempty"`
	AddedBy   string    `json:"added_by"`
	AddedAt   time.Time `json:"added_at"`
	Plays     int       `json:"plays"`
	Goods     int       `json:"goods"`
	Bads      int       `json:"bads"`
}

// Limits caps how many songs one chatter may have queued at once per role.
// Zero means unlimited.
type Limits struct {
	Viewer int `json:"viewer"`
	Sub    int `json:"sub"`
	Mod    int `json:"mod"`
}

// Settings holds module-wide knobs.
type Settings struct {
	Volume         int    `json:"volume"`
	MaxSongsQueued Limits `json:"max_songs_queued"`
}

// Doc is the persisted per-user document.
type Doc struct {
	Playlist []*Item  `json:"playlist"`
	Paused   bool     `json:"paused"`
	Settings Settings `json:"settings"`
}

// Storage matches the per-user document store.
type Storage interface {
	LoadDoc(ctx context.Context, userID int64, module string, decode func([]byte) error)
	SaveDoc(ctx context.Context, userID int64, module string, doc []byte) error
}

// Notifier pushes playlist state to widgets.
type Notifier interface {
	NotifyOne(userID int64, module string, ev widget.Event)
}

// Deps are the module's collaborators.
type Deps struct {
	Say     func(channel, text string)
	Storage Storage
	Lookup  youtubeapi.Lookup
	Widgets Notifier
}

func (d *Deps) say(channel, text string) {
	if d.Say != nil && text != "" {
		d.Say(channel, text)
	}
}

// Module is one user's song-request instance.
type Module struct {
	userID  int64
	channel string
	deps    Deps

	mu    sync.Mutex
	doc   Doc
	bound []*command.Bound
}

// New loads the playlist document. Load failures keep the empty default; the
// module always comes up.
func New(ctx context.Context, userID int64, channel string, deps Deps) *Module {
	m := &Module{userID: userID, channel: channel, deps: deps}
	if deps.Storage != nil {
		deps.Storage.LoadDoc(ctx, userID, ModuleName, func(b []byte) error {
			return json.Unmarshal(b, &m.doc)
		})
	}
	srCmd := &command.Command{
		ID:        "sr",
		CreatedAt: time.Now(),
		Action:    command.ActionSongRequest,
		Triggers:  []command.Trigger{command.NewCommandTrigger("!sr", false)},
	}
	m.bound = []*command.Bound{{Command: srCmd, Fn: m.execSr}}
	return m
}

func (m *Module) Name() string { return ModuleName }

// Commands returns the built-in !sr command.
func (m *Module) Commands() []*command.Bound {
	return m.bound
}

// OnChatMsg is a no-op; the playlist only changes through commands.
func (m *Module) OnChatMsg(ctx context.Context, chat *command.ChatContext, text string) {}

// SaveCommands persists the document. The command itself is built in, so the
// document is all there is to save.
func (m *Module) SaveCommands(ctx context.Context) error {
	return m.save(ctx)
}

func (m *Module) save(ctx context.Context) error {
	if m.deps.Storage == nil {
		return nil
	}
	m.mu.Lock()
	b, err := json.Marshal(m.doc)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.deps.Storage.SaveDoc(ctx, m.userID, ModuleName, b)
}

// Playlist returns a snapshot for the HTTP API and tests.
func (m *Module) Playlist() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, len(m.doc.Playlist))
	copy(out, m.doc.Playlist)
	return out
}

// Paused reports the playback flag.
func (m *Module) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Paused
}

// sync persists the document and pushes the playlist to widgets. Call after
// every mutation.
func (m *Module) syncState(ctx context.Context) {
	if err := m.save(ctx); err != nil {
		slog.Error("persisting playlist failed", slog.Int64("user_id", m.userID), slog.Any("err", err))
	}
	if m.deps.Widgets == nil {
		return
	}
	m.mu.Lock()
	payload := struct {
		Playlist []*Item `json:"playlist"`
		Paused   bool    `json:"paused"`
		Volume   int     `json:"volume"`
	}{m.doc.Playlist, m.doc.Paused, m.doc.Settings.Volume}
	m.mu.Unlock()
	m.deps.Widgets.NotifyOne(m.userID, ModuleName, widget.Event{Type: "playlist", Data: payload})
}

// queuedBy counts how many queued entries a chatter already has. The entry at
// position 0 is playing and does not count against the queue limit.
func (m *Module) queuedBy(user string) int {
	n := 0
	for i, item := range m.doc.Playlist {
		if i == 0 {
			continue
		}
		if item.AddedBy == user {
			n++
		}
	}
	return n
}

func limitFor(chat *command.ChatContext, l Limits) int {
	switch {
	case chat == nil:
		return 0
	case chat.Mod || chat.RoomID == chat.UserID:
		return l.Mod
	case chat.Subscriber:
		return l.Sub
	default:
		return l.Viewer
	}
}

func newItem(v *youtubeapi.Video, addedBy string) *Item {
	return &Item{
		ID:        uuid.NewString(),
		YoutubeID: v.ID,
		Title:     v.Title,
		Channel:   v.Channel,
		Duration:  v.Duration.Milliseconds(),
		AddedBy:   addedBy,
		AddedAt:   time.Now(),
	}
}
