// Package general implements the user-configurable command module: text
// replies, media popups, countdowns, dictionary lookups, word creation,
// chatters listing, and channel metadata commands. Command definitions live
// in a per-user document; action functions are bound from a factory keyed by
// ActionKind at load time and never re-dispatched per invocation.
package general

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/dict"
	"github.com/onnwee/streambot/macro"
	"github.com/onnwee/streambot/twitchapi"
	"github.com/onnwee/streambot/widget"
)

// ModuleName is the storage and widget key of this module.
const ModuleName = "general"

// Doc is the persisted per-user document.
type Doc struct {
	Commands []*command.Command `json:"commands"`
	Settings Settings           `json:"settings"`
}

// Settings holds module-wide knobs.
type Settings struct {
	// Volume is passed through to media widgets, 0-100.
	Volume int `json:"volume"`
}

// Storage is the per-user document persistence this module needs.
type Storage interface {
	LoadDoc(ctx context.Context, userID int64, module string, decode func([]byte) error)
	SaveDoc(ctx context.Context, userID int64, module string, doc []byte) error
}

// Notifier pushes events to widget rooms.
type Notifier interface {
	NotifyOne(userID int64, module string, ev widget.Event)
}

// Deps are the collaborators action functions close over.
type Deps struct {
	Say      func(channel, text string)
	Storage  Storage
	Vars     macro.VarSource
	Users    macro.UserFieldSource
	Bot      macro.BotInfo
	HTTP     *http.Client
	Helix    *twitchapi.HelixClient
	Auth     twitchapi.UserAuth
	Jisho    *dict.JishoClient
	DictCC   *dict.DictCCClient
	Madochan *dict.MadochanClient
	Widgets  Notifier
	Clock    clockwork.Clock
}

func (d *Deps) clock() clockwork.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return clockwork.NewRealClock()
}

func (d *Deps) say(channel, text string) {
	if d.Say != nil && text != "" {
		d.Say(channel, text)
	}
}

// Module is one user's general-commands instance.
type Module struct {
	userID        int64
	channel       string
	broadcasterID string
	deps          Deps

	mu    sync.Mutex
	doc   Doc
	bound []*command.Bound
}

// New loads the user's document and binds its commands. A load failure leaves
// the default (empty) document in place; module construction never fails.
func New(ctx context.Context, userID int64, channel, broadcasterID string, deps Deps) *Module {
	m := &Module{
		userID:        userID,
		channel:       channel,
		broadcasterID: broadcasterID,
		deps:          deps,
	}
	if deps.Storage != nil {
		deps.Storage.LoadDoc(ctx, userID, ModuleName, func(b []byte) error {
			return json.Unmarshal(b, &m.doc)
		})
	}
	if command.Fix(m.doc.Commands, time.Now()) {
		if err := m.SaveCommands(ctx); err != nil {
			slog.Error("persisting normalized commands failed", slog.Any("err", err))
		}
	}
	m.rebind()
	return m
}

func (m *Module) Name() string { return ModuleName }

// Commands returns the bound command list.
func (m *Module) Commands() []*command.Bound {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*command.Bound, len(m.bound))
	copy(out, m.bound)
	return out
}

// OnChatMsg is a no-op; this module keeps no per-message state.
func (m *Module) OnChatMsg(ctx context.Context, chat *command.ChatContext, text string) {}

// SaveCommands serializes the whole document back to storage.
func (m *Module) SaveCommands(ctx context.Context) error {
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

// ReplaceDoc swaps in a new document (e.g. saved through the HTTP API),
// normalizes it, and rebinds all commands.
func (m *Module) ReplaceDoc(ctx context.Context, doc Doc) error {
	command.Fix(doc.Commands, time.Now())
	m.mu.Lock()
	m.doc = doc
	m.mu.Unlock()
	m.rebind()
	return m.SaveCommands(ctx)
}

// Doc returns a deep-enough copy of the current document for the HTTP API.
func (m *Module) Doc() Doc {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.doc
	doc.Commands = make([]*command.Command, len(m.doc.Commands))
	copy(doc.Commands, m.doc.Commands)
	return doc
}

func (m *Module) rebind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound = m.bound[:0]
	for _, c := range m.doc.Commands {
		fn, err := m.bindAction(c)
		if err != nil {
			slog.Warn("skipping unbindable command",
				slog.String("id", c.ID),
				slog.String("action", string(c.Action)),
				slog.Any("err", err))
			continue
		}
		m.bound = append(m.bound, &command.Bound{Command: c, Fn: fn})
	}
}

// env builds the macro environment for one invocation.
func (m *Module) env(inv *command.Invocation, cmd *command.Command) *macro.Env {
	return &macro.Env{
		Raw:   inv.Raw,
		Chat:  inv.Chat,
		Cmd:   cmd,
		Vars:  m.deps.Vars,
		Users: m.deps.Users,
		HTTP:  m.deps.HTTP,
		Bot:   m.deps.Bot,
	}
}

func (m *Module) subst(ctx context.Context, text string, inv *command.Invocation, cmd *command.Command) string {
	return macro.Substitute(ctx, text, m.env(inv, cmd))
}

// target resolves where a reply goes: the invocation's explicit target, the
// triggering chat's channel, or the module's own channel for timer fires.
func (m *Module) target(inv *command.Invocation) string {
	if inv.Target != "" {
		return inv.Target
	}
	if inv.Chat != nil && inv.Chat.Channel != "" {
		return inv.Chat.Channel
	}
	return m.channel
}
