// Package bot assembles the per-broadcaster runtime: token sources, variable
// stores, modules, chat membership, and timers. It owns the registry that
// maps Twitch ids to engine user contexts and keeps it in sync with bus
// events (new authorizations, module document edits).
package bot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/dict"
	"github.com/onnwee/streambot/engine"
	"github.com/onnwee/streambot/events"
	"github.com/onnwee/streambot/macro"
	"github.com/onnwee/streambot/modules/general"
	"github.com/onnwee/streambot/modules/songrequest"
	"github.com/onnwee/streambot/oauth"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
	"github.com/onnwee/streambot/vars"
	"github.com/onnwee/streambot/widget"
	"github.com/onnwee/streambot/youtubeapi"
)

// Options carries the shared collaborators every broadcaster runtime uses.
type Options struct {
	Cfg    *config.Config
	DB     *sql.DB
	Chat   *chat.Manager
	Hub    *widget.Hub
	Bus    *events.Bus
	Helix  *twitchapi.HelixClient
	Lookup youtubeapi.Lookup
	HTTP   *http.Client

	Version   string
	BuildDate string
}

type userRuntime struct {
	uc     *engine.UserContext
	cancel context.CancelFunc
}

// Bot is the running multi-tenant core.
type Bot struct {
	opts     Options
	dispatch *engine.Dispatcher

	jisho    *dict.JishoClient
	dictcc   *dict.DictCCClient
	madochan *dict.MadochanClient

	mu       sync.RWMutex
	byTwitch map[string]*userRuntime
	byID     map[int64]*userRuntime
}

// New wires the executor and dispatcher. Start brings the users up.
func New(opts Options) *Bot {
	userFields := &twitchapi.UserFields{Helix: opts.Helix}
	exec := &engine.Executor{
		Bot: macro.BotInfo{
			Version:  opts.Version,
			Date:     opts.BuildDate,
			Website:  opts.Cfg.BotWebsite,
			Github:   opts.Cfg.BotGithub,
			Features: "commands, timers, song requests, widgets",
		},
		Users: userFields,
		HTTP:  opts.HTTP,
	}
	return &Bot{
		opts: opts,
		dispatch: &engine.Dispatcher{
			Exec:            exec,
			ChatLog:         &db.ChatLog{DB: opts.DB},
			Sessions:        &db.StreamSessions{DB: opts.DB},
			TimerResolution: opts.Cfg.TimerResolution,
		},
		jisho:    &dict.JishoClient{HTTPClient: opts.HTTP},
		dictcc:   &dict.DictCCClient{HTTPClient: opts.HTTP},
		madochan: &dict.MadochanClient{HTTPClient: opts.HTTP},
		byTwitch: map[string]*userRuntime{},
		byID:     map[int64]*userRuntime{},
	}
}

// Dispatcher exposes the dispatcher for the EventSub webhook.
func (b *Bot) Dispatcher() *engine.Dispatcher { return b.dispatch }

// ByTwitchID implements the server's user lookup.
func (b *Bot) ByTwitchID(twitchID string) (*engine.UserContext, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rt, ok := b.byTwitch[twitchID]
	if !ok {
		return nil, false
	}
	return rt.uc, true
}

// Start onboards every enabled user and then follows bus events until the
// context ends.
func (b *Bot) Start(ctx context.Context) error {
	authorized, unsubAuth := b.opts.Bus.Subscribe(events.TopicUserAuthorized)
	changed, unsubChanged := b.opts.Bus.Subscribe(events.TopicModuleChanged)
	status, unsubStatus := b.opts.Bus.Subscribe(events.TopicStreamStatus)

	users, err := db.ListEnabledUsers(ctx, b.opts.DB)
	if err != nil {
		unsubAuth()
		unsubChanged()
		unsubStatus()
		return fmt.Errorf("list enabled users: %w", err)
	}
	for _, u := range users {
		if err := b.onboard(ctx, u); err != nil {
			slog.Error("user onboarding failed", slog.String("login", u.Login), slog.Any("err", err))
		}
	}
	slog.Info("bot started", slog.Int("users", len(users)))

	go func() {
		defer unsubAuth()
		defer unsubChanged()
		defer unsubStatus()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-authorized:
				if !ok {
					return
				}
				if ev, ok := payload.(events.UserAuthorized); ok {
					b.onAuthorized(ctx, ev.UserID)
				}
			case payload, ok := <-changed:
				if !ok {
					return
				}
				if ev, ok := payload.(events.ModuleChanged); ok {
					b.reloadModule(ctx, ev.UserID, ev.Module)
				}
			case payload, ok := <-status:
				if !ok {
					return
				}
				if ev, ok := payload.(events.StreamStatus); ok {
					b.onStreamStatus(ev)
				}
			}
		}
	}()
	return nil
}

// onStreamStatus mirrors live status to the playlist widget so it can show
// an on-air indicator.
func (b *Bot) onStreamStatus(ev events.StreamStatus) {
	if b.opts.Hub == nil {
		return
	}
	b.opts.Hub.NotifyOne(ev.UserID, songrequest.ModuleName, widget.Event{
		Type: "stream",
		Data: map[string]bool{"live": ev.Live},
	})
	slog.Debug("stream status forwarded to widgets",
		slog.Int64("user_id", ev.UserID), slog.Bool("live", ev.Live))
}

func (b *Bot) onAuthorized(ctx context.Context, userID int64) {
	b.mu.RLock()
	_, known := b.byID[userID]
	b.mu.RUnlock()
	if known {
		// Re-authorization refreshed the stored token; nothing to rebuild.
		return
	}
	u, err := b.userByID(ctx, userID)
	if err != nil {
		slog.Error("authorized user load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		return
	}
	if err := b.onboard(ctx, u); err != nil {
		slog.Error("user onboarding failed", slog.String("login", u.Login), slog.Any("err", err))
	}
}

func (b *Bot) userByID(ctx context.Context, userID int64) (*db.User, error) {
	users, err := db.ListEnabledUsers(ctx, b.opts.DB)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == userID {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %d not enabled", userID)
}

// onboard builds the runtime for one broadcaster and joins their channel.
func (b *Bot) onboard(ctx context.Context, u *db.User) error {
	auth := &oauth.UserTokenSource{
		DB:     b.opts.DB,
		UserID: u.ID,
		RefreshFn: oauth.TwitchRefreshFunc(b.opts.HTTP, "",
			b.opts.Cfg.TwitchClientID, b.opts.Cfg.TwitchClientSecret),
	}
	uc := &engine.UserContext{
		User:    u,
		Channel: u.Login,
		Vars:    vars.NewStore(b.opts.DB, u.ID),
	}
	uc.SetModules(b.buildModules(ctx, u, auth))
	b.dispatch.RebuildTimers(uc)

	userCtx, cancel := context.WithCancel(ctx)
	rt := &userRuntime{uc: uc, cancel: cancel}
	b.mu.Lock()
	b.byTwitch[u.TwitchID] = rt
	b.byID[u.ID] = rt
	b.mu.Unlock()

	b.opts.Chat.Join(u.Login, func(hctx context.Context, channel string, cc *command.ChatContext, text string) {
		b.dispatch.HandleChatMessage(hctx, uc, cc, text)
	})
	go b.dispatch.RunTimers(userCtx, uc)

	slog.Info("channel onboarded", slog.String("login", u.Login), slog.Int64("user_id", u.ID))
	return nil
}

func (b *Bot) buildModules(ctx context.Context, u *db.User, auth twitchapi.UserAuth) []engine.Module {
	store := &db.DocStore{DB: b.opts.DB}
	varStore := vars.NewStore(b.opts.DB, u.ID)
	userFields := &twitchapi.UserFields{Helix: b.opts.Helix}

	gen := general.New(ctx, u.ID, u.Login, u.TwitchID, general.Deps{
		Say:      b.opts.Chat.Say,
		Storage:  store,
		Vars:     varStore,
		Users:    userFields,
		Bot:      b.dispatch.Exec.Bot,
		HTTP:     b.opts.HTTP,
		Helix:    b.opts.Helix,
		Auth:     auth,
		Jisho:    b.jisho,
		DictCC:   b.dictcc,
		Madochan: b.madochan,
		Widgets:  b.opts.Hub,
	})
	sr := songrequest.New(ctx, u.ID, u.Login, songrequest.Deps{
		Say:     b.opts.Chat.Say,
		Storage: store,
		Lookup:  b.opts.Lookup,
		Widgets: b.opts.Hub,
	})
	return []engine.Module{gen, sr}
}

// reloadModule rebuilds one module from its stored document after an API
// edit, then rebuilds timers so edited timer commands pick up their new
// intervals without losing accumulated line counts on unchanged ones.
func (b *Bot) reloadModule(ctx context.Context, userID int64, moduleName string) {
	b.mu.RLock()
	rt, ok := b.byID[userID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	u := rt.uc.User

	auth := &oauth.UserTokenSource{
		DB:     b.opts.DB,
		UserID: u.ID,
		RefreshFn: oauth.TwitchRefreshFunc(b.opts.HTTP, "",
			b.opts.Cfg.TwitchClientID, b.opts.Cfg.TwitchClientSecret),
	}
	fresh := b.buildModules(ctx, u, auth)

	mods := rt.uc.Modules()
	replaced := false
	for i, m := range mods {
		if m.Name() != moduleName {
			continue
		}
		for _, f := range fresh {
			if f.Name() == moduleName {
				mods[i] = f
				replaced = true
			}
		}
	}
	if !replaced {
		slog.Warn("module change for unknown module",
			slog.Int64("user_id", userID), slog.String("module", moduleName))
		return
	}
	rt.uc.SetModules(mods)
	b.dispatch.RebuildTimers(rt.uc)
	telemetry.LoggerWithCorr(ctx).Info("module reloaded",
		slog.Int64("user_id", userID), slog.String("module", moduleName))
}
