// Package chat connects the bot to Twitch IRC with a single shared client and
// routes incoming messages to the per-channel handler. Outgoing sends are
// fire-and-forget; IRC has no delivery acknowledgment anyway.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/telemetry"
)

// Handler receives every non-self message for a joined channel.
type Handler func(ctx context.Context, channel string, chat *command.ChatContext, text string)

// Manager owns the IRC client and the channel->handler routing table.
type Manager struct {
	username string
	client   *twitch.Client

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewManager builds a manager for the bot account. oauth is the "oauth:..."
// user token for IRC.
func NewManager(username, oauth string) *Manager {
	m := &Manager{
		username: strings.ToLower(username),
		handlers: make(map[string]Handler),
	}
	m.client = twitch.NewClient(username, oauth)
	m.client.OnPrivateMessage(m.onPrivateMessage)
	return m
}

func (m *Manager) onPrivateMessage(msg twitch.PrivateMessage) {
	// The bot's own lines must not feed back into dispatch.
	if strings.EqualFold(msg.User.Name, m.username) {
		return
	}
	m.mu.RLock()
	handler := m.handlers[strings.ToLower(msg.Channel)]
	m.mu.RUnlock()
	if handler == nil {
		return
	}
	chat := &command.ChatContext{
		UserID:      msg.User.ID,
		UserName:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		RoomID:      msg.RoomID,
		Channel:     msg.Channel,
		Mod:         msg.User.Badges["moderator"] > 0 || msg.User.Badges["broadcaster"] > 0,
		Subscriber:  msg.User.Badges["subscriber"] > 0 || msg.User.Badges["founder"] > 0,
	}
	handler(context.Background(), msg.Channel, chat, msg.Message)
}

// Join registers a handler and joins the channel.
func (m *Manager) Join(channel string, h Handler) {
	channel = strings.ToLower(channel)
	m.mu.Lock()
	m.handlers[channel] = h
	m.mu.Unlock()
	m.client.Join(channel)
	telemetry.IncActiveChannels()
}

// Part leaves the channel and drops its handler.
func (m *Manager) Part(channel string) {
	channel = strings.ToLower(channel)
	m.mu.Lock()
	delete(m.handlers, channel)
	m.mu.Unlock()
	m.client.Depart(channel)
	telemetry.DecActiveChannels()
}

// Say sends a line to a channel. Failures are swallowed; the IRC library
// queues internally and there is nothing useful to do on error.
func (m *Manager) Say(channel, text string) {
	if text == "" {
		return
	}
	m.client.Say(strings.ToLower(channel), text)
	telemetry.IncChatLineSent()
}

// Run connects and blocks until ctx is canceled or the connection dies.
func (m *Manager) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := m.client.Disconnect(); err != nil {
			slog.Warn("twitch chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()
	err := m.client.Connect()
	if ctx.Err() != nil {
		<-done
		return nil
	}
	return err
}
