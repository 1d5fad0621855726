package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/events"
	"github.com/onnwee/streambot/telemetry"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"

	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"

	maxEventSubBody = 1 << 20
)

// verifyEventSubSignature checks the HMAC-SHA256 signature Twitch computes
// over message id + timestamp + raw body.
func verifyEventSubSignature(secret string, r *http.Request, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(r.Header.Get(headerMessageID)))
	mac.Write([]byte(r.Header.Get(headerMessageTimestamp)))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(r.Header.Get(headerMessageSignature)))
}

type eventSubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type eventSubEvent struct {
	BroadcasterUserID      string `json:"broadcaster_user_id"`
	BroadcasterUserLogin   string `json:"broadcaster_user_login"`
	ToBroadcasterUserID    string `json:"to_broadcaster_user_id"`
	ToBroadcasterUserLogin string `json:"to_broadcaster_user_login"`

	UserID                   string `json:"user_id"`
	UserLogin                string `json:"user_login"`
	UserName                 string `json:"user_name"`
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`

	Bits    int `json:"bits"`
	Viewers int `json:"viewers"`

	UserInput string `json:"user_input"`
	Reward    struct {
		Title string `json:"title"`
	} `json:"reward"`

	StartedAt time.Time `json:"started_at"`
}

// HandleEventSub is the Twitch EventSub webhook endpoint. It answers
// verification challenges and routes notifications to the dispatcher.
func (h *Handlers) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	secret := h.deps.Cfg.EventSubSecret
	if secret == "" {
		http.Error(w, "eventsub not configured", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSubBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if !verifyEventSubSignature(secret, r, body) {
		slog.Warn("eventsub signature mismatch", slog.String("message_id", r.Header.Get(headerMessageID)))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env eventSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(env.Challenge))
	case messageTypeRevocation:
		slog.Warn("eventsub subscription revoked", slog.String("type", env.Subscription.Type))
		w.WriteHeader(http.StatusNoContent)
	case messageTypeNotification:
		telemetry.IncEventSubEvent(env.Subscription.Type)
		// Twitch retries on slow responses, so acknowledge first and run the
		// command dispatch in the background.
		go h.routeEventSub(context.WithoutCancel(r.Context()), env.Subscription.Type, env.Event)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) routeEventSub(ctx context.Context, typ string, raw json.RawMessage) {
	if h.deps.Dispatch == nil || h.deps.Users == nil {
		return
	}
	var ev eventSubEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("eventsub event decode failed", slog.String("type", typ), slog.Any("err", err))
		return
	}

	broadcasterID := ev.BroadcasterUserID
	if broadcasterID == "" {
		broadcasterID = ev.ToBroadcasterUserID
	}
	uc, ok := h.deps.Users.ByTwitchID(broadcasterID)
	if !ok {
		slog.Warn("eventsub event for unknown broadcaster",
			slog.String("type", typ), slog.String("broadcaster_id", broadcasterID))
		return
	}

	chat := &command.ChatContext{
		UserID:      ev.UserID,
		UserName:    ev.UserLogin,
		DisplayName: ev.UserName,
		RoomID:      broadcasterID,
		Channel:     uc.Channel,
	}

	switch typ {
	case "stream.online":
		startedAt := ev.StartedAt
		if startedAt.IsZero() {
			startedAt = time.Now()
		}
		h.deps.Dispatch.HandleStreamOnline(ctx, uc, startedAt)
		h.publishStreamStatus(uc.User.ID, true)
	case "stream.offline":
		h.deps.Dispatch.HandleStreamOffline(ctx, uc)
		h.publishStreamStatus(uc.User.ID, false)
	case "channel.follow":
		h.deps.Dispatch.HandleFollow(ctx, uc, chat)
	case "channel.subscribe":
		h.deps.Dispatch.HandleSub(ctx, uc, chat)
	case "channel.cheer":
		h.deps.Dispatch.HandleBits(ctx, uc, chat, ev.Bits)
	case "channel.raid":
		chat.UserID = ev.FromBroadcasterUserID
		chat.UserName = ev.FromBroadcasterUserLogin
		chat.DisplayName = ev.FromBroadcasterUserName
		h.deps.Dispatch.HandleRaid(ctx, uc, chat, ev.Viewers)
	case "channel.channel_points_custom_reward_redemption.add":
		h.deps.Dispatch.HandleRewardRedemption(ctx, uc, chat, ev.Reward.Title, ev.UserInput)
	default:
		slog.Debug("unhandled eventsub type", slog.String("type", typ))
	}
}

func (h *Handlers) publishStreamStatus(userID int64, live bool) {
	if h.deps.Bus == nil {
		return
	}
	h.deps.Bus.Publish(events.TopicStreamStatus, events.StreamStatus{UserID: userID, Live: live})
}
