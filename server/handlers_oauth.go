package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/events"
	"github.com/onnwee/streambot/oauth"
)

// HandleOAuthStart redirects the broadcaster to Twitch's consent page.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Flow == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.deps.Flow.AuthCodeURL(st), http.StatusFound)
}

// HandleOAuthCallback exchanges the auth code, resolves the token owner, and
// onboards them: user row, stored token, and a user-authorized event so the
// bot process joins their channel.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Flow == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}

	ctx := r.Context()
	access, refresh, expiry, err := h.deps.Flow.Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	owner, err := h.deps.Helix.GetTokenOwner(ctx, access)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	user, err := db.UpsertUser(ctx, h.deps.DB, owner.ID, owner.Login, owner.DisplayName)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := db.UpsertOAuthToken(ctx, h.deps.DB, oauth.ProviderTwitch, user.ID, access, refresh, expiry, h.deps.Cfg.TwitchScopes); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	if h.deps.Bus != nil {
		h.deps.Bus.Publish(events.TopicUserAuthorized, events.UserAuthorized{UserID: user.ID})
	}
	slog.Info("broadcaster authorized", slog.Int64("user_id", user.ID), slog.String("login", user.Login))

	if cfg := h.deps.Cfg; cfg.EventSubSecret != "" && cfg.EventSubCallbackURL != "" {
		go func(bctx context.Context, broadcasterID string) {
			if err := h.deps.Helix.EnsureEventSubSubscriptions(bctx, broadcasterID, cfg.EventSubCallbackURL, cfg.EventSubSecret); err != nil {
				slog.Warn("eventsub subscription setup failed",
					slog.String("broadcaster_id", broadcasterID), slog.Any("err", err))
			}
		}(context.WithoutCancel(ctx), owner.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "login": user.Login}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
