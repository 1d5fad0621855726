package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// Widgets are embedded as OBS browser sources, so there is no Origin to trust.
// The per-room token in the query string is the credential.
var widgetUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWidgetWS upgrades a widget connection. The token query parameter maps
// to exactly one (user, module) room.
func (h *Handlers) HandleWidgetWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	room, ok := h.deps.Tokens.Lookup(token)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := widgetUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("widget upgrade failed", slog.Any("err", err))
		return
	}
	if err := h.deps.Hub.Register(room, conn); err != nil {
		_ = conn.Close()
		return
	}
	slog.Debug("widget connected", slog.Int64("user_id", room.UserID), slog.String("module", room.Module))

	// Read pump: widgets never send application data, but reading is what
	// detects the peer closing.
	go func() {
		defer h.deps.Hub.Unregister(room, conn)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// HandleWidgetURL mints (or returns the existing) widget URL for one user and
// module: GET /api/widget-url/{userID}/{module}.
func (h *Handlers) HandleWidgetURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, module, ok := splitUserModule(strings.TrimPrefix(r.URL.Path, "/api/widget-url/"))
	if !ok {
		http.Error(w, "expected /api/widget-url/{userID}/{module}", http.StatusBadRequest)
		return
	}
	token := h.deps.Tokens.Create(userID, module)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"url":   h.deps.Cfg.BaseURL + "/widget/ws?token=" + token,
		"token": token,
	})
}

func splitUserModule(rest string) (int64, string, bool) {
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", false
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return userID, parts[1], true
}
