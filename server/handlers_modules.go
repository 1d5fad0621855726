package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/events"
)

const maxModuleDoc = 1 << 20

// HandleModuleDoc serves the module document API:
//
//	GET /api/modules/{userID}/{module}  -> current document
//	PUT /api/modules/{userID}/{module}  -> replace document
//
// A successful PUT publishes a module-changed event so the running bot
// reloads the module and its timers.
func (h *Handlers) HandleModuleDoc(w http.ResponseWriter, r *http.Request) {
	userID, module, ok := splitUserModule(strings.TrimPrefix(r.URL.Path, "/api/modules/"))
	if !ok {
		http.Error(w, "expected /api/modules/{userID}/{module}", http.StatusBadRequest)
		return
	}
	store := &db.DocStore{DB: h.deps.DB}

	switch r.Method {
	case http.MethodGet:
		var raw []byte
		store.LoadDoc(r.Context(), userID, module, func(b []byte) error {
			raw = append([]byte(nil), b...)
			return nil
		})
		if raw == nil {
			http.Error(w, "no document", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)

	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxModuleDoc))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if !json.Valid(body) {
			http.Error(w, "document must be valid JSON", http.StatusBadRequest)
			return
		}
		if err := store.SaveDoc(r.Context(), userID, module, body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if h.deps.Bus != nil {
			h.deps.Bus.Publish(events.TopicModuleChanged, events.ModuleChanged{UserID: userID, Module: module})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
