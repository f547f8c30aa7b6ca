package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/service"
)

var cachedViews = map[string]bool{
	service.ViewSession:   true,
	service.ViewAccount:   true,
	service.ViewHistory:   true,
	service.ViewOrderbook: true,
}

// UpdatesHandler serves the cached views and the effect notice stream
// written by the publisher.
type UpdatesHandler struct {
	bus    domain.SignalBus
	views  domain.ViewCache
	logger *slog.Logger
}

// NewUpdatesHandler creates an UpdatesHandler.
func NewUpdatesHandler(bus domain.SignalBus, views domain.ViewCache, logger *slog.Logger) *UpdatesHandler {
	return &UpdatesHandler{bus: bus, views: views, logger: logger}
}

// GetView returns the last published copy of a view.
// GET /api/views/{name}
func (h *UpdatesHandler) GetView(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if !cachedViews[name] {
		writeError(w, http.StatusNotFound, "unknown view")
		return
	}
	data, err := h.views.GetView(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, h.logger, "get view", err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(data))
}

type streamEntry struct {
	ID     string          `json:"id"`
	Notice json.RawMessage `json:"notice"`
}

type streamResponse struct {
	Entries []streamEntry `json:"entries"`
	// Last is the id to pass as "after" on the next call.
	Last string `json:"last"`
}

// ReplayEffects returns effect notices after a stream id ("0" for the
// start).
// GET /api/updates/effects?after=0&limit=50
func (h *UpdatesHandler) ReplayEffects(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	msgs, err := h.bus.StreamRead(r.Context(), service.StreamEffects, after, parseListOpts(r).Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "replay effects", err)
		return
	}

	resp := streamResponse{Entries: make([]streamEntry, 0, len(msgs)), Last: after}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Entries = append(resp.Entries, streamEntry{ID: m.ID, Notice: m.Payload})
		resp.Last = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
