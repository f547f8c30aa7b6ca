package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// AuditHandler serves the submission audit log.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns audit entries newest first.
// GET /api/audit?account=0x...&since=RFC3339&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = &t
	}

	entries, err := h.store.List(r.Context(), r.URL.Query().Get("account"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
