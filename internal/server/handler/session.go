package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// SessionService is the part of the session controller the session
// endpoints drive.
type SessionService interface {
	LogIn(ctx context.Context, cred domain.Credential) error
	LogOut()
	View() domain.SessionView
	SetOrderbook(ctx context.Context, pair domain.AssetPair) error
	Vote(ctx context.Context) (domain.SubmitResult, error)
	DismissVote()
}

// SessionHandler serves login, logout and pair selection.
type SessionHandler struct {
	session SessionService
	logger  *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(session SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{session: session, logger: logger}
}

// GetSession returns the session view.
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.View())
}

// LogIn logs in with a secret or a public key. An unfunded account is not
// an error; the returned view says "unfunded".
// POST /api/session/login
func (h *SessionHandler) LogIn(w http.ResponseWriter, r *http.Request) {
	var cred domain.Credential
	if err := decodeJSON(w, r, &cred); err != nil {
		writeServiceError(w, r, h.logger, "log in", err)
		return
	}
	if err := h.session.LogIn(r.Context(), cred); err != nil {
		writeServiceError(w, r, h.logger, "log in", err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.View())
}

// LogOut ends the session.
// POST /api/session/logout
func (h *SessionHandler) LogOut(w http.ResponseWriter, r *http.Request) {
	h.session.LogOut()
	writeJSON(w, http.StatusOK, h.session.View())
}

type orderbookRequest struct {
	Base    string `json:"base"`
	Counter string `json:"counter"`
}

// SetOrderbook selects the watched pair. Assets are "native" or
// "CODE:ISSUER".
// PUT /api/session/orderbook
func (h *SessionHandler) SetOrderbook(w http.ResponseWriter, r *http.Request) {
	var req orderbookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "set orderbook", err)
		return
	}
	base, err := domain.ParseAsset(req.Base)
	if err != nil {
		writeServiceError(w, r, h.logger, "set orderbook", err)
		return
	}
	counter, err := domain.ParseAsset(req.Counter)
	if err != nil {
		writeServiceError(w, r, h.logger, "set orderbook", err)
		return
	}
	if base.Equal(counter) {
		writeError(w, http.StatusBadRequest, "base and counter must differ")
		return
	}
	if err := h.session.SetOrderbook(r.Context(), domain.AssetPair{Base: base, Counter: counter}); err != nil {
		writeServiceError(w, r, h.logger, "set orderbook", err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.View())
}

// Vote submits the configured inflation destination.
// POST /api/session/vote
func (h *SessionHandler) Vote(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.Vote(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DismissVote hides the vote prompt for this session.
// POST /api/session/vote/dismiss
func (h *SessionHandler) DismissVote(w http.ResponseWriter, r *http.Request) {
	h.session.DismissVote()
	writeJSON(w, http.StatusOK, h.session.View())
}
