package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/service"
)

// AccountService exposes the logged-in account's read views.
type AccountService interface {
	AccountView(hideNative bool) (service.AccountView, error)
	Balance(asset domain.Asset) (amount string, ok bool, err error)
	History() ([]domain.EffectRecord, error)
	Offers() ([]domain.Offer, error)
}

// AccountHandler serves account, balance, history and offer reads.
type AccountHandler struct {
	account AccountService
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(account AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{account: account, logger: logger}
}

// GetAccount returns the account view with sorted balances and reserve.
// GET /api/account?hide_native=true
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	hide, _ := strconv.ParseBool(r.URL.Query().Get("hide_native"))
	view, err := h.account.AccountView(hide)
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type balanceResponse struct {
	Asset   domain.Asset `json:"asset"`
	Amount  string       `json:"amount"`
	Trusted bool         `json:"trusted"`
}

// GetBalance returns the balance of one asset. An asset without a trust
// line answers trusted=false rather than 404.
// GET /api/account/balances/{asset}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r, "asset")
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	amount, ok, err := h.account.Balance(asset)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Amount: amount, Trusted: ok})
}

type historyResponse struct {
	Effects []domain.EffectRecord `json:"effects"`
}

// GetHistory returns effects newest first, paged with limit and offset.
// GET /api/account/history?limit=50&offset=0
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	effects, err := h.account.History()
	if err != nil {
		writeServiceError(w, r, h.logger, "get history", err)
		return
	}
	opts := parseListOpts(r)
	start := min(opts.Offset, len(effects))
	end := min(start+opts.Limit, len(effects))
	page := effects[start:end]
	if page == nil {
		page = []domain.EffectRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Effects: page})
}

type offersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

// GetOffers returns the account's open offers.
// GET /api/account/offers
func (h *AccountHandler) GetOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.account.Offers()
	if err != nil {
		writeServiceError(w, r, h.logger, "get offers", err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, offersResponse{Offers: offers})
}
