package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/service"
)

// SubmitService submits mutations for the logged-in account.
type SubmitService interface {
	CreateOffer(ctx context.Context, side domain.OfferSide, opts service.OfferOpts) (domain.SubmitResult, error)
	RemoveOffer(ctx context.Context, offerID int64) (domain.SubmitResult, error)
	SendPayment(ctx context.Context, opts service.PaymentOpts) (domain.SubmitResult, error)
	ChangeTrust(ctx context.Context, opts service.TrustOpts) (domain.SubmitResult, error)
	RemoveTrust(ctx context.Context, asset domain.Asset) (domain.SubmitResult, error)
}

// TransactionHandler serves the mutation endpoints.
type TransactionHandler struct {
	submit SubmitService
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(submit SubmitService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{submit: submit, logger: logger}
}

type offerRequest struct {
	Side domain.OfferSide `json:"side"`
	service.OfferOpts
}

// CreateOffer places a buy or sell offer. Without base and counter the
// active orderbook pair is used.
// POST /api/offers
func (h *TransactionHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create offer", err)
		return
	}
	res, err := h.submit.CreateOffer(r.Context(), req.Side, req.OfferOpts)
	if err != nil {
		writeServiceError(w, r, h.logger, "create offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// RemoveOffer cancels an offer.
// DELETE /api/offers/{id}
func (h *TransactionHandler) RemoveOffer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "offer id must be a positive integer")
		return
	}
	res, err := h.submit.RemoveOffer(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove offer", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SendPayment pays or creates an account.
// POST /api/payments
func (h *TransactionHandler) SendPayment(w http.ResponseWriter, r *http.Request) {
	var opts service.PaymentOpts
	if err := decodeJSON(w, r, &opts); err != nil {
		writeServiceError(w, r, h.logger, "send payment", err)
		return
	}
	res, err := h.submit.SendPayment(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "send payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ChangeTrust opens or changes a trust line. The limit must be a JSON
// string or absent.
// POST /api/trust
func (h *TransactionHandler) ChangeTrust(w http.ResponseWriter, r *http.Request) {
	var opts service.TrustOpts
	if err := decodeJSON(w, r, &opts); err != nil {
		writeServiceError(w, r, h.logger, "change trust", err)
		return
	}
	res, err := h.submit.ChangeTrust(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "change trust", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RemoveTrust closes a trust line.
// DELETE /api/trust/{asset}
func (h *TransactionHandler) RemoveTrust(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r, "asset")
	if err != nil {
		writeServiceError(w, r, h.logger, "remove trust", err)
		return
	}
	res, err := h.submit.RemoveTrust(r.Context(), asset)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove trust", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
