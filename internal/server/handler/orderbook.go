package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/service"
)

// OrderbookService exposes the active orderbook.
type OrderbookService interface {
	OrderbookView() (service.OrderbookView, error)
}

// TradeSeriesReader reads archived trade series.
type TradeSeriesReader interface {
	Series(ctx context.Context, pair domain.AssetPair, since time.Time, limit int) ([]domain.TradePoint, error)
}

// OrderbookHandler serves the live book and archived trade series.
type OrderbookHandler struct {
	book    OrderbookService
	archive TradeSeriesReader
	logger  *slog.Logger
}

// NewOrderbookHandler creates an OrderbookHandler. archive may be nil.
func NewOrderbookHandler(book OrderbookService, archive TradeSeriesReader, logger *slog.Logger) *OrderbookHandler {
	return &OrderbookHandler{book: book, archive: archive, logger: logger}
}

// GetOrderbook returns the active pair's book and trade series.
// GET /api/orderbook
func (h *OrderbookHandler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	view, err := h.book.OrderbookView()
	if err != nil {
		writeServiceError(w, r, h.logger, "get orderbook", err)
		return
	}
	if view.Trades == nil {
		view.Trades = []domain.TradePoint{}
	}
	writeJSON(w, http.StatusOK, view)
}

type seriesResponse struct {
	Pair   string              `json:"pair"`
	Points []domain.TradePoint `json:"points"`
}

// GetArchivedTrades returns stored trade points for base/counter.
// GET /api/trades/{base}/{counter}?since=2024-01-02T00:00:00Z&limit=500
func (h *OrderbookHandler) GetArchivedTrades(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "trade archive not configured")
		return
	}
	base, err := pathAsset(r, "base")
	if err != nil {
		writeServiceError(w, r, h.logger, "get archived trades", err)
		return
	}
	counter, err := pathAsset(r, "counter")
	if err != nil {
		writeServiceError(w, r, h.logger, "get archived trades", err)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	pair := domain.AssetPair{Base: base, Counter: counter}
	points, err := h.archive.Series(r.Context(), pair, since, parseListOpts(r).Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "get archived trades", err)
		return
	}
	if points == nil {
		points = []domain.TradePoint{}
	}
	writeJSON(w, http.StatusOK, seriesResponse{Pair: pair.String(), Points: points})
}
