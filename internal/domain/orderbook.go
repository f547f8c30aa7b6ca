package domain

import (
	"math"
	"sort"
	"strconv"
	"time"
)

const (
	// TradePageSize is the number of trades requested per history page.
	TradePageSize = 200
	// MaxTradePages bounds how many history pages one aggregation reads.
	MaxTradePages = 5
	// TradeFetchBudget bounds the wall-clock time one aggregation may take.
	TradeFetchBudget = 5 * time.Second
	// OutlierRatio is the largest price ratio between a point and the last
	// kept point before the point is dropped.
	OutlierRatio = 2.0
)

// PriceLevel is one aggregated orderbook level.
type PriceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// LevelsEqual compares two level lists structurally and in order.
func LevelsEqual(a, b []PriceLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// OrderbookSnapshot is the current book for one pair. Ready stays false
// until the first snapshot load completes.
type OrderbookSnapshot struct {
	Pair  AssetPair    `json:"pair"`
	Bids  []PriceLevel `json:"bids"`
	Asks  []PriceLevel `json:"asks"`
	Ready bool         `json:"ready"`
}

// Clone returns a deep copy safe to hand to readers.
func (s OrderbookSnapshot) Clone() OrderbookSnapshot {
	out := s
	out.Bids = append([]PriceLevel(nil), s.Bids...)
	out.Asks = append([]PriceLevel(nil), s.Asks...)
	return out
}

// Trade is one historical matched exchange.
type Trade struct {
	ID              string
	PagingToken     string
	LedgerCloseTime time.Time
	BoughtAmount    string
	SoldAmount      string
}

// TradePage is one page of trade history plus the cursor for the next page.
type TradePage struct {
	Records []Trade
	Next    string
}

// TradePoint is one point of a derived price-time series.
type TradePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// BuildTradeSeries turns raw trades into a chronological price series.
// Price is bought/sold; points whose amounts do not parse or whose price is
// not finite are dropped. Outliers are removed against the last kept point
// while walking newest to oldest.
func BuildTradeSeries(trades []Trade) []TradePoint {
	points := make([]TradePoint, 0, len(trades))
	for _, t := range trades {
		bought, err := strconv.ParseFloat(t.BoughtAmount, 64)
		if err != nil {
			continue
		}
		sold, err := strconv.ParseFloat(t.SoldAmount, 64)
		if err != nil {
			continue
		}
		price := bought / sold
		if math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		points = append(points, TradePoint{Time: t.LedgerCloseTime, Price: price})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.After(points[j].Time)
	})

	kept := FilterOutliers(points, OutlierRatio)

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// FilterOutliers keeps the first point and then every point whose price is
// within threshold of the last kept price (larger over smaller). Dropped
// points never become the reference.
func FilterOutliers(points []TradePoint, threshold float64) []TradePoint {
	if len(points) == 0 {
		return []TradePoint{}
	}
	kept := make([]TradePoint, 0, len(points))
	kept = append(kept, points[0])
	last := points[0].Price
	for _, p := range points[1:] {
		if priceRatio(p.Price, last) > threshold {
			continue
		}
		kept = append(kept, p)
		last = p.Price
	}
	return kept
}

func priceRatio(a, b float64) float64 {
	hi, lo := math.Max(a, b), math.Min(a, b)
	if lo == 0 {
		if hi == 0 {
			return 1
		}
		return math.Inf(1)
	}
	return hi / lo
}
