package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// TradeArchiver uploads derived trade series as JSONL objects, one object
// per aggregation run, under
// trades/<base>_<counter>/<yyyy>/<mm>/<dd>/<unix nanos>.jsonl.
type TradeArchiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewTradeArchiver creates a TradeArchiver writing through w.
func NewTradeArchiver(w domain.BlobWriter) *TradeArchiver {
	return &TradeArchiver{writer: w, now: time.Now}
}

type archivedPoint struct {
	Pair  string    `json:"pair"`
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// ArchiveTrades writes points for pair. An empty series writes nothing.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, pair domain.AssetPair, points []domain.TradePoint) error {
	if len(points) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	name := pair.String()
	for _, p := range points {
		if err := enc.Encode(archivedPoint{Pair: name, Time: p.Time.UTC(), Price: p.Price}); err != nil {
			return fmt.Errorf("s3blob: encode trade point: %w", err)
		}
	}

	key := tradeKey(pair, a.now().UTC())
	var err error
	if buf.Len() >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, &buf, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive trades %s: %w", name, err)
	}
	return nil
}

func tradeKey(pair domain.AssetPair, at time.Time) string {
	return fmt.Sprintf("trades/%s_%s/%s/%d.jsonl",
		assetSegment(pair.Base), assetSegment(pair.Counter),
		at.Format("2006/01/02"), at.UnixNano())
}

func assetSegment(a domain.Asset) string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + "-" + strings.ToLower(a.Issuer)
}
