package horizon

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// flexInt64 accepts a JSON number or a quoted number.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("horizon: parse int %q: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}

type link struct {
	Href string `json:"href"`
}

// page is the envelope of every collection endpoint.
type page[T any] struct {
	Embedded struct {
		Records []T `json:"records"`
	} `json:"_embedded"`
	Links struct {
		Next link `json:"next"`
	} `json:"_links"`
}

type assetJSON struct {
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code,omitempty"`
	AssetIssuer string `json:"asset_issuer,omitempty"`
}

func (a assetJSON) toDomain() domain.Asset {
	if a.AssetType == string(domain.AssetTypeNative) {
		return domain.NativeAsset()
	}
	return domain.Asset{Type: domain.AssetType(a.AssetType), Code: a.AssetCode, Issuer: a.AssetIssuer}
}

type balanceJSON struct {
	assetJSON
	Balance string `json:"balance"`
	Limit   string `json:"limit,omitempty"`
}

// AccountJSON is the account resource as served by REST and stream.
type AccountJSON struct {
	ID                   string        `json:"id"`
	AccountID            string        `json:"account_id"`
	Sequence             string        `json:"sequence"`
	SubentryCount        int           `json:"subentry_count"`
	InflationDestination string        `json:"inflation_destination"`
	Balances             []balanceJSON `json:"balances"`
}

// ToDomain converts the resource into a snapshot.
func (a AccountJSON) ToDomain() domain.AccountSnapshot {
	id := a.AccountID
	if id == "" {
		id = a.ID
	}
	balances := make([]domain.Balance, 0, len(a.Balances))
	for _, b := range a.Balances {
		balances = append(balances, domain.Balance{Asset: b.toDomain(), Amount: b.Balance, Limit: b.Limit})
	}
	return domain.AccountSnapshot{
		ID:                   id,
		Balances:             balances,
		Sequence:             a.Sequence,
		SubentryCount:        a.SubentryCount,
		InflationDestination: a.InflationDestination,
	}
}

// ParseEffect converts a raw effect record. All raw fields are kept so they
// can be folded during enrichment.
func ParseEffect(raw json.RawMessage) (domain.EffectRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.EffectRecord{}, fmt.Errorf("horizon: decode effect: %w", err)
	}
	rec := domain.EffectRecord{
		ID:          str(fields, "id"),
		PagingToken: str(fields, "paging_token"),
		Account:     str(fields, "account"),
		Category:    domain.ParseEffectCategory(str(fields, "type")),
		CreatedAt:   timeField(fields, "created_at"),
		Fields:      fields,
		Details:     fields,
	}
	if rec.ID == "" {
		return domain.EffectRecord{}, fmt.Errorf("horizon: effect without id")
	}
	return rec, nil
}

func parseOperation(raw json.RawMessage) (domain.OperationRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.OperationRecord{}, fmt.Errorf("horizon: decode operation: %w", err)
	}
	hash := str(fields, "transaction_hash")
	if hash == "" {
		hash = linkTail(fields, "transaction")
	}
	return domain.OperationRecord{
		ID:              str(fields, "id"),
		Type:            str(fields, "type"),
		TransactionHash: hash,
		SourceAccount:   str(fields, "source_account"),
		CreatedAt:       timeField(fields, "created_at"),
		Fields:          fields,
	}, nil
}

func parseTransaction(raw json.RawMessage) (domain.TransactionRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("horizon: decode transaction: %w", err)
	}
	var ledger int64
	if v, ok := fields["ledger"].(float64); ok {
		ledger = int64(v)
	}
	return domain.TransactionRecord{
		Hash:          str(fields, "hash"),
		Ledger:        ledger,
		SourceAccount: str(fields, "source_account"),
		MemoType:      str(fields, "memo_type"),
		Memo:          str(fields, "memo"),
		CreatedAt:     timeField(fields, "created_at"),
		Fields:        fields,
	}, nil
}

type offerJSON struct {
	ID      flexInt64 `json:"id"`
	Seller  string    `json:"seller"`
	Selling assetJSON `json:"selling"`
	Buying  assetJSON `json:"buying"`
	Amount  string    `json:"amount"`
	Price   string    `json:"price"`
}

func (o offerJSON) toDomain() domain.Offer {
	return domain.Offer{
		ID:      int64(o.ID),
		Seller:  o.Seller,
		Selling: o.Selling.toDomain(),
		Buying:  o.Buying.toDomain(),
		Price:   o.Price,
		Amount:  o.Amount,
	}
}

// OrderbookJSON is the order_book resource.
type OrderbookJSON struct {
	Bids []domain.PriceLevel `json:"bids"`
	Asks []domain.PriceLevel `json:"asks"`
}

type tradeJSON struct {
	ID              string `json:"id"`
	PagingToken     string `json:"paging_token"`
	LedgerCloseTime string `json:"ledger_close_time"`
	BoughtAmount    string `json:"bought_amount"`
	SoldAmount      string `json:"sold_amount"`
}

func (t tradeJSON) toDomain() domain.Trade {
	ts, _ := time.Parse(time.RFC3339, t.LedgerCloseTime)
	return domain.Trade{
		ID:              t.ID,
		PagingToken:     t.PagingToken,
		LedgerCloseTime: ts,
		BoughtAmount:    t.BoughtAmount,
		SoldAmount:      t.SoldAmount,
	}
}

type submitJSON struct {
	Hash       string    `json:"hash"`
	Ledger     flexInt64 `json:"ledger"`
	Successful *bool     `json:"successful"`
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func timeField(m map[string]any, key string) time.Time {
	ts, _ := time.Parse(time.RFC3339, str(m, key))
	return ts
}

// linkTail returns the last path segment of _links.<name>.href.
func linkTail(m map[string]any, name string) string {
	links, _ := m["_links"].(map[string]any)
	l, _ := links[name].(map[string]any)
	href, _ := l["href"].(string)
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}
