// Package horizon is the REST and streaming client for the remote ledger
// service.
package horizon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// PageQuery selects one page of a collection.
type PageQuery struct {
	Cursor string
	Limit  int
	Order  string // "asc" or "desc"
}

func (q PageQuery) values() url.Values {
	v := url.Values{}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	return v
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	Limiter           domain.RateLimiter
}

// Client talks to the ledger service REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
	rps        int
}

// NewClient creates a REST client. A nil Limiter disables client-side rate
// limiting.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
		rps:        cfg.RequestsPerSecond,
	}
}

// LoadAccount fetches an account. A missing account fails with
// domain.ErrAccountNotFound.
func (c *Client) LoadAccount(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	var acct AccountJSON
	if err := c.getJSON(ctx, "/accounts/"+url.PathEscape(accountID), nil, &acct); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AccountSnapshot{}, fmt.Errorf("horizon: load account %s: %w", accountID, domain.ErrAccountNotFound)
		}
		return domain.AccountSnapshot{}, fmt.Errorf("horizon: load account %s: %w", accountID, err)
	}
	return acct.ToDomain(), nil
}

// Effects fetches one page of effects for an account.
func (c *Client) Effects(ctx context.Context, accountID string, q PageQuery) ([]domain.EffectRecord, error) {
	var p page[json.RawMessage]
	if err := c.getJSON(ctx, "/accounts/"+url.PathEscape(accountID)+"/effects", q.values(), &p); err != nil {
		return nil, fmt.Errorf("horizon: effects %s: %w", accountID, err)
	}
	out := make([]domain.EffectRecord, 0, len(p.Embedded.Records))
	for _, raw := range p.Embedded.Records {
		rec, err := ParseEffect(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Operation fetches a single operation by id.
func (c *Client) Operation(ctx context.Context, id string) (domain.OperationRecord, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/operations/"+url.PathEscape(id), nil, &raw); err != nil {
		return domain.OperationRecord{}, fmt.Errorf("horizon: operation %s: %w", id, err)
	}
	return parseOperation(raw)
}

// Transaction fetches a single transaction by hash.
func (c *Client) Transaction(ctx context.Context, hash string) (domain.TransactionRecord, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/transactions/"+url.PathEscape(hash), nil, &raw); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("horizon: transaction %s: %w", hash, err)
	}
	return parseTransaction(raw)
}

// Offers fetches one page of the account's open offers.
func (c *Client) Offers(ctx context.Context, accountID string, q PageQuery) ([]domain.Offer, error) {
	var p page[offerJSON]
	if err := c.getJSON(ctx, "/accounts/"+url.PathEscape(accountID)+"/offers", q.values(), &p); err != nil {
		return nil, fmt.Errorf("horizon: offers %s: %w", accountID, err)
	}
	out := make([]domain.Offer, 0, len(p.Embedded.Records))
	for _, o := range p.Embedded.Records {
		out = append(out, o.toDomain())
	}
	return out, nil
}

// Orderbook fetches the current book for a pair.
func (c *Client) Orderbook(ctx context.Context, pair domain.AssetPair) (domain.OrderbookSnapshot, error) {
	var ob OrderbookJSON
	if err := c.getJSON(ctx, "/order_book", pairValues(pair), &ob); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("horizon: orderbook %s: %w", pair, err)
	}
	return domain.OrderbookSnapshot{Pair: pair, Bids: ob.Bids, Asks: ob.Asks}, nil
}

// Trades fetches one page of trade history for a pair. Next is the paging
// token of the last record, or empty when the page is empty.
func (c *Client) Trades(ctx context.Context, pair domain.AssetPair, q PageQuery) (domain.TradePage, error) {
	v := url.Values{}
	putAsset(v, "base", pair.Base)
	putAsset(v, "counter", pair.Counter)
	for k, vals := range q.values() {
		v[k] = vals
	}
	var p page[tradeJSON]
	if err := c.getJSON(ctx, "/trades", v, &p); err != nil {
		return domain.TradePage{}, fmt.Errorf("horizon: trades %s: %w", pair, err)
	}
	out := domain.TradePage{Records: make([]domain.Trade, 0, len(p.Embedded.Records))}
	for _, t := range p.Embedded.Records {
		out.Records = append(out.Records, t.toDomain())
	}
	if n := len(p.Embedded.Records); n > 0 {
		out.Next = p.Embedded.Records[n-1].PagingToken
	}
	return out, nil
}

// SubmitTransaction posts a signed envelope.
func (c *Client) SubmitTransaction(ctx context.Context, signed domain.SignedEnvelope) (domain.SubmitResult, error) {
	body, err := json.Marshal(signed)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("horizon: encode envelope: %w", err)
	}
	respBody, err := c.do(ctx, http.MethodPost, "/transactions", nil, body)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("horizon: submit %s: %w", signed.Hash, err)
	}
	var res submitJSON
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("horizon: decode submit result: %w", err)
	}
	out := domain.SubmitResult{Hash: res.Hash, Ledger: int64(res.Ledger), Successful: res.Successful == nil || *res.Successful}
	if !out.Successful {
		return out, fmt.Errorf("horizon: transaction %s rejected", res.Hash)
	}
	return out, nil
}

// pairValues encodes a pair as selling=base, buying=counter query params.
func pairValues(pair domain.AssetPair) url.Values {
	v := url.Values{}
	putAsset(v, "selling", pair.Base)
	putAsset(v, "buying", pair.Counter)
	return v
}

func putAsset(v url.Values, prefix string, a domain.Asset) {
	v.Set(prefix+"_asset_type", string(a.Type))
	if !a.IsNative() {
		v.Set(prefix+"_asset_code", a.Code)
		v.Set(prefix+"_asset_issuer", a.Issuer)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	body, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	if c.limiter != nil && c.rps > 0 {
		if err := c.limiter.Wait(ctx, "horizon", c.rps, time.Second); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
