package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	view      domain.SessionView
	loginErr  error
	gotCred   domain.Credential
	gotPair   domain.AssetPair
	dismissed bool
	loggedOut bool

	account  service.AccountView
	accErr   error
	balances map[string]string
	history  []domain.EffectRecord
	offers   []domain.Offer

	book    service.OrderbookView
	bookErr error

	submitErr  error
	gotSide    domain.OfferSide
	gotOffer   service.OfferOpts
	gotRemove  int64
	gotPayment service.PaymentOpts
	gotTrust   service.TrustOpts
	gotUntrust domain.Asset
}

func (f *fakeSession) LogIn(_ context.Context, cred domain.Credential) error {
	f.gotCred = cred
	if f.loginErr != nil {
		return f.loginErr
	}
	f.view.State = domain.SessionIn
	return nil
}
func (f *fakeSession) LogOut()                  { f.loggedOut = true; f.view.State = domain.SessionOut }
func (f *fakeSession) View() domain.SessionView { return f.view }
func (f *fakeSession) SetOrderbook(_ context.Context, pair domain.AssetPair) error {
	f.gotPair = pair
	return nil
}
func (f *fakeSession) Vote(context.Context) (domain.SubmitResult, error) {
	return domain.SubmitResult{Hash: "vote"}, f.submitErr
}
func (f *fakeSession) DismissVote() { f.dismissed = true }

func (f *fakeSession) AccountView(bool) (service.AccountView, error) { return f.account, f.accErr }
func (f *fakeSession) Balance(a domain.Asset) (string, bool, error) {
	if f.accErr != nil {
		return "", false, f.accErr
	}
	v, ok := f.balances[a.String()]
	return v, ok, nil
}
func (f *fakeSession) History() ([]domain.EffectRecord, error) { return f.history, f.accErr }
func (f *fakeSession) Offers() ([]domain.Offer, error)         { return f.offers, f.accErr }

func (f *fakeSession) OrderbookView() (service.OrderbookView, error) { return f.book, f.bookErr }

func (f *fakeSession) CreateOffer(_ context.Context, side domain.OfferSide, opts service.OfferOpts) (domain.SubmitResult, error) {
	f.gotSide, f.gotOffer = side, opts
	return domain.SubmitResult{Hash: "offer"}, f.submitErr
}
func (f *fakeSession) RemoveOffer(_ context.Context, id int64) (domain.SubmitResult, error) {
	f.gotRemove = id
	return domain.SubmitResult{Hash: "remove"}, f.submitErr
}
func (f *fakeSession) SendPayment(_ context.Context, opts service.PaymentOpts) (domain.SubmitResult, error) {
	f.gotPayment = opts
	return domain.SubmitResult{Hash: "pay"}, f.submitErr
}
func (f *fakeSession) ChangeTrust(_ context.Context, opts service.TrustOpts) (domain.SubmitResult, error) {
	f.gotTrust = opts
	return domain.SubmitResult{Hash: "trust"}, f.submitErr
}
func (f *fakeSession) RemoveTrust(_ context.Context, a domain.Asset) (domain.SubmitResult, error) {
	f.gotUntrust = a
	return domain.SubmitResult{Hash: "untrust"}, f.submitErr
}

// mux registers the same patterns the server does.
func newMux(f *fakeSession, audit domain.AuditStore, series TradeSeriesReader) *http.ServeMux {
	log := discardLogger()
	sess := NewSessionHandler(f, log)
	acct := NewAccountHandler(f, log)
	book := NewOrderbookHandler(f, series, log)
	tx := NewTransactionHandler(f, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", sess.GetSession)
	mux.HandleFunc("POST /api/session/login", sess.LogIn)
	mux.HandleFunc("POST /api/session/logout", sess.LogOut)
	mux.HandleFunc("PUT /api/session/orderbook", sess.SetOrderbook)
	mux.HandleFunc("POST /api/session/vote", sess.Vote)
	mux.HandleFunc("POST /api/session/vote/dismiss", sess.DismissVote)
	mux.HandleFunc("GET /api/account", acct.GetAccount)
	mux.HandleFunc("GET /api/account/balances/{asset}", acct.GetBalance)
	mux.HandleFunc("GET /api/account/history", acct.GetHistory)
	mux.HandleFunc("GET /api/account/offers", acct.GetOffers)
	mux.HandleFunc("GET /api/orderbook", book.GetOrderbook)
	mux.HandleFunc("GET /api/trades/{base}/{counter}", book.GetArchivedTrades)
	mux.HandleFunc("POST /api/offers", tx.CreateOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", tx.RemoveOffer)
	mux.HandleFunc("POST /api/payments", tx.SendPayment)
	mux.HandleFunc("POST /api/trust", tx.ChangeTrust)
	mux.HandleFunc("DELETE /api/trust/{asset}", tx.RemoveTrust)
	if audit != nil {
		mux.HandleFunc("GET /api/audit", NewAuditHandler(audit, log).ListAudit)
	}
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrDestinationUnfunded, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrSigning, http.StatusForbidden},
		{domain.ErrAccountNotFound, http.StatusNotFound},
		{domain.ErrNotLoggedIn, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrSuperseded, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrTransport, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		wrapped := errors.Join(errors.New("context"), tc.err)
		assert.Equal(t, tc.want, statusFor(wrapped), tc.err.Error())
	}
}

func TestLogIn(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodPost, "/api/session/login", `{"public_key":"0xabc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", f.gotCred.PublicKey)

	rec = do(t, mux, http.MethodPost, "/api/session/login", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.loginErr = domain.ErrSigning
	rec = do(t, mux, http.MethodPost, "/api/session/login", `{"secret":"bad"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogOutAndDismiss(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/api/session/logout", "").Code)
	assert.True(t, f.loggedOut)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/api/session/vote/dismiss", "").Code)
	assert.True(t, f.dismissed)
}

func TestSetOrderbook(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodPut, "/api/session/orderbook", `{"base":"native","counter":"USD:0xissuer"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.gotPair.Base.IsNative())
	assert.Equal(t, "USD", f.gotPair.Counter.Code)

	rec = do(t, mux, http.MethodPut, "/api/session/orderbook", `{"base":"native","counter":"XLM"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPut, "/api/session/orderbook", `{"base":"USD","counter":"native"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountReadsRequireLogin(t *testing.T) {
	f := &fakeSession{accErr: domain.ErrNotLoggedIn}
	mux := newMux(f, nil, nil)

	for _, target := range []string{"/api/account", "/api/account/history", "/api/account/offers", "/api/account/balances/native"} {
		rec := do(t, mux, http.MethodGet, target, "")
		assert.Equal(t, http.StatusConflict, rec.Code, target)
	}
}

func TestGetBalance(t *testing.T) {
	f := &fakeSession{balances: map[string]string{domain.NativeAsset().String(): "100.0000000"}}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodGet, "/api/account/balances/native", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "100.0000000", body["amount"])
	assert.Equal(t, true, body["trusted"])

	rec = do(t, mux, http.MethodGet, "/api/account/balances/EUR:0xissuer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["trusted"])
}

func TestGetHistoryPages(t *testing.T) {
	f := &fakeSession{}
	for _, id := range []string{"3-0", "2-0", "1-0"} {
		f.history = append(f.history, domain.EffectRecord{ID: id})
	}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodGet, "/api/account/history?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Effects, 2)
	assert.Equal(t, "2-0", out.Effects[0].ID)

	rec = do(t, mux, http.MethodGet, "/api/account/history?offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"effects":[]}`, rec.Body.String())
}

func TestGetOffersEmptyIsArray(t *testing.T) {
	mux := newMux(&fakeSession{}, nil, nil)
	rec := do(t, mux, http.MethodGet, "/api/account/offers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"offers":[]}`, rec.Body.String())
}

func TestGetOrderbook(t *testing.T) {
	f := &fakeSession{bookErr: domain.ErrNotFound}
	mux := newMux(f, nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/orderbook", "").Code)

	f.bookErr = nil
	f.book = service.OrderbookView{Orderbook: domain.OrderbookSnapshot{Ready: true}}
	rec := do(t, mux, http.MethodGet, "/api/orderbook", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{}, body["trades"])
}

func TestCreateOffer(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodPost, "/api/offers", `{"side":"buy","price":"0.5","amount":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.OfferSideBuy, f.gotSide)
	assert.Equal(t, "0.5", f.gotOffer.Price)
	assert.Equal(t, "10", f.gotOffer.Amount)

	f.submitErr = domain.ErrLockHeld
	rec = do(t, mux, http.MethodPost, "/api/offers", `{"side":"sell","price":"1","amount":"1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemoveOffer(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	require.Equal(t, http.StatusOK, do(t, mux, http.MethodDelete, "/api/offers/42", "").Code)
	assert.Equal(t, int64(42), f.gotRemove)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodDelete, "/api/offers/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodDelete, "/api/offers/0", "").Code)
}

func TestSendPayment(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodPost, "/api/payments", `{"destination":"0xdest","amount":"5"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0xdest", f.gotPayment.Destination)

	f.submitErr = domain.ErrDestinationUnfunded
	rec = do(t, mux, http.MethodPost, "/api/payments", `{"destination":"0xdest","amount":"5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], domain.ErrDestinationUnfunded.Error())
}

func TestTrustEndpoints(t *testing.T) {
	f := &fakeSession{}
	mux := newMux(f, nil, nil)

	rec := do(t, mux, http.MethodPost, "/api/trust", `{"asset":{"asset_type":"credit_alphanum4","asset_code":"USD","asset_issuer":"0xissuer"},"limit":"1000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.gotTrust.Limit)
	assert.Equal(t, "1000", *f.gotTrust.Limit)

	rec = do(t, mux, http.MethodPost, "/api/trust", `{"asset":{"asset_type":"credit_alphanum4","asset_code":"USD","asset_issuer":"0xissuer"},"limit":1000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, do(t, mux, http.MethodDelete, "/api/trust/USD:0xissuer", "").Code)
	assert.Equal(t, "0xissuer", f.gotUntrust.Issuer)
}

func TestSubmitWithoutSessionIsConflict(t *testing.T) {
	f := &fakeSession{submitErr: domain.ErrNotLoggedIn}
	mux := newMux(f, nil, nil)
	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/api/session/vote", "").Code)
}

type fakeAudit struct {
	account string
	opts    domain.ListOpts
	entries []domain.AuditEntry
	err     error
}

func (f *fakeAudit) Log(context.Context, string, string, map[string]any) error { return nil }
func (f *fakeAudit) List(_ context.Context, account string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.account, f.opts = account, opts
	return f.entries, f.err
}

func TestListAudit(t *testing.T) {
	audit := &fakeAudit{}
	mux := newMux(&fakeSession{}, audit, nil)

	rec := do(t, mux, http.MethodGet, "/api/audit?account=0xabc&limit=900&since=2024-01-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
	assert.Equal(t, "0xabc", audit.account)
	assert.Equal(t, 500, audit.opts.Limit)
	require.NotNil(t, audit.opts.Since)

	rec = do(t, mux, http.MethodGet, "/api/audit?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	audit.err = errors.New("db down")
	rec = do(t, mux, http.MethodGet, "/api/audit", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "list audit failed", decode(t, rec)["error"])
}

type fakeSeries struct {
	pair  domain.AssetPair
	limit int
}

func (f *fakeSeries) Series(_ context.Context, pair domain.AssetPair, _ time.Time, limit int) ([]domain.TradePoint, error) {
	f.pair, f.limit = pair, limit
	return []domain.TradePoint{{Price: 1.5}}, nil
}

func TestArchivedTrades(t *testing.T) {
	mux := newMux(&fakeSession{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/trades/native/USD:0xi", "").Code)

	series := &fakeSeries{}
	mux = newMux(&fakeSession{}, nil, series)
	rec := do(t, mux, http.MethodGet, "/api/trades/native/USD:0xi?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, series.limit)
	assert.Equal(t, "USD", series.pair.Counter.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"redis": func(context.Context) error { return nil },
	}, discardLogger())
	rec := do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	h = NewHealthHandler(map[string]Pinger{
		"postgres": func(context.Context) error { return errors.New("refused") },
	}, discardLogger())
	rec = do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

type memViews map[string][]byte

func (m memViews) SetView(_ context.Context, name string, payload []byte) error {
	m[name] = payload
	return nil
}

func (m memViews) GetView(_ context.Context, name string) ([]byte, error) {
	v, ok := m[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m memViews) DeleteView(_ context.Context, name string) error {
	delete(m, name)
	return nil
}

type streamBus struct {
	after string
	msgs  []domain.StreamMessage
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }
func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("unsupported")
}
func (b *streamBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *streamBus) StreamRead(_ context.Context, _ string, after string, _ int) ([]domain.StreamMessage, error) {
	b.after = after
	return b.msgs, nil
}

func TestGetView(t *testing.T) {
	views := memViews{service.ViewSession: []byte(`{"state":"in"}`)}
	h := NewUpdatesHandler(&streamBus{}, views, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/views/{name}", h.GetView)

	rec := do(t, mux, http.MethodGet, "/api/views/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"in"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/views/account", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/views/secrets", "").Code)
}

func TestReplayEffects(t *testing.T) {
	bus := &streamBus{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"kind":"effect","effect_id":"5-1"}`)},
		{ID: "2-0", Payload: []byte(`garbage`)},
		{ID: "3-0", Payload: []byte(`{"kind":"effect","effect_id":"6-1"}`)},
	}}
	h := NewUpdatesHandler(bus, memViews{}, discardLogger())

	rec := do(t, http.HandlerFunc(h.ReplayEffects), http.MethodGet, "/api/updates/effects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", bus.after)

	var out streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Entries, 2)
	assert.Equal(t, "3-0", out.Last)

	bus.msgs = nil
	rec = do(t, http.HandlerFunc(h.ReplayEffects), http.MethodGet, "/api/updates/effects?after=3-0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[],"last":"3-0"}`, rec.Body.String())
}
