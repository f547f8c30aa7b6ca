package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

const (
	testSecret   = "0000000000000000000000000000000000000000000000000000000000000001"
	testAccount  = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	otherAccount = "0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF"
	otherSecret  = "0000000000000000000000000000000000000000000000000000000000000002"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger is an in-memory LedgerSource.
type fakeLedger struct {
	mu sync.Mutex

	accounts  map[string]domain.AccountSnapshot
	loadErrs  []error
	loadCalls int
	// loadGate, when set, holds the next LoadAccount until closed.
	// loadEntered is closed once that call is waiting.
	loadGate    chan struct{}
	loadEntered chan struct{}

	effects []domain.EffectRecord
	ops     map[string]domain.OperationRecord
	txs     map[string]domain.TransactionRecord

	offers     []domain.Offer
	offerCalls int

	book       domain.OrderbookSnapshot
	tradePages [][]domain.Trade
	tradeErrAt int
	tradeCalls int
	onTrades   func()

	submitted []domain.SignedEnvelope
	submitErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:   map[string]domain.AccountSnapshot{},
		ops:        map[string]domain.OperationRecord{},
		txs:        map[string]domain.TransactionRecord{},
		tradeErrAt: -1,
	}
}

func (f *fakeLedger) LoadAccount(_ context.Context, id string) (domain.AccountSnapshot, error) {
	f.mu.Lock()
	gate, entered := f.loadGate, f.loadEntered
	f.loadGate, f.loadEntered = nil, nil
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	if len(f.loadErrs) > 0 {
		err := f.loadErrs[0]
		f.loadErrs = f.loadErrs[1:]
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
	}
	acct, ok := f.accounts[id]
	if !ok {
		return domain.AccountSnapshot{}, fmt.Errorf("fake: %w", domain.ErrAccountNotFound)
	}
	return acct.Clone(), nil
}

func (f *fakeLedger) loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalls
}

func (f *fakeLedger) Effects(_ context.Context, _ string, q horizon.PageQuery) ([]domain.EffectRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.EffectRecord(nil), f.effects...)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeLedger) Operation(_ context.Context, id string) (domain.OperationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return domain.OperationRecord{}, fmt.Errorf("fake: operation %s: %w", id, domain.ErrNotFound)
	}
	return op, nil
}

func (f *fakeLedger) Transaction(_ context.Context, hash string) (domain.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return domain.TransactionRecord{}, fmt.Errorf("fake: transaction %s: %w", hash, domain.ErrNotFound)
	}
	return tx, nil
}

func (f *fakeLedger) Offers(context.Context, string, horizon.PageQuery) ([]domain.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerCalls++
	return append([]domain.Offer(nil), f.offers...), nil
}

func (f *fakeLedger) offerPolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offerCalls
}

func (f *fakeLedger) Orderbook(_ context.Context, pair domain.AssetPair) (domain.OrderbookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ob := f.book.Clone()
	ob.Pair = pair
	return ob, nil
}

// Trades serves tradePages in order. Cursor "p<n>" selects page n.
func (f *fakeLedger) Trades(_ context.Context, _ domain.AssetPair, q horizon.PageQuery) (domain.TradePage, error) {
	f.mu.Lock()
	f.tradeCalls++
	hook := f.onTrades
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	idx := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor[1:])
		if err != nil {
			return domain.TradePage{}, err
		}
		idx = n
	}
	if idx == f.tradeErrAt {
		return domain.TradePage{}, fmt.Errorf("fake: %w", domain.ErrTransport)
	}
	if idx >= len(f.tradePages) {
		return domain.TradePage{}, nil
	}
	return domain.TradePage{Records: f.tradePages[idx], Next: "p" + strconv.Itoa(idx+1)}, nil
}

func (f *fakeLedger) SubmitTransaction(_ context.Context, signed domain.SignedEnvelope) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, signed)
	if f.submitErr != nil {
		return domain.SubmitResult{}, f.submitErr
	}
	return domain.SubmitResult{Hash: signed.Hash, Ledger: 10, Successful: true}, nil
}

func (f *fakeLedger) lastOps() []domain.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitted) == 0 {
		return nil
	}
	return f.submitted[len(f.submitted)-1].Envelope.Operations
}

// fakeStream is an in-memory LedgerStreamer. Tests push records by hand.
type fakeStream struct {
	mu       sync.Mutex
	accounts map[string]func(domain.AccountSnapshot)
	effects  map[string]func(domain.EffectRecord)
	books    map[string]func(domain.OrderbookSnapshot)
	released map[string]int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		accounts: map[string]func(domain.AccountSnapshot){},
		effects:  map[string]func(domain.EffectRecord){},
		books:    map[string]func(domain.OrderbookSnapshot){},
		released: map[string]int{},
	}
}

func (f *fakeStream) release(kind, key string, drop func()) func() {
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		drop()
		f.released[kind+":"+key]++
	}
}

func (f *fakeStream) Account(_ context.Context, id string, fn func(domain.AccountSnapshot)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id] = fn
	return f.release("account", id, func() { delete(f.accounts, id) }), nil
}

func (f *fakeStream) Effects(_ context.Context, id string, fn func(domain.EffectRecord)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.effects[id] = fn
	return f.release("effects", id, func() { delete(f.effects, id) }), nil
}

func (f *fakeStream) Orderbook(_ context.Context, pair domain.AssetPair, fn func(domain.OrderbookSnapshot)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[pair.String()] = fn
	return f.release("book", pair.String(), func() { delete(f.books, pair.String()) }), nil
}

func (f *fakeStream) pushAccount(id string, snap domain.AccountSnapshot) {
	f.mu.Lock()
	fn := f.accounts[id]
	f.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (f *fakeStream) pushEffect(id string, rec domain.EffectRecord) {
	f.mu.Lock()
	fn := f.effects[id]
	f.mu.Unlock()
	if fn != nil {
		fn(rec)
	}
}

func (f *fakeStream) pushBook(pair domain.AssetPair, ob domain.OrderbookSnapshot) {
	f.mu.Lock()
	fn := f.books[pair.String()]
	f.mu.Unlock()
	if fn != nil {
		fn(ob)
	}
}

func (f *fakeStream) releases(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[key]
}

// counter counts update notifications.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func effect(id string) domain.EffectRecord {
	return domain.EffectRecord{
		ID:       id,
		Category: domain.EffectAccountCredited,
		Fields:   map[string]any{"id": id, "type": "account_credited", "amount": "1"},
		Details:  map[string]any{"id": id},
	}
}

// addChain registers an operation and transaction for effect id "<op>-<n>".
func (f *fakeLedger) addChain(opID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := "tx" + opID
	f.ops[opID] = domain.OperationRecord{
		ID: opID, Type: "payment", TransactionHash: hash,
		Fields: map[string]any{"id": opID, "type": "payment", "amount": "op-amount"},
	}
	f.txs[hash] = domain.TransactionRecord{
		Hash: hash, Ledger: 7,
		Fields: map[string]any{"hash": hash, "memo": "hello", "id": hash},
	}
}

func fundedAccount(id, native string, subentries int, extra ...domain.Balance) domain.AccountSnapshot {
	balances := append([]domain.Balance{}, extra...)
	balances = append(balances, domain.Balance{Asset: domain.NativeAsset(), Amount: native})
	return domain.AccountSnapshot{ID: id, Balances: balances, Sequence: "100", SubentryCount: subentries}
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event, account string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Account: account, Detail: detail})
	return nil
}

func (a *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (f *fakeLedger) setAccount(snap domain.AccountSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[snap.ID] = snap
}
