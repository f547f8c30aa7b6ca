package domain

import (
	"github.com/shopspring/decimal"
)

const (
	// BaseReserveEntries is the number of reserve entries every account holds.
	BaseReserveEntries = 2
	// AmountPrecision is the number of fractional digits the ledger accepts.
	AmountPrecision = 7
)

var (
	// ReservePerEntry is the native amount locked per reserve entry.
	ReservePerEntry = decimal.NewFromInt(10)
	// ReserveBuffer is the fixed extra native amount kept back for fees.
	ReserveBuffer = decimal.NewFromInt(1)
)

// AccountSnapshot is the locally mirrored state of one ledger account.
type AccountSnapshot struct {
	ID                   string    `json:"id"`
	Balances             []Balance `json:"balances"`
	Sequence             string    `json:"sequence"`
	SubentryCount        int       `json:"subentry_count"`
	InflationDestination string    `json:"inflation_destination,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (s AccountSnapshot) Clone() AccountSnapshot {
	out := s
	out.Balances = append([]Balance(nil), s.Balances...)
	return out
}

// NativeBalance returns the native balance amount, or zero when the snapshot
// has no native line.
func (s AccountSnapshot) NativeBalance() decimal.Decimal {
	for _, b := range s.Balances {
		if b.Asset.IsNative() {
			d, err := decimal.NewFromString(b.Amount)
			if err != nil {
				return decimal.Zero
			}
			return d
		}
	}
	return decimal.Zero
}

// FindBalance returns the amount held of asset. The boolean is false when
// the account has no trust line for it.
func FindBalance(balances []Balance, asset Asset) (string, bool) {
	for _, b := range balances {
		if b.Asset.Equal(asset) {
			return b.Amount, true
		}
	}
	return "", false
}

// BalancesEqual compares two balance lists structurally and in order.
func BalancesEqual(a, b []Balance) bool {
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

// SortBalances groups balances as native, known, unknown. Order inside each
// group is preserved. When hideNative is set the native line is omitted.
func SortBalances(balances []Balance, hideNative bool, dir AssetDirectory) []Balance {
	var native, known, unknown []Balance
	for _, b := range balances {
		switch {
		case b.Asset.IsNative():
			if !hideNative {
				native = append(native, b)
			}
		case dir != nil && dir.Resolve(b.Asset.Code, b.Asset.Issuer).Known():
			known = append(known, b)
		default:
			unknown = append(unknown, b)
		}
	}
	out := make([]Balance, 0, len(balances))
	out = append(out, native...)
	out = append(out, known...)
	return append(out, unknown...)
}

// ReserveItem is one line of a reserve breakdown.
type ReserveItem struct {
	Label   string          `json:"label"`
	Entries int             `json:"entries"`
	Amount  decimal.Decimal `json:"amount"`
}

// ReserveBreakdown itemizes the native amount an account must keep back.
type ReserveBreakdown struct {
	Items []ReserveItem   `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// ExplainReserve itemizes the reserve for snap given the current number of
// open offers. Trust lines are every non-native balance; whatever subentries
// remain after trust lines and offers are reported as "Others".
func ExplainReserve(snap AccountSnapshot, offerCount int) ReserveBreakdown {
	trustlines := len(snap.Balances) - 1
	if trustlines < 0 {
		trustlines = 0
	}
	others := snap.SubentryCount - trustlines - offerCount

	entry := func(label string, n int) ReserveItem {
		return ReserveItem{Label: label, Entries: n, Amount: ReservePerEntry.Mul(decimal.NewFromInt(int64(n)))}
	}
	items := []ReserveItem{
		entry("Base reserve", BaseReserveEntries),
		entry("Trustlines", trustlines),
		entry("Offers", offerCount),
		entry("Others", others),
		{Label: "Extra", Amount: ReserveBuffer},
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return ReserveBreakdown{Items: items, Total: total}
}

// PaddedReserve is the coarse reserve bound used for spend checks:
// (2 + subentries) * 10 + 1.
func PaddedReserve(subentryCount int) decimal.Decimal {
	entries := decimal.NewFromInt(int64(BaseReserveEntries + subentryCount))
	return entries.Mul(ReservePerEntry).Add(ReserveBuffer)
}

// MaxNativeSpend returns how much native currency can leave the account
// without dipping into the padded reserve, rendered with 7 fractional digits.
func MaxNativeSpend(snap AccountSnapshot) string {
	spend := snap.NativeBalance().Sub(PaddedReserve(snap.SubentryCount))
	if spend.IsNegative() {
		spend = decimal.Zero
	}
	return spend.StringFixed(AmountPrecision)
}
