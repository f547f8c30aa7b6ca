package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory map[string]string

func (d stubDirectory) Resolve(code, issuer string) AssetInfo {
	if domain, ok := d[code+":"+issuer]; ok {
		return AssetInfo{Code: code, Issuer: issuer, Domain: domain}
	}
	return AssetInfo{Code: code, Issuer: issuer, Domain: UnknownDomain}
}

func snapshotWith(native string, subentries int, credits ...Balance) AccountSnapshot {
	balances := append([]Balance{}, credits...)
	balances = append(balances, Balance{Asset: NativeAsset(), Amount: native})
	return AccountSnapshot{ID: "GACC", Balances: balances, SubentryCount: subentries}
}

func TestPaddedReserve(t *testing.T) {
	assert.Equal(t, "51", PaddedReserve(3).String())
	assert.Equal(t, "21", PaddedReserve(0).String())
}

func TestMaxNativeSpend(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		subs    int
		want    string
	}{
		{"exactly reserve", "51", 3, "0.0000000"},
		{"above reserve", "55.5", 3, "4.5000000"},
		{"below reserve", "20", 3, "0.0000000"},
		{"no subentries", "100.1234567", 0, "79.1234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxNativeSpend(snapshotWith(tt.balance, tt.subs)))
		})
	}
}

func TestExplainReserve(t *testing.T) {
	usd := Balance{Asset: CreditAsset("USD", "GISSUER"), Amount: "5"}
	eur := Balance{Asset: CreditAsset("EUR", "GISSUER"), Amount: "1"}
	snap := snapshotWith("100", 5, usd, eur)

	br := ExplainReserve(snap, 2)
	require.Len(t, br.Items, 5)

	byLabel := map[string]ReserveItem{}
	for _, it := range br.Items {
		byLabel[it.Label] = it
	}
	assert.Equal(t, "20", byLabel["Base reserve"].Amount.String())
	assert.Equal(t, 2, byLabel["Trustlines"].Entries)
	assert.Equal(t, "20", byLabel["Offers"].Amount.String())
	assert.Equal(t, 1, byLabel["Others"].Entries)
	assert.Equal(t, "1", byLabel["Extra"].Amount.String())
	assert.Equal(t, "71", br.Total.String())
}

func TestFindBalance(t *testing.T) {
	usd := CreditAsset("USD", "GISSUER")
	snap := snapshotWith("10", 1, Balance{Asset: usd, Amount: "3.5"})

	amount, ok := FindBalance(snap.Balances, usd)
	assert.True(t, ok)
	assert.Equal(t, "3.5", amount)

	amount, ok = FindBalance(snap.Balances, NativeAsset())
	assert.True(t, ok)
	assert.Equal(t, "10", amount)

	_, ok = FindBalance(snap.Balances, CreditAsset("USD", "GOTHER"))
	assert.False(t, ok)
}

func TestSortBalances(t *testing.T) {
	known := Balance{Asset: CreditAsset("USD", "GKNOWN"), Amount: "1"}
	unknown := Balance{Asset: CreditAsset("ZZZ", "GNOBODY"), Amount: "2"}
	native := Balance{Asset: NativeAsset(), Amount: "3"}
	dir := stubDirectory{"USD:GKNOWN": "anchor.example"}

	orders := [][]Balance{
		{native, known, unknown},
		{unknown, known, native},
		{known, unknown, native},
	}
	for _, in := range orders {
		assert.Equal(t, []Balance{native, known, unknown}, SortBalances(in, false, dir))
	}

	assert.Equal(t, []Balance{known, unknown}, SortBalances([]Balance{unknown, native, known}, true, dir))
}

func TestSortBalancesKeepsGroupOrder(t *testing.T) {
	u1 := Balance{Asset: CreditAsset("AAA", "G1"), Amount: "1"}
	u2 := Balance{Asset: CreditAsset("BBB", "G2"), Amount: "1"}
	k1 := Balance{Asset: CreditAsset("CCC", "G3"), Amount: "1"}
	k2 := Balance{Asset: CreditAsset("DDD", "G4"), Amount: "1"}
	dir := stubDirectory{"CCC:G3": "a.example", "DDD:G4": "b.example"}

	got := SortBalances([]Balance{u2, k2, u1, k1}, true, dir)
	assert.Equal(t, []Balance{k2, k1, u2, u1}, got)
}

func TestBalancesEqual(t *testing.T) {
	a := []Balance{{Asset: NativeAsset(), Amount: "1"}}
	b := []Balance{{Asset: NativeAsset(), Amount: "1"}}
	assert.True(t, BalancesEqual(a, b))
	b[0].Amount = "2"
	assert.False(t, BalancesEqual(a, b))
	assert.False(t, BalancesEqual(a, nil))
}
