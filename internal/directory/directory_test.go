package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

func TestStaticResolve(t *testing.T) {
	d := NewStatic([]Entry{
		{Code: "USD", Issuer: "0xAbC", Domain: "anchor.example", Name: "US Dollar"},
		{Code: "", Issuer: "0x1", Domain: "skip.example"},
		{Code: "EUR", Issuer: "0x2"},
	})
	assert.Equal(t, 1, d.Len())

	info := d.Resolve("USD", "0xabc")
	assert.True(t, info.Known())
	assert.Equal(t, "anchor.example", info.Domain)
	assert.Equal(t, "US Dollar", info.Name)

	miss := d.Resolve("USD", "0xdef")
	assert.False(t, miss.Known())
	assert.Equal(t, domain.UnknownDomain, miss.Domain)
}

func TestStaticDrivesBalanceGrouping(t *testing.T) {
	d := NewStatic([]Entry{{Code: "USD", Issuer: "0x1", Domain: "anchor.example"}})
	unknown := domain.Balance{Asset: domain.CreditAsset("ZZZ", "0x9"), Amount: "1"}
	known := domain.Balance{Asset: domain.CreditAsset("USD", "0x1"), Amount: "2"}
	native := domain.Balance{Asset: domain.NativeAsset(), Amount: "3"}

	got := domain.SortBalances([]domain.Balance{unknown, known, native}, false, d)
	assert.Equal(t, []domain.Balance{native, known, unknown}, got)
}
