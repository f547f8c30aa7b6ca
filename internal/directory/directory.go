// Package directory classifies assets by code and issuer.
package directory

import (
	"strings"
	"sync"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// Entry is one configured asset classification.
type Entry struct {
	Code   string `toml:"code"`
	Issuer string `toml:"issuer"`
	Domain string `toml:"domain"`
	Name   string `toml:"name"`
}

// Static is an in-memory directory built from configuration. It is safe
// for concurrent use.
type Static struct {
	mu      sync.RWMutex
	entries map[string]domain.AssetInfo
}

// NewStatic builds a directory from entries. Entries without a code or
// domain are skipped.
func NewStatic(entries []Entry) *Static {
	d := &Static{entries: make(map[string]domain.AssetInfo, len(entries))}
	for _, e := range entries {
		d.Add(e)
	}
	return d
}

// Add registers or replaces one entry.
func (d *Static) Add(e Entry) {
	if e.Code == "" || e.Domain == "" {
		return
	}
	d.mu.Lock()
	d.entries[key(e.Code, e.Issuer)] = domain.AssetInfo{
		Code:   e.Code,
		Issuer: e.Issuer,
		Domain: e.Domain,
		Name:   e.Name,
	}
	d.mu.Unlock()
}

// Resolve returns the classification of code/issuer, or an AssetInfo whose
// Domain is domain.UnknownDomain.
func (d *Static) Resolve(code, issuer string) domain.AssetInfo {
	d.mu.RLock()
	info, ok := d.entries[key(code, issuer)]
	d.mu.RUnlock()
	if ok {
		return info
	}
	return domain.AssetInfo{Code: code, Issuer: issuer, Domain: domain.UnknownDomain}
}

// Len returns the number of known assets.
func (d *Static) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Issuer ids are hex addresses, so they compare case-insensitively.
func key(code, issuer string) string {
	return code + ":" + strings.ToLower(issuer)
}
