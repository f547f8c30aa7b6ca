package domain

import (
	"fmt"
	"strings"
)

// AssetType distinguishes the native currency from issued credit assets.
type AssetType string

const (
	AssetTypeNative        AssetType = "native"
	AssetTypeCreditAlnum4  AssetType = "credit_alphanum4"
	AssetTypeCreditAlnum12 AssetType = "credit_alphanum12"
)

// NativeCode is the display code used for the native currency.
const NativeCode = "XLM"

// Asset identifies a ledger asset. Native assets carry no issuer.
type Asset struct {
	Type   AssetType `json:"asset_type"`
	Code   string    `json:"asset_code,omitempty"`
	Issuer string    `json:"asset_issuer,omitempty"`
}

// NativeAsset returns the native currency descriptor.
func NativeAsset() Asset {
	return Asset{Type: AssetTypeNative}
}

// CreditAsset builds an issued asset, choosing the alphanum width from the
// code length.
func CreditAsset(code, issuer string) Asset {
	t := AssetTypeCreditAlnum4
	if len(code) > 4 {
		t = AssetTypeCreditAlnum12
	}
	return Asset{Type: t, Code: code, Issuer: issuer}
}

// IsNative reports whether a is the native currency.
func (a Asset) IsNative() bool {
	return a.Type == AssetTypeNative
}

// Validate checks that a is a complete asset descriptor. Native assets carry
// no code or issuer; credit assets need both.
func (a Asset) Validate() error {
	switch a.Type {
	case AssetTypeNative:
		if a.Code != "" || a.Issuer != "" {
			return fmt.Errorf("%w: native asset has code or issuer", ErrInvalidArgument)
		}
		return nil
	case AssetTypeCreditAlnum4, AssetTypeCreditAlnum12:
		if a.Code == "" || a.Issuer == "" {
			return fmt.Errorf("%w: asset %q needs code and issuer", ErrInvalidArgument, a.String())
		}
		if len(a.Code) > 12 {
			return fmt.Errorf("%w: asset code %q longer than 12 characters", ErrInvalidArgument, a.Code)
		}
		return nil
	case "":
		return fmt.Errorf("%w: asset type missing", ErrInvalidArgument)
	default:
		return fmt.Errorf("%w: asset type %q", ErrInvalidArgument, a.Type)
	}
}

// Equal compares two assets. Native assets match on type alone; credit
// assets match on code and issuer.
func (a Asset) Equal(b Asset) bool {
	if a.IsNative() || b.IsNative() {
		return a.IsNative() && b.IsNative()
	}
	return a.Code == b.Code && a.Issuer == b.Issuer
}

// DisplayCode returns the asset code, or NativeCode for the native asset.
func (a Asset) DisplayCode() string {
	if a.IsNative() {
		return NativeCode
	}
	return a.Code
}

// String renders the asset as "native" or "CODE:ISSUER".
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// ParseAsset is the inverse of String.
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "native") || strings.EqualFold(s, NativeCode) {
		return NativeAsset(), nil
	}
	code, issuer, ok := strings.Cut(s, ":")
	if !ok || code == "" || issuer == "" {
		return Asset{}, fmt.Errorf("%w: asset %q must be native or CODE:ISSUER", ErrInvalidArgument, s)
	}
	if len(code) > 12 {
		return Asset{}, fmt.Errorf("%w: asset code %q longer than 12 characters", ErrInvalidArgument, code)
	}
	return CreditAsset(code, issuer), nil
}

// AssetPair names a trading pair. Base is the asset being priced, Counter
// the asset prices are quoted in.
type AssetPair struct {
	Base    Asset `json:"base"`
	Counter Asset `json:"counter"`
}

// Equal reports whether both legs of the pair match.
func (p AssetPair) Equal(o AssetPair) bool {
	return p.Base.Equal(o.Base) && p.Counter.Equal(o.Counter)
}

// String renders the pair as "BASE/COUNTER".
func (p AssetPair) String() string {
	return p.Base.String() + "/" + p.Counter.String()
}

// Balance is a single account balance line. Amounts are kept as the decimal
// strings the ledger reports.
type Balance struct {
	Asset  Asset  `json:"asset"`
	Amount string `json:"balance"`
	Limit  string `json:"limit,omitempty"`
}

// UnknownDomain is the directory domain value that marks an unrecognized asset.
const UnknownDomain = "unknown"

// AssetInfo is a directory classification for an asset.
type AssetInfo struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
	Domain string `json:"domain"`
	Name   string `json:"name,omitempty"`
}

// Known reports whether the directory recognized the asset.
func (i AssetInfo) Known() bool {
	return i.Domain != "" && i.Domain != UnknownDomain
}

// AssetDirectory resolves an asset to its classification. Unrecognized
// assets resolve to an AssetInfo with Domain set to UnknownDomain.
type AssetDirectory interface {
	Resolve(code, issuer string) AssetInfo
}
