package domain

import (
	"strings"
	"time"
)

// EffectCategory is the ledger-assigned kind of an effect.
type EffectCategory string

const (
	EffectAccountCreated              EffectCategory = "account_created"
	EffectAccountRemoved              EffectCategory = "account_removed"
	EffectAccountCredited             EffectCategory = "account_credited"
	EffectAccountDebited              EffectCategory = "account_debited"
	EffectAccountThresholdsUpdated    EffectCategory = "account_thresholds_updated"
	EffectAccountHomeDomainUpdated    EffectCategory = "account_home_domain_updated"
	EffectAccountFlagsUpdated         EffectCategory = "account_flags_updated"
	EffectAccountInflationDestUpdated EffectCategory = "account_inflation_destination_updated"
	EffectSignerCreated               EffectCategory = "signer_created"
	EffectSignerRemoved               EffectCategory = "signer_removed"
	EffectSignerUpdated               EffectCategory = "signer_updated"
	EffectTrustlineCreated            EffectCategory = "trustline_created"
	EffectTrustlineRemoved            EffectCategory = "trustline_removed"
	EffectTrustlineUpdated            EffectCategory = "trustline_updated"
	EffectTrustlineAuthorized         EffectCategory = "trustline_authorized"
	EffectTrustlineDeauthorized       EffectCategory = "trustline_deauthorized"
	EffectOfferCreated                EffectCategory = "offer_created"
	EffectOfferRemoved                EffectCategory = "offer_removed"
	EffectOfferUpdated                EffectCategory = "offer_updated"
	EffectTrade                       EffectCategory = "trade"
	EffectDataCreated                 EffectCategory = "data_created"
	EffectDataRemoved                 EffectCategory = "data_removed"
	EffectDataUpdated                 EffectCategory = "data_updated"
	EffectSequenceBumped              EffectCategory = "sequence_bumped"
	EffectUnknown                     EffectCategory = "unknown"
)

var knownEffects = map[EffectCategory]bool{
	EffectAccountCreated: true, EffectAccountRemoved: true, EffectAccountCredited: true,
	EffectAccountDebited: true, EffectAccountThresholdsUpdated: true, EffectAccountHomeDomainUpdated: true,
	EffectAccountFlagsUpdated: true, EffectAccountInflationDestUpdated: true,
	EffectSignerCreated: true, EffectSignerRemoved: true, EffectSignerUpdated: true,
	EffectTrustlineCreated: true, EffectTrustlineRemoved: true, EffectTrustlineUpdated: true,
	EffectTrustlineAuthorized: true, EffectTrustlineDeauthorized: true,
	EffectOfferCreated: true, EffectOfferRemoved: true, EffectOfferUpdated: true,
	EffectTrade: true, EffectDataCreated: true, EffectDataRemoved: true, EffectDataUpdated: true,
	EffectSequenceBumped: true,
}

// ParseEffectCategory maps a raw type string to a category. Kinds this
// build does not know about map to EffectUnknown.
func ParseEffectCategory(s string) EffectCategory {
	c := EffectCategory(s)
	if knownEffects[c] {
		return c
	}
	return EffectUnknown
}

// EffectGroup is the coarse family an effect category belongs to.
type EffectGroup string

const (
	EffectGroupAccount   EffectGroup = "account"
	EffectGroupSigner    EffectGroup = "signer"
	EffectGroupTrustline EffectGroup = "trustline"
	EffectGroupOffer     EffectGroup = "offer"
	EffectGroupTrade     EffectGroup = "trade"
	EffectGroupData      EffectGroup = "data"
	EffectGroupSequence  EffectGroup = "sequence"
	EffectGroupOther     EffectGroup = "other"
)

// Group returns the family of c.
func (c EffectCategory) Group() EffectGroup {
	switch c {
	case EffectTrade:
		return EffectGroupTrade
	case EffectSequenceBumped:
		return EffectGroupSequence
	}
	prefix, _, _ := strings.Cut(string(c), "_")
	switch prefix {
	case "account":
		return EffectGroupAccount
	case "signer":
		return EffectGroupSigner
	case "trustline":
		return EffectGroupTrustline
	case "offer":
		return EffectGroupOffer
	case "data":
		return EffectGroupData
	default:
		return EffectGroupOther
	}
}

// OperationRecord is the ledger operation that produced one or more effects.
type OperationRecord struct {
	ID              string
	Type            string
	TransactionHash string
	SourceAccount   string
	CreatedAt       time.Time
	Fields          map[string]any
}

// TransactionRecord is the transaction an operation belongs to.
type TransactionRecord struct {
	Hash          string
	Ledger        int64
	SourceAccount string
	MemoType      string
	Memo          string
	CreatedAt     time.Time
	Fields        map[string]any
}

// EffectRecord is one history entry. Fields holds the raw effect as
// delivered; Details holds the folded transaction, operation and effect
// fields once the record has been enriched.
type EffectRecord struct {
	ID              string         `json:"id"`
	PagingToken     string         `json:"paging_token"`
	Account         string         `json:"account"`
	Category        EffectCategory `json:"category"`
	CreatedAt       time.Time      `json:"created_at"`
	Fields          map[string]any `json:"-"`
	Enriched        bool           `json:"enriched"`
	OperationType   string         `json:"type_of,omitempty"`
	TransactionHash string         `json:"transaction_hash,omitempty"`
	Details         map[string]any `json:"details"`
}

// OperationID returns the id of the operation that owns the effect. Effect
// ids are "<operation id>-<index>".
func (e EffectRecord) OperationID() string {
	id, _, _ := strings.Cut(e.ID, "-")
	return id
}

// FoldEffect merges transaction, operation and effect fields into a single
// record. Later sources win on key collisions, so effect fields take
// precedence over operation fields, which take precedence over transaction
// fields.
func FoldEffect(effect EffectRecord, op OperationRecord, tx TransactionRecord) EffectRecord {
	details := make(map[string]any, len(tx.Fields)+len(op.Fields)+len(effect.Fields))
	for k, v := range tx.Fields {
		details[k] = v
	}
	for k, v := range op.Fields {
		details[k] = v
	}
	for k, v := range effect.Fields {
		details[k] = v
	}

	out := effect
	out.Details = details
	out.Enriched = true
	out.OperationType = op.Type
	out.TransactionHash = tx.Hash
	return out
}
