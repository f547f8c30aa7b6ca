package domain

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// BaseFee is the fee charged per operation, in stroops.
const BaseFee = 100

// OperationKind names an operation inside an envelope.
type OperationKind string

const (
	OpManageOffer   OperationKind = "manage_offer"
	OpPayment       OperationKind = "payment"
	OpCreateAccount OperationKind = "create_account"
	OpChangeTrust   OperationKind = "change_trust"
	OpSetOptions    OperationKind = "set_options"
)

// Operation is a single mutation inside an envelope. Only the fields that
// belong to Kind are populated.
type Operation struct {
	Kind            OperationKind `json:"type"`
	Selling         *Asset        `json:"selling,omitempty"`
	Buying          *Asset        `json:"buying,omitempty"`
	Amount          string        `json:"amount,omitempty"`
	Price           string        `json:"price,omitempty"`
	OfferID         int64         `json:"offer_id,omitempty"`
	Destination     string        `json:"destination,omitempty"`
	Asset           *Asset        `json:"asset,omitempty"`
	StartingBalance string        `json:"starting_balance,omitempty"`
	Limit           *string       `json:"limit,omitempty"`
	InflationDest   string        `json:"inflation_dest,omitempty"`
}

// MemoType is the kind of memo attached to a transaction.
type MemoType string

const (
	MemoNone   MemoType = "none"
	MemoText   MemoType = "text"
	MemoID     MemoType = "id"
	MemoHash   MemoType = "hash"
	MemoReturn MemoType = "return"
)

// maxMemoText is the byte limit of a text memo.
const maxMemoText = 28

// Memo is an optional annotation on a transaction.
type Memo struct {
	Type  MemoType `json:"type"`
	Value string   `json:"value,omitempty"`
}

// Validate checks the memo value against its type.
func (m Memo) Validate() error {
	switch m.Type {
	case "", MemoNone:
		return nil
	case MemoText:
		if len(m.Value) > maxMemoText {
			return fmt.Errorf("%w: text memo longer than %d bytes", ErrInvalidArgument, maxMemoText)
		}
	case MemoID:
		if _, err := strconv.ParseUint(m.Value, 10, 64); err != nil {
			return fmt.Errorf("%w: id memo must be an unsigned integer", ErrInvalidArgument)
		}
	case MemoHash, MemoReturn:
		b, err := hex.DecodeString(m.Value)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("%w: %s memo must be 32 bytes of hex", ErrInvalidArgument, m.Type)
		}
	default:
		return fmt.Errorf("%w: unknown memo type %q", ErrInvalidArgument, m.Type)
	}
	return nil
}

// Envelope is an unsigned transaction.
type Envelope struct {
	Source     string      `json:"source_account"`
	Sequence   int64       `json:"sequence,string"`
	Fee        int64       `json:"fee"`
	Memo       *Memo       `json:"memo,omitempty"`
	Operations []Operation `json:"operations"`
}

// SignedEnvelope is an envelope together with the signer's signature over
// its canonical encoding.
type SignedEnvelope struct {
	Envelope  Envelope `json:"envelope"`
	Hash      string   `json:"hash"`
	Signature string   `json:"signature"`
	Signer    string   `json:"signer"`
}

// SubmitResult is the ledger's answer to a submission.
type SubmitResult struct {
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	Successful bool   `json:"successful"`
}
