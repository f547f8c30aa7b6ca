package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// envelopePrefix domain-separates envelope digests from any other payload
// signed with the same key.
var envelopePrefix = []byte("\x19ledger envelope:\n")

// Identity is an account identity derived from a credential. Identities
// built from a public key are view-only and cannot sign.
type Identity struct {
	accountID string
	key       *ecdsa.PrivateKey
}

// FromSecret derives a signing identity from a hex-encoded secp256k1 key.
func FromSecret(secretHex string) (*Identity, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(secretHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/identity: invalid secret: %w", domain.ErrSigning)
	}
	return &Identity{
		accountID: ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		key:       pk,
	}, nil
}

// FromPublicKey builds a view-only identity for a hex account address.
func FromPublicKey(address string) (*Identity, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("crypto/identity: invalid public key %q: %w", address, domain.ErrSigning)
	}
	return &Identity{accountID: common.HexToAddress(address).Hex()}, nil
}

// FromCredential picks FromSecret or FromPublicKey depending on which part
// of c is set. A secret wins when both are present.
func FromCredential(c domain.Credential) (*Identity, error) {
	switch {
	case c.Secret != "":
		return FromSecret(c.Secret)
	case c.PublicKey != "":
		return FromPublicKey(c.PublicKey)
	default:
		return nil, fmt.Errorf("crypto/identity: empty credential: %w", domain.ErrSigning)
	}
}

// AccountID returns the checksummed account address.
func (i *Identity) AccountID() string {
	return i.accountID
}

// CanSign reports whether the identity holds a secret.
func (i *Identity) CanSign() bool {
	return i.key != nil
}

// EnvelopeHash returns the digest that is signed for env.
func EnvelopeHash(env domain.Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("crypto/identity: encode envelope: %w", err)
	}
	return ethcrypto.Keccak256(envelopePrefix, payload), nil
}

// Sign signs env and returns it with its hash and a 65-byte r||s||v
// signature. View-only identities fail with domain.ErrSigning.
func (i *Identity) Sign(env domain.Envelope) (domain.SignedEnvelope, error) {
	if i.key == nil {
		return domain.SignedEnvelope{}, fmt.Errorf("crypto/identity: %s is view-only: %w", i.accountID, domain.ErrSigning)
	}
	if env.Source != i.accountID {
		return domain.SignedEnvelope{}, fmt.Errorf("crypto/identity: envelope source %s does not match %s: %w",
			env.Source, i.accountID, domain.ErrSigning)
	}

	digest, err := EnvelopeHash(env)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	sig, err := ethcrypto.Sign(digest, i.key)
	if err != nil {
		return domain.SignedEnvelope{}, fmt.Errorf("crypto/identity: sign: %v: %w", err, domain.ErrSigning)
	}

	return domain.SignedEnvelope{
		Envelope:  env,
		Hash:      hex.EncodeToString(digest),
		Signature: "0x" + hex.EncodeToString(sig),
		Signer:    i.accountID,
	}, nil
}

func ethSecretBytes(id *Identity) []byte {
	return ethcrypto.FromECDSA(id.key)
}
