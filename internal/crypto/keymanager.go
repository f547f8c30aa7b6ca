// Package crypto derives account identities from credentials, signs
// transaction envelopes, and stores secrets encrypted at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format of an encrypted secret.
type keyFile struct {
	Version    int    `json:"version"`
	Account    string `json:"account"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// CredentialSource lists the places a wallet credential may come from.
type CredentialSource struct {
	Secret           string
	PublicKey        string
	EncryptedKeyPath string
	Password         string
}

// EncryptSecret seals a hex secret with a password using PBKDF2-SHA256 and
// AES-256-GCM. The account address is stored alongside in clear so the file
// can be identified without the password.
func EncryptSecret(secretHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keymanager: password must not be empty")
	}
	id, err := FromSecret(secretHex)
	if err != nil {
		return nil, err
	}
	raw := ethSecretBytes(id)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keymanager: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keymanager: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Account:    id.AccountID(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, []byte(id.AccountID()))),
	}, "", "  ")
}

// DecryptSecret opens a blob produced by EncryptSecret and returns the hex
// secret without a 0x prefix.
func DecryptSecret(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto/keymanager: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(blob, &kf); err != nil {
		return "", fmt.Errorf("crypto/keymanager: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto/keymanager: unsupported key file version %d", kf.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(kf.Account))
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decrypt (wrong password?): %w", domain.ErrSigning)
	}
	return hex.EncodeToString(plain), nil
}

// ResolveCredential turns a configured source into a login credential.
// A raw secret wins, then the encrypted key file, then a bare public key.
func ResolveCredential(src CredentialSource) (domain.Credential, error) {
	if s := strings.TrimSpace(src.Secret); s != "" {
		return domain.Credential{Secret: s}, nil
	}
	if src.EncryptedKeyPath != "" {
		blob, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("crypto/keymanager: read key file: %w", err)
		}
		secret, err := DecryptSecret(blob, src.Password)
		if err != nil {
			return domain.Credential{}, err
		}
		return domain.Credential{Secret: secret}, nil
	}
	if p := strings.TrimSpace(src.PublicKey); p != "" {
		return domain.Credential{PublicKey: p}, nil
	}
	return domain.Credential{}, errors.New("crypto/keymanager: no credential configured")
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keymanager: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keymanager: gcm: %w", err)
	}
	return gcm, nil
}
