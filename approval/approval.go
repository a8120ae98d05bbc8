package approval

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/utils"
)

type Scheme string

const (
	SchemeEd25519 Scheme = "ed25519"
	SchemeECDSA   Scheme = "ecdsa-secp256k1"
)

var (
	ErrUnknownScheme    = fault.Validation("unknown_scheme", "")
	ErrInvalidPublicKey = fault.Validation("invalid_public_key", "")
	ErrInvalidSignature = fault.Validation("invalid_signature", "")
)

// SignatureLength is the native signature size of the scheme.
func (s Scheme) SignatureLength() int {
	switch s {
	case SchemeEd25519:
		return ed25519.SignatureSize
	case SchemeECDSA:
		return crypto.SignatureLength
	default:
		return 0
	}
}

func (s Scheme) Valid() bool {
	return s.SignatureLength() > 0
}

// Signer signs intent identifiers. The signature never covers amounts or
// addresses: its existence for a given intent id is the approval.
type Signer interface {
	Scheme() Scheme
	// PublicKey is the value stored on-chain as the approver key: the raw
	// 32-byte key for ed25519, the 20-byte signer address for ecdsa.
	PublicKey() []byte
	Sign(intentID common.Hash) ([]byte, error)
}

// ValidatePublicKey checks that publicKey has the shape the scheme stores on-chain.
func ValidatePublicKey(scheme Scheme, publicKey []byte) error {
	switch scheme {
	case SchemeEd25519:
		if len(publicKey) != ed25519.PublicKeySize {
			return ErrInvalidPublicKey.Wrapf("expected %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
		}
	case SchemeECDSA:
		if len(publicKey) != common.AddressLength {
			return ErrInvalidPublicKey.Wrapf("expected %d byte address, got %d", common.AddressLength, len(publicKey))
		}
	default:
		return ErrUnknownScheme.Wrapf("%q", scheme)
	}
	return nil
}

// Verify checks sig against publicKey over exactly the 32 intent id bytes.
func Verify(scheme Scheme, publicKey []byte, intentID common.Hash, sig []byte) error {
	if err := ValidatePublicKey(scheme, publicKey); err != nil {
		return err
	}
	if len(sig) != scheme.SignatureLength() {
		return ErrInvalidSignature.Wrapf("expected %d bytes, got %d", scheme.SignatureLength(), len(sig))
	}
	switch scheme {
	case SchemeEd25519:
		if !ed25519.Verify(publicKey, intentID[:], sig) {
			return ErrInvalidSignature.Wrapf("ed25519 signature does not match intent %s", intentID)
		}
		return nil
	default:
		signer, err := utils.RestoreSignerAddress(intentID[:], sig)
		if err != nil {
			return ErrInvalidSignature.Wrapf("%s", err)
		}
		if signer != common.BytesToAddress(publicKey) {
			return ErrInvalidSignature.Wrapf("recovered signer %s for intent %s", signer, intentID)
		}
		return nil
	}
}

type Ed25519Signer struct {
	key ed25519.PrivateKey
}

func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *Ed25519Signer) Scheme() Scheme { return SchemeEd25519 }

func (s *Ed25519Signer) PublicKey() []byte {
	return append([]byte(nil), s.key.Public().(ed25519.PublicKey)...)
}

func (s *Ed25519Signer) Sign(intentID common.Hash) ([]byte, error) {
	return ed25519.Sign(s.key, intentID[:]), nil
}

type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key}
}

func (s *ECDSASigner) Scheme() Scheme { return SchemeECDSA }

func (s *ECDSASigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *ECDSASigner) PublicKey() []byte {
	return s.Address().Bytes()
}

func (s *ECDSASigner) Sign(intentID common.Hash) ([]byte, error) {
	return utils.SignText(s.key, intentID[:])
}

// NewSigner builds a signer from a hex encoded private key (an ed25519 seed or
// a secp256k1 scalar).
func NewSigner(scheme Scheme, keyHex string) (Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("can't decode signer key: %w", err)
	}
	switch scheme {
	case SchemeEd25519:
		return NewEd25519Signer(raw)
	case SchemeECDSA:
		key, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("can't parse ecdsa key: %w", err)
		}
		return NewECDSASigner(key), nil
	default:
		return nil, ErrUnknownScheme.Wrapf("%q", scheme)
	}
}

// FormatPublicKey renders an approver key the way its chain family writes
// it: base58 for Ed25519 keys, checksummed hex address for ECDSA keys, which
// are stored as 20-byte signer addresses.
func FormatPublicKey(scheme Scheme, key []byte) string {
	switch scheme {
	case SchemeEd25519:
		return base58.Encode(key)
	case SchemeECDSA:
		return common.BytesToAddress(key).Hex()
	default:
		return "0x" + common.Bytes2Hex(key)
	}
}
