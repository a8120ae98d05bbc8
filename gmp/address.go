package gmp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid address")

// Address is a chain-agnostic 32-byte account, contract or asset address.
// 20-byte EVM addresses are left-padded with zeros.
type Address [32]byte

func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > len(a) {
		b = b[len(b)-len(a):]
	}
	copy(a[len(a)-len(b):], b)
	return a
}

func HexToAddress(s string) Address {
	return BytesToAddress(common.FromHex(s))
}

func ParseHexAddress(s string) (Address, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Address{}, fmt.Errorf("%w: can't decode hex address %q: %s", ErrInvalidAddress, s, err)
	}
	if len(b) > 32 {
		return Address{}, fmt.Errorf("%w: %q is longer than 32 bytes", ErrInvalidAddress, s)
	}
	return BytesToAddress(b), nil
}

// ParseBase58Address decodes the base58 form Ed25519 chains use for accounts.
func ParseBase58Address(s string) (Address, error) {
	decoded := base58.Decode(s)
	if len(decoded) != len(Address{}) {
		return Address{}, fmt.Errorf("%w: expected 32 bytes after base58 decode of %q, got %d", ErrInvalidAddress, s, len(decoded))
	}
	return BytesToAddress(decoded), nil
}

// ParseAddress accepts 0x-prefixed hex or base58.
func ParseAddress(s string) (Address, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return ParseHexAddress(s)
	}
	return ParseBase58Address(s)
}

func EVMAddress(a common.Address) Address {
	return BytesToAddress(a.Bytes())
}

// EVM returns the trailing 20 bytes as an EVM address.
func (a Address) EVM() common.Address {
	return common.BytesToAddress(a[12:])
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) Base58() string { return base58.Encode(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
