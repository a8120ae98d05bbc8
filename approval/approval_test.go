package approval_test

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/fault"
)

func signers(t *testing.T) []approval.Signer {
	t.Helper()
	ed, err := approval.NewEd25519Signer(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return []approval.Signer{ed, approval.NewECDSASigner(key)}
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	intentA := common.HexToHash("0xaa")
	intentB := common.HexToHash("0xbb")
	for _, s := range signers(t) {
		s := s
		t.Run(string(s.Scheme()), func(t *testing.T) {
			t.Parallel()

			sig, err := s.Sign(intentA)
			require.NoError(t, err)
			require.Len(t, sig, s.Scheme().SignatureLength())
			require.NoError(t, approval.Verify(s.Scheme(), s.PublicKey(), intentA, sig))

			err = approval.Verify(s.Scheme(), s.PublicKey(), intentB, sig)
			require.ErrorIs(t, err, approval.ErrInvalidSignature)
			require.ErrorIs(t, err, fault.ErrValidation)

			again, err := s.Sign(intentA)
			require.NoError(t, err)
			require.NoError(t, approval.Verify(s.Scheme(), s.PublicKey(), intentA, again))

			require.ErrorIs(t, approval.Verify(s.Scheme(), s.PublicKey(), intentA, sig[:10]), approval.ErrInvalidSignature)
		})
	}
}

func TestVerifyWrongKey(t *testing.T) {
	t.Parallel()

	all := signers(t)
	other := signers(t)
	intent := common.HexToHash("0x01")
	for i, s := range all {
		sig, err := s.Sign(intent)
		require.NoError(t, err)
		err = approval.Verify(s.Scheme(), other[i].PublicKey(), intent, sig)
		if s.Scheme() == approval.SchemeEd25519 {
			// both ed25519 signers share a seed
			require.NoError(t, err)
			continue
		}
		require.ErrorIs(t, err, approval.ErrInvalidSignature)
	}

	require.ErrorIs(t, approval.Verify("rsa", nil, intent, nil), approval.ErrUnknownScheme)
	require.ErrorIs(t, approval.Verify(approval.SchemeEd25519, []byte{1}, intent, make([]byte, 64)), approval.ErrInvalidPublicKey)
}

func TestNewSigner(t *testing.T) {
	t.Parallel()

	s, err := approval.NewSigner(approval.SchemeEd25519, "0x"+common.Bytes2Hex(bytes.Repeat([]byte{0x22}, 32)))
	require.NoError(t, err)
	require.Len(t, s.PublicKey(), 32)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err = approval.NewSigner(approval.SchemeECDSA, common.Bytes2Hex(crypto.FromECDSA(key)))
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Bytes(), s.PublicKey())

	_, err = approval.NewSigner(approval.SchemeEd25519, "zz")
	require.Error(t, err)
	_, err = approval.NewSigner("rsa", "00")
	require.Error(t, err)
}

func TestFormatPublicKey(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x01}, 32)
	require.Equal(t, "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi", approval.FormatPublicKey(approval.SchemeEd25519, key))

	addr := common.HexToAddress("0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6")
	require.Equal(t, addr.Hex(), approval.FormatPublicKey(approval.SchemeECDSA, addr.Bytes()))
}
