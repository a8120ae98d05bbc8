package gmp_test

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
)

var (
	intentID  = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	requester = gmp.HexToAddress("0x01")
	solver    = gmp.HexToAddress("0x02")
	token     = gmp.HexToAddress("0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6")
)

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, amount := range []uint64{0, 1, 1_000_000, math.MaxUint64} {
		for _, msg := range []gmp.Message{
			&gmp.IntentRequirements{
				IntentID:       intentID,
				RequesterAddr:  requester,
				AmountRequired: amount,
				TokenAddr:      token,
				SolverAddr:     solver,
				Expiry:         amount,
			},
			&gmp.EscrowConfirmation{
				IntentID:       intentID,
				EscrowID:       common.HexToHash("0xbb"),
				AmountEscrowed: amount,
				TokenAddr:      token,
				CreatorAddr:    requester,
			},
			&gmp.FulfillmentProof{
				IntentID:        intentID,
				SolverAddr:      solver,
				AmountFulfilled: amount,
				Timestamp:       math.MaxUint64 - amount,
			},
		} {
			encoded := msg.Encode()
			require.Equal(t, byte(msg.Type()), encoded[0])

			peeked, err := gmp.PeekType(encoded)
			require.NoError(t, err)
			require.Equal(t, msg.Type(), peeked)

			decoded, err := gmp.Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, msg, decoded)
		}
	}
}

func TestCodec_Layout(t *testing.T) {
	t.Parallel()

	encoded := (&gmp.FulfillmentProof{
		IntentID:        intentID,
		SolverAddr:      solver,
		AmountFulfilled: 0x0102030405060708,
		Timestamp:       9,
	}).Encode()

	require.Len(t, encoded, gmp.FulfillmentProofSize)
	require.Equal(t, intentID.Bytes(), encoded[1:33])
	require.Equal(t, solver.Bytes(), encoded[33:65])
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, encoded[65:73])
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 9}, encoded[73:81])

	require.Len(t, (&gmp.IntentRequirements{}).Encode(), 145)
	require.Len(t, (&gmp.EscrowConfirmation{}).Encode(), 137)
}

func TestCodec_DecodeErrors(t *testing.T) {
	t.Parallel()

	valid := (&gmp.IntentRequirements{IntentID: intentID, AmountRequired: 5}).Encode()

	for _, test := range []struct {
		Name     string
		Payload  []byte
		Expected error
	}{
		{"empty payload", nil, gmp.ErrEmptyPayload},
		{"unknown tag", append([]byte{0x04}, valid[1:]...), gmp.ErrUnknownType},
		{"zero tag", append([]byte{0x00}, valid[1:]...), gmp.ErrUnknownType},
		{"truncated", valid[:len(valid)-1], gmp.ErrInvalidLength},
		{"tag only", valid[:1], gmp.ErrInvalidLength},
		{"trailing bytes", append(append([]byte{}, valid...), 0), gmp.ErrInvalidLength},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()
			msg, err := gmp.Decode(test.Payload)
			require.Nil(t, msg)
			require.ErrorIs(t, err, test.Expected)
			require.ErrorIs(t, err, fault.ErrDecode)
		})
	}
}

func TestCodec_DecodeWrongVariant(t *testing.T) {
	t.Parallel()

	encoded := (&gmp.FulfillmentProof{IntentID: intentID}).Encode()
	msg, err := gmp.DecodeEscrowConfirmation(encoded)
	require.Nil(t, msg)
	require.ErrorIs(t, err, gmp.ErrUnexpectedType)
}

func TestAddress(t *testing.T) {
	t.Parallel()

	evm := common.HexToAddress("0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6")
	addr := gmp.EVMAddress(evm)
	require.Equal(t, evm, addr.EVM())
	require.Equal(t, token, addr)
	require.Equal(t, make([]byte, 12), addr.Bytes()[:12])

	parsed, err := gmp.ParseHexAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	_, err = gmp.ParseHexAddress("0xzz")
	require.Error(t, err)
	_, err = gmp.ParseHexAddress("0x" + common.Bytes2Hex(make([]byte, 33)))
	require.Error(t, err)
}
