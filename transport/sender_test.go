package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/transport"
)

var (
	admin    = gmp.HexToAddress("0xad")
	endpoint = gmp.HexToAddress("0xe1")
	remote   = gmp.HexToAddress("0xe2")
	other    = gmp.HexToAddress("0xe3")
)

func newSender(t *testing.T) (*chain.Ledger, *transport.Sender) {
	t.Helper()
	l := chain.NewLedger(1, nil)
	s := transport.NewSender(endpoint, admin)
	_, err := l.Execute(admin, func(tx *chain.Tx) error {
		return s.SetRemoteEndpoint(tx, 2, remote)
	})
	require.NoError(t, err)
	return l, s
}

func readyMessages(l *chain.Ledger) []*transport.MessageReady {
	var res []*transport.MessageReady
	for _, e := range l.Events(0, 0) {
		if msg, ok := e.Data.(*transport.MessageReady); ok {
			res = append(res, msg)
		}
	}
	return res
}

func TestSender_SequencePerDestination(t *testing.T) {
	t.Parallel()

	l, s := newSender(t)
	_, err := l.Execute(admin, func(tx *chain.Tx) error {
		return s.SetRemoteEndpoint(tx, 3, other)
	})
	require.NoError(t, err)

	for _, dst := range []uint32{2, 2, 3, 2} {
		_, err = l.Execute(endpoint, func(tx *chain.Tx) error {
			_, err := s.Send(tx, dst, gmp.Address{}, []byte{0x01})
			return err
		})
		require.NoError(t, err)
	}

	msgs := readyMessages(l)
	require.Len(t, msgs, 4)
	require.Equal(t, []uint64{1, 2, 1, 3}, []uint64{msgs[0].Sequence, msgs[1].Sequence, msgs[2].Sequence, msgs[3].Sequence})
	require.Equal(t, &transport.MessageReady{
		SrcChainID: 1,
		SrcAddr:    endpoint,
		DstChainID: 3,
		DstAddr:    other,
		Payload:    []byte{0x01},
		Sequence:   1,
	}, msgs[2])
}

func TestSender_Errors(t *testing.T) {
	t.Parallel()

	l, s := newSender(t)

	_, err := l.Execute(endpoint, func(tx *chain.Tx) error {
		_, err := s.Send(tx, 9, gmp.Address{}, []byte{0x01})
		return err
	})
	require.ErrorIs(t, err, transport.ErrUnknownDestination)

	_, err = l.Execute(endpoint, func(tx *chain.Tx) error {
		_, err := s.Send(tx, 2, other, []byte{0x01})
		return err
	})
	require.ErrorIs(t, err, transport.ErrDestinationMismatch)

	_, err = l.Execute(endpoint, func(tx *chain.Tx) error {
		_, err := s.Send(tx, 2, remote, nil)
		return err
	})
	require.ErrorIs(t, err, transport.ErrEmptyMessagePayload)

	_, err = l.Execute(endpoint, func(tx *chain.Tx) error {
		return s.SetRemoteEndpoint(tx, 5, other)
	})
	require.ErrorIs(t, err, fault.ErrAuthentication)
}

func TestSender_AbortedSendKeepsSequence(t *testing.T) {
	t.Parallel()

	l, s := newSender(t)
	_, err := l.Execute(endpoint, func(tx *chain.Tx) error {
		if _, err := s.Send(tx, 2, remote, []byte{0x01}); err != nil {
			return err
		}
		return fault.Validation("later_failure", "")
	})
	require.Error(t, err)

	l.View(func() {
		require.Equal(t, uint64(1), s.NextSequence(2))
	})
	require.Empty(t, readyMessages(l))
}
