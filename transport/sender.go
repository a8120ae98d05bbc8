package transport

import (
	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
)

const EventMessageReady = "MessageReady"

var (
	ErrNotAdmin             = fault.Authentication("not_admin", "")
	ErrUnknownDestination   = fault.Validation("unknown_destination", "")
	ErrDestinationMismatch  = fault.Validation("destination_mismatch", "")
	ErrEmptyMessagePayload  = fault.Validation("empty_payload", "")
	ErrInvalidRemoteAddress = fault.Validation("invalid_remote_address", "")
)

// MessageReady is the durable outbox entry a relay picks up and delivers.
type MessageReady struct {
	SrcChainID uint32      `json:"src_chain_id"`
	SrcAddr    gmp.Address `json:"src_addr"`
	DstChainID uint32      `json:"dst_chain_id"`
	DstAddr    gmp.Address `json:"dst_addr"`
	Payload    []byte      `json:"payload"`
	Sequence   uint64      `json:"sequence"`
}

// Sender is the outbound half of a chain's GMP endpoint.
type Sender struct {
	address   gmp.Address
	admin     gmp.Address
	remotes   *chain.Store[uint32, gmp.Address]
	sequences *chain.Store[uint32, uint64]
}

func NewSender(endpoint, admin gmp.Address) *Sender {
	return &Sender{
		address:   endpoint,
		admin:     admin,
		remotes:   chain.NewStore[uint32, gmp.Address](),
		sequences: chain.NewStore[uint32, uint64](),
	}
}

func (s *Sender) Address() gmp.Address {
	return s.address
}

func (s *Sender) SetRemoteEndpoint(tx *chain.Tx, dstChainID uint32, addr gmp.Address) error {
	if tx.Caller() != s.admin {
		return ErrNotAdmin.Wrapf("caller %s", tx.Caller())
	}
	if addr.IsZero() {
		return ErrInvalidRemoteAddress
	}
	s.remotes.Put(tx, dstChainID, addr)
	tx.Emit("RemoteEndpointSet", &RemoteEndpointSet{ChainID: dstChainID, Addr: addr})
	return nil
}

func (s *Sender) HasRoute(dstChainID uint32) bool {
	return s.remotes.Has(dstChainID)
}

// Send assigns the next sequence number for dstChainID and records the message for
// external pickup. A zero dstAddr means "the registered endpoint".
func (s *Sender) Send(tx *chain.Tx, dstChainID uint32, dstAddr gmp.Address, payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyMessagePayload
	}
	remote, ok := s.remotes.Get(dstChainID)
	if !ok {
		return 0, ErrUnknownDestination.Wrapf("chain %d", dstChainID)
	}
	if !dstAddr.IsZero() && dstAddr != remote {
		return 0, ErrDestinationMismatch.Wrapf("chain %d endpoint is %s, got %s", dstChainID, remote, dstAddr)
	}
	seq, _ := s.sequences.Get(dstChainID)
	seq++
	s.sequences.Put(tx, dstChainID, seq)
	tx.Emit(EventMessageReady, &MessageReady{
		SrcChainID: tx.ChainID(),
		SrcAddr:    s.address,
		DstChainID: dstChainID,
		DstAddr:    remote,
		Payload:    append([]byte(nil), payload...),
		Sequence:   seq,
	})
	return seq, nil
}

// SendMessage encodes msg and sends it to the registered endpoint of dstChainID.
func (s *Sender) SendMessage(tx *chain.Tx, dstChainID uint32, msg gmp.Message) (uint64, error) {
	return s.Send(tx, dstChainID, gmp.Address{}, msg.Encode())
}

// NextSequence is a read helper; call it inside Ledger.View or Execute.
func (s *Sender) NextSequence(dstChainID uint32) uint64 {
	seq, _ := s.sequences.Get(dstChainID)
	return seq + 1
}

type RemoteEndpointSet struct {
	ChainID uint32      `json:"chain_id"`
	Addr    gmp.Address `json:"addr"`
}
