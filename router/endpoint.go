package router

import (
	"fmt"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
)

const (
	EventMessageDelivered   = "MessageDelivered"
	EventTrustedRemoteSet   = "TrustedRemoteSet"
	EventTrustedRemoteUnset = "TrustedRemoteRemoved"
	EventRelaySet           = "RelaySet"
)

var (
	ErrNotAdmin         = fault.Authentication("not_admin", "")
	ErrUntrustedRelay   = fault.Authentication("untrusted_relay", "")
	ErrUntrustedSource  = fault.Authentication("untrusted_source", "")
	ErrStaleSequence    = fault.Replay("stale_sequence", "")
	ErrInvalidAddress   = fault.Validation("invalid_address", "")
	ErrSameChainMessage = fault.Validation("same_chain_message", "")
)

// Inbound describes the delivered envelope passed to every handler.
type Inbound struct {
	SrcChainID uint32
	SrcAddr    gmp.Address
	Sequence   uint64
	Payload    []byte
}

// HandlerFunc inspects a decoded message and decides on its own whether it is
// relevant. Handlers must be idempotent: a repeated intent must be a no-op.
type HandlerFunc func(tx *chain.Tx, in *Inbound, msg gmp.Message) error

type registration struct {
	name    string
	handler HandlerFunc
}

type remoteKey struct {
	chainID uint32
	addr    gmp.Address
}

// Endpoint is the inbound half of a chain's GMP endpoint.
type Endpoint struct {
	address  gmp.Address
	admin    gmp.Address
	relays   *chain.Store[gmp.Address, bool]
	trusted  *chain.Store[remoteKey, bool]
	lastSeq  *chain.Store[uint32, uint64]
	handlers map[gmp.MessageType][]registration
}

func NewEndpoint(address, admin gmp.Address) *Endpoint {
	return &Endpoint{
		address:  address,
		admin:    admin,
		relays:   chain.NewStore[gmp.Address, bool](),
		trusted:  chain.NewStore[remoteKey, bool](),
		lastSeq:  chain.NewStore[uint32, uint64](),
		handlers: make(map[gmp.MessageType][]registration, 3),
	}
}

func (e *Endpoint) Address() gmp.Address {
	return e.address
}

// RegisterHandler is part of wiring, not of ledger state; call it before the
// endpoint starts receiving messages.
func (e *Endpoint) RegisterHandler(t gmp.MessageType, name string, handler HandlerFunc) {
	e.handlers[t] = append(e.handlers[t], registration{name: name, handler: handler})
}

func (e *Endpoint) Handlers(t gmp.MessageType) []string {
	names := make([]string, 0, len(e.handlers[t]))
	for _, r := range e.handlers[t] {
		names = append(names, r.name)
	}
	return names
}

func (e *Endpoint) SetRelay(tx *chain.Tx, relay gmp.Address, allowed bool) error {
	if err := e.requireAdmin(tx); err != nil {
		return err
	}
	if relay.IsZero() {
		return ErrInvalidAddress
	}
	if allowed {
		e.relays.Put(tx, relay, true)
	} else {
		e.relays.Delete(tx, relay)
	}
	tx.Emit(EventRelaySet, &RelaySet{Relay: relay, Allowed: allowed})
	return nil
}

func (e *Endpoint) SetTrustedRemote(tx *chain.Tx, chainID uint32, addr gmp.Address) error {
	if err := e.requireAdmin(tx); err != nil {
		return err
	}
	if addr.IsZero() {
		return ErrInvalidAddress
	}
	e.trusted.Put(tx, remoteKey{chainID, addr}, true)
	tx.Emit(EventTrustedRemoteSet, &TrustedRemote{ChainID: chainID, Addr: addr})
	return nil
}

func (e *Endpoint) RemoveTrustedRemote(tx *chain.Tx, chainID uint32, addr gmp.Address) error {
	if err := e.requireAdmin(tx); err != nil {
		return err
	}
	e.trusted.Delete(tx, remoteKey{chainID, addr})
	tx.Emit(EventTrustedRemoteUnset, &TrustedRemote{ChainID: chainID, Addr: addr})
	return nil
}

func (e *Endpoint) IsTrustedRemote(chainID uint32, addr gmp.Address) bool {
	return e.trusted.Has(remoteKey{chainID, addr})
}

// LastSequence is a read helper; call it inside Ledger.View or Execute.
func (e *Endpoint) LastSequence(srcChainID uint32) uint64 {
	seq, _ := e.lastSeq.Get(srcChainID)
	return seq
}

// Deliver authenticates, replay-checks and dispatches one inbound message. All
// trusted senders of a source chain share one sequence counter. The counter is
// only advanced once every handler returned without error; any handler error
// aborts the enclosing transaction.
func (e *Endpoint) Deliver(tx *chain.Tx, srcChainID uint32, srcAddr gmp.Address, payload []byte, seq uint64) error {
	if !e.relays.Has(tx.Caller()) {
		return ErrUntrustedRelay.Wrapf("caller %s", tx.Caller())
	}
	if srcChainID == tx.ChainID() {
		return ErrSameChainMessage.Wrapf("chain %d", srcChainID)
	}
	if !e.IsTrustedRemote(srcChainID, srcAddr) {
		return ErrUntrustedSource.Wrapf("chain %d address %s", srcChainID, srcAddr)
	}
	last := e.LastSequence(srcChainID)
	if seq <= last {
		return ErrStaleSequence.Wrapf("chain %d sequence %d, last accepted %d", srcChainID, seq, last)
	}

	msgType, err := gmp.PeekType(payload)
	if err != nil {
		return err
	}
	registered := e.handlers[msgType]
	msg, err := gmp.Decode(payload)
	if err != nil {
		return err
	}

	in := &Inbound{
		SrcChainID: srcChainID,
		SrcAddr:    srcAddr,
		Sequence:   seq,
		Payload:    payload,
	}
	names := make([]string, 0, len(registered))
	for _, r := range registered {
		if err = r.handler(tx, in, msg); err != nil {
			return fmt.Errorf("handler %s failed for %s: %w", r.name, msgType, err)
		}
		names = append(names, r.name)
	}

	e.lastSeq.Put(tx, srcChainID, seq)
	tx.Emit(EventMessageDelivered, &MessageDelivered{
		SrcChainID: srcChainID,
		SrcAddr:    srcAddr,
		Sequence:   seq,
		Type:       msgType.String(),
		IntentID:   msg.GetIntentID().Hex(),
		Handlers:   names,
	})
	return nil
}

func (e *Endpoint) requireAdmin(tx *chain.Tx) error {
	if tx.Caller() != e.admin {
		return ErrNotAdmin.Wrapf("caller %s", tx.Caller())
	}
	return nil
}

type MessageDelivered struct {
	SrcChainID uint32      `json:"src_chain_id"`
	SrcAddr    gmp.Address `json:"src_addr"`
	Sequence   uint64      `json:"sequence"`
	Type       string      `json:"type"`
	IntentID   string      `json:"intent_id"`
	Handlers   []string    `json:"handlers"`
}

type TrustedRemote struct {
	ChainID uint32      `json:"chain_id"`
	Addr    gmp.Address `json:"addr"`
}

type RelaySet struct {
	Relay   gmp.Address `json:"relay"`
	Allowed bool        `json:"allowed"`
}
