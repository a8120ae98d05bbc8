package gmp

import (
	"github.com/ethereum/go-ethereum/common"
)

// MessageType is the first byte of every encoded message and fully determines
// the layout of the rest of the payload.
type MessageType uint8

const (
	TypeIntentRequirements MessageType = 0x01
	TypeEscrowConfirmation MessageType = 0x02
	TypeFulfillmentProof   MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case TypeIntentRequirements:
		return "IntentRequirements"
	case TypeEscrowConfirmation:
		return "EscrowConfirmation"
	case TypeFulfillmentProof:
		return "FulfillmentProof"
	default:
		return "Unknown"
	}
}

func (t MessageType) Valid() bool {
	return t >= TypeIntentRequirements && t <= TypeFulfillmentProof
}

type Message interface {
	Type() MessageType
	GetIntentID() common.Hash
	Encode() []byte
}

// IntentRequirements is sent hub -> connected chain when a cross-chain intent is created.
type IntentRequirements struct {
	IntentID       common.Hash
	RequesterAddr  Address
	AmountRequired uint64
	TokenAddr      Address
	SolverAddr     Address
	Expiry         uint64
}

// EscrowConfirmation is sent connected chain -> hub once the requester has locked funds.
type EscrowConfirmation struct {
	IntentID       common.Hash
	EscrowID       common.Hash
	AmountEscrowed uint64
	TokenAddr      Address
	CreatorAddr    Address
}

// FulfillmentProof is sent by whichever side observed the solver deliver funds.
type FulfillmentProof struct {
	IntentID        common.Hash
	SolverAddr      Address
	AmountFulfilled uint64
	Timestamp       uint64
}

func (m *IntentRequirements) Type() MessageType        { return TypeIntentRequirements }
func (m *IntentRequirements) GetIntentID() common.Hash { return m.IntentID }

func (m *EscrowConfirmation) Type() MessageType        { return TypeEscrowConfirmation }
func (m *EscrowConfirmation) GetIntentID() common.Hash { return m.IntentID }

func (m *FulfillmentProof) Type() MessageType        { return TypeFulfillmentProof }
func (m *FulfillmentProof) GetIntentID() common.Hash { return m.IntentID }
