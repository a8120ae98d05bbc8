package gmp

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/fault"
)

// Encoded sizes, including the leading type byte.
const (
	IntentRequirementsSize = 1 + 32 + 32 + 8 + 32 + 32 + 8
	EscrowConfirmationSize = 1 + 32 + 32 + 8 + 32 + 32
	FulfillmentProofSize   = 1 + 32 + 32 + 8 + 8
)

var (
	ErrEmptyPayload   = fault.Decode("empty_payload", "")
	ErrUnknownType    = fault.Decode("unknown_type", "")
	ErrInvalidLength  = fault.Decode("invalid_length", "")
	ErrUnexpectedType = fault.Decode("unexpected_type", "")
)

// PeekType reads the type tag without decoding the rest of the payload.
func PeekType(payload []byte) (MessageType, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}
	t := MessageType(payload[0])
	if !t.Valid() {
		return 0, ErrUnknownType.Wrapf("tag 0x%02x", payload[0])
	}
	return t, nil
}

func Decode(payload []byte) (Message, error) {
	t, err := PeekType(payload)
	if err != nil {
		return nil, err
	}
	var msg Message
	switch t {
	case TypeIntentRequirements:
		msg, err = DecodeIntentRequirements(payload)
	case TypeEscrowConfirmation:
		msg, err = DecodeEscrowConfirmation(payload)
	default:
		msg, err = DecodeFulfillmentProof(payload)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *IntentRequirements) Encode() []byte {
	w := newWriter(IntentRequirementsSize, TypeIntentRequirements)
	w.bytes32(m.IntentID)
	w.bytes32(m.RequesterAddr)
	w.uint64(m.AmountRequired)
	w.bytes32(m.TokenAddr)
	w.bytes32(m.SolverAddr)
	w.uint64(m.Expiry)
	return w.buf
}

func DecodeIntentRequirements(payload []byte) (*IntentRequirements, error) {
	r, err := newReader(payload, TypeIntentRequirements, IntentRequirementsSize)
	if err != nil {
		return nil, err
	}
	return &IntentRequirements{
		IntentID:       r.hash(),
		RequesterAddr:  r.address(),
		AmountRequired: r.uint64(),
		TokenAddr:      r.address(),
		SolverAddr:     r.address(),
		Expiry:         r.uint64(),
	}, nil
}

func (m *EscrowConfirmation) Encode() []byte {
	w := newWriter(EscrowConfirmationSize, TypeEscrowConfirmation)
	w.bytes32(m.IntentID)
	w.bytes32(m.EscrowID)
	w.uint64(m.AmountEscrowed)
	w.bytes32(m.TokenAddr)
	w.bytes32(m.CreatorAddr)
	return w.buf
}

func DecodeEscrowConfirmation(payload []byte) (*EscrowConfirmation, error) {
	r, err := newReader(payload, TypeEscrowConfirmation, EscrowConfirmationSize)
	if err != nil {
		return nil, err
	}
	return &EscrowConfirmation{
		IntentID:       r.hash(),
		EscrowID:       r.hash(),
		AmountEscrowed: r.uint64(),
		TokenAddr:      r.address(),
		CreatorAddr:    r.address(),
	}, nil
}

func (m *FulfillmentProof) Encode() []byte {
	w := newWriter(FulfillmentProofSize, TypeFulfillmentProof)
	w.bytes32(m.IntentID)
	w.bytes32(m.SolverAddr)
	w.uint64(m.AmountFulfilled)
	w.uint64(m.Timestamp)
	return w.buf
}

func DecodeFulfillmentProof(payload []byte) (*FulfillmentProof, error) {
	r, err := newReader(payload, TypeFulfillmentProof, FulfillmentProofSize)
	if err != nil {
		return nil, err
	}
	return &FulfillmentProof{
		IntentID:        r.hash(),
		SolverAddr:      r.address(),
		AmountFulfilled: r.uint64(),
		Timestamp:       r.uint64(),
	}, nil
}

type writer struct {
	buf []byte
}

func newWriter(size int, t MessageType) *writer {
	buf := make([]byte, 1, size)
	buf[0] = byte(t)
	return &writer{buf: buf}
}

func (w *writer) bytes32(v [32]byte) {
	w.buf = append(w.buf, v[:]...)
}

func (w *writer) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// reader is only constructed after the length check, so its accessors never run
// past the end of the payload.
type reader struct {
	buf []byte
	pos int
}

func newReader(payload []byte, t MessageType, size int) (*reader, error) {
	got, err := PeekType(payload)
	if err != nil {
		return nil, err
	}
	if got != t {
		return nil, ErrUnexpectedType.Wrapf("expected %s, got %s", t, got)
	}
	if len(payload) != size {
		return nil, ErrInvalidLength.Wrapf("%s must be %d bytes, got %d", t, size, len(payload))
	}
	return &reader{buf: payload, pos: 1}, nil
}

func (r *reader) hash() common.Hash {
	h := common.BytesToHash(r.buf[r.pos : r.pos+32])
	r.pos += 32
	return h
}

func (r *reader) address() Address {
	a := BytesToAddress(r.buf[r.pos : r.pos+32])
	r.pos += 32
	return a
}

func (r *reader) uint64() uint64 {
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}
