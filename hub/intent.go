package hub

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/gmp"
)

// Leg is one side of an intent: an amount of an asset on a given chain.
type Leg struct {
	Asset   gmp.Address `json:"asset"`
	Amount  uint64      `json:"amount"`
	ChainID uint32      `json:"chain_id"`
}

type Payment struct {
	Asset  gmp.Address `json:"asset"`
	Amount uint64      `json:"amount"`
}

// OracleRequirement gates settlement on an approval signature over the intent id.
type OracleRequirement struct {
	Scheme           approval.Scheme `json:"scheme"`
	PublicKey        []byte          `json:"public_key"`
	MinReportedValue uint64          `json:"min_reported_value"`
}

// Witness is the approval presented at settlement of an oracle-gated intent.
type Witness struct {
	ReportedValue uint64 `json:"reported_value"`
	Signature     []byte `json:"signature"`
}

type Kind uint8

const (
	KindPlain Kind = iota
	KindOutflow
	KindInflow
)

func (k Kind) String() string {
	switch k {
	case KindOutflow:
		return "outflow"
	case KindInflow:
		return "inflow"
	default:
		return "plain"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Status uint8

const (
	StatusCreated Status = iota
	StatusReserved
	StatusSettled
	StatusRevoked
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusReserved:
		return "reserved"
	case StatusSettled:
		return "settled"
	case StatusRevoked:
		return "revoked"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusRevoked || s == StatusExpired
}

type CreateParams struct {
	// IntentID may be left zero, in which case an id is derived.
	IntentID    common.Hash
	Offered     Leg
	Desired     Leg
	Expiry      uint64
	Revocable   bool
	Reservation gmp.Address
	Oracle      *OracleRequirement
	// RequesterOnConnected is the requester's account on the connected chain:
	// the recipient for outflow, the escrow creator for inflow.
	RequesterOnConnected gmp.Address
}

type Intent struct {
	ID                   common.Hash        `json:"intent_id"`
	Kind                 Kind               `json:"kind"`
	Offered              Leg                `json:"offered"`
	Desired              Leg                `json:"desired"`
	Requester            gmp.Address        `json:"requester"`
	RequesterOnConnected gmp.Address        `json:"requester_on_connected"`
	Expiry               uint64             `json:"expiry"`
	Revocable            bool               `json:"revocable"`
	Reservation          gmp.Address        `json:"reservation"`
	Oracle               *OracleRequirement `json:"oracle,omitempty"`
	CreatedAt            uint64             `json:"created_at"`

	EscrowConfirmed bool        `json:"escrow_confirmed"`
	EscrowID        common.Hash `json:"escrow_id"`
	EscrowRejection string      `json:"escrow_rejection,omitempty"`

	FulfillmentRecorded bool                 `json:"fulfillment_recorded"`
	Fulfillment         gmp.FulfillmentProof `json:"fulfillment"`
}

func (i *Intent) Reserved() bool {
	return !i.Reservation.IsZero()
}

// CrossChain reports whether the intent takes part in a flow involving another chain.
func (i *Intent) CrossChain() bool {
	return i.Kind != KindPlain || i.Reserved() || i.Oracle != nil
}

// ConnectedLeg is the leg that lives on the connected chain.
func (i *Intent) ConnectedLeg() (Leg, bool) {
	switch i.Kind {
	case KindOutflow:
		return i.Desired, true
	case KindInflow:
		return i.Offered, true
	default:
		return Leg{}, false
	}
}

func (i *Intent) Expired(now uint64) bool {
	return now > i.Expiry
}

// Settlement is the tombstone kept for every consumed intent id.
type Settlement struct {
	Intent    Intent      `json:"intent"`
	Outcome   Status      `json:"outcome"`
	Solver    gmp.Address `json:"solver"`
	Payment   Payment     `json:"payment"`
	Timestamp uint64      `json:"timestamp"`
}

// Record is the verifier facing view of an intent, live or consumed.
type Record struct {
	Intent     Intent      `json:"intent"`
	Status     Status      `json:"status"`
	Settlement *Settlement `json:"settlement,omitempty"`
}
