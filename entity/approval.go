package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type ApprovalPath string

const (
	ApprovalPathInflow  ApprovalPath = "inflow_escrow"
	ApprovalPathOutflow ApprovalPath = "outflow_fulfillment"
)

// Approval is a signature issued by the verifier over an intent id. ClaimHash
// identifies the evidence the signature was issued for. Network is the
// genesis of the hub ledger the intent lives on.
type Approval struct {
	Network   common.Hash  `db:"network" json:"network"`
	IntentID  common.Hash  `db:"intent_id" json:"intent_id"`
	Path      ApprovalPath `db:"path" json:"path"`
	ClaimHash common.Hash  `db:"claim_hash" json:"claim_hash"`
	Scheme    string       `db:"scheme" json:"scheme"`
	Signature []byte       `db:"signature" json:"signature"`
	CreatedAt *time.Time   `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt *time.Time   `db:"updated_at" json:"updated_at,omitempty"`
}

type ApprovalsRepo interface {
	// Ensure stores a if no approval exists for its network and intent id yet
	// and returns the approval that is stored afterwards.
	Ensure(ctx context.Context, a *Approval) (*Approval, error)
	GetByIntentID(ctx context.Context, network, intentID common.Hash) (*Approval, error)
}
