package presenter

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/verifier"
)

type OutflowFulfillmentRequest struct {
	TransactionHash common.Hash      `json:"transaction_hash"`
	ChainType       config.ChainType `json:"chain_type"`
	IntentID        common.Hash      `json:"intent_id"`
}

type InflowEscrowRequest struct {
	IntentID common.Hash `json:"intent_id"`
}

type ValidationResponse struct {
	Valid             bool   `json:"valid"`
	ApprovalSignature string `json:"approval_signature,omitempty"`
	Message           string `json:"message,omitempty"`
}

type ApprovalResponse struct {
	IntentID  common.Hash         `json:"intent_id"`
	Path      entity.ApprovalPath `json:"path"`
	Scheme    string              `json:"scheme"`
	Signature string              `json:"signature"`
	CreatedAt *time.Time          `json:"created_at,omitempty"`
}

type PublicKeyResponse struct {
	Scheme    approval.Scheme `json:"scheme"`
	PublicKey string          `json:"public_key"`
	Native    string          `json:"native"`
}

type EventsResponse struct {
	Count  int                   `json:"count"`
	Events []*verifier.FeedEvent `json:"events"`
}

type DeliveriesResponse struct {
	Count      int                     `json:"count"`
	Deliveries []*entity.RelayDelivery `json:"deliveries"`
}
