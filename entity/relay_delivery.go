package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusReplayed  DeliveryStatus = "replayed"
	DeliveryStatusDropped   DeliveryStatus = "dropped"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

type RelayDelivery struct {
	Route       string         `db:"route" json:"route"`
	SrcChainID  uint32         `db:"src_chain_id" json:"src_chain_id"`
	DstChainID  uint32         `db:"dst_chain_id" json:"dst_chain_id"`
	Sequence    uint64         `db:"sequence" json:"sequence"`
	MessageType string         `db:"message_type" json:"message_type"`
	IntentID    common.Hash    `db:"intent_id" json:"intent_id"`
	TxHash      *common.Hash   `db:"tx_hash" json:"tx_hash,omitempty"`
	Status      DeliveryStatus `db:"status" json:"status"`
	Attempts    uint           `db:"attempts" json:"attempts"`
	Error       *string        `db:"error" json:"error,omitempty"`
	CreatedAt   *time.Time     `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

type RelayDeliveriesRepo interface {
	Ensure(ctx context.Context, d *RelayDelivery) error
	FindByIntentID(ctx context.Context, intentID common.Hash) ([]*RelayDelivery, error)
}
