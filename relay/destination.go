package relay

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/router"
	"github.com/omni/intent-bridge/transport"
)

// EventSource is the committed event log of a source ledger. Genesis tells
// ledger instances apart, event indexes restart with every new instance.
type EventSource interface {
	ChainID() uint32
	Genesis() common.Hash
	Events(from uint64, limit int) []*chain.Event
}

// Destination delivers one message to the GMP endpoint of the destination chain
// and returns the hash of the delivering transaction.
type Destination interface {
	ChainID() uint32
	Deliver(ctx context.Context, msg *transport.MessageReady) (common.Hash, error)
}

type LedgerDestination struct {
	ledger   *chain.Ledger
	endpoint *router.Endpoint
	relayer  gmp.Address
}

func NewLedgerDestination(ledger *chain.Ledger, endpoint *router.Endpoint, relayer gmp.Address) *LedgerDestination {
	return &LedgerDestination{
		ledger:   ledger,
		endpoint: endpoint,
		relayer:  relayer,
	}
}

func (d *LedgerDestination) ChainID() uint32 {
	return d.ledger.ChainID()
}

func (d *LedgerDestination) Deliver(_ context.Context, msg *transport.MessageReady) (common.Hash, error) {
	return d.ledger.Execute(d.relayer, func(tx *chain.Tx) error {
		return d.endpoint.Deliver(tx, msg.SrcChainID, msg.SrcAddr, msg.Payload, msg.Sequence)
	})
}
