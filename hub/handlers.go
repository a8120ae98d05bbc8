package hub

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/router"
)

// RegisterHandlers subscribes the hub to the messages connected chains send back.
func (h *Hub) RegisterHandlers(ep *router.Endpoint) {
	ep.RegisterHandler(gmp.TypeEscrowConfirmation, "hub.escrow_confirmation", h.handleEscrowConfirmation)
	ep.RegisterHandler(gmp.TypeFulfillmentProof, "hub.fulfillment_proof", h.handleFulfillmentProof)
}

// handleEscrowConfirmation never fails on a mismatch: the rejection is
// recorded on the intent so that delivery of later messages is not blocked.
func (h *Hub) handleEscrowConfirmation(tx *chain.Tx, in *router.Inbound, msg gmp.Message) error {
	conf, ok := msg.(*gmp.EscrowConfirmation)
	if !ok {
		return nil
	}
	intent, ok := h.intents.Get(conf.IntentID)
	if !ok || intent.Kind != KindInflow || intent.EscrowConfirmed {
		return nil
	}

	var reason string
	switch {
	case in.SrcChainID != intent.Offered.ChainID:
		reason = fmt.Sprintf("confirmation from chain %d, escrow expected on %d", in.SrcChainID, intent.Offered.ChainID)
	case conf.AmountEscrowed != intent.Offered.Amount:
		reason = fmt.Sprintf("escrowed %d, required %d", conf.AmountEscrowed, intent.Offered.Amount)
	case conf.TokenAddr != intent.Offered.Asset:
		reason = fmt.Sprintf("escrowed token %s, required %s", conf.TokenAddr, intent.Offered.Asset)
	case conf.CreatorAddr != intent.RequesterOnConnected:
		reason = fmt.Sprintf("escrow created by %s, required %s", conf.CreatorAddr, intent.RequesterOnConnected)
	}

	if reason != "" {
		intent.EscrowRejection = reason
		h.intents.Put(tx, intent.ID, intent)
		tx.Emit(EventEscrowRejected, &EscrowRejected{IntentID: intent.ID, EscrowID: conf.EscrowID, Reason: reason})
		return nil
	}

	intent.EscrowConfirmed = true
	intent.EscrowID = conf.EscrowID
	intent.EscrowRejection = ""
	h.intents.Put(tx, intent.ID, intent)
	tx.Emit(EventEscrowConfirmed, &EscrowConfirmed{
		IntentID: intent.ID,
		EscrowID: conf.EscrowID,
		Amount:   conf.AmountEscrowed,
		Token:    conf.TokenAddr,
		Creator:  conf.CreatorAddr,
	})
	return nil
}

func (h *Hub) handleFulfillmentProof(tx *chain.Tx, in *router.Inbound, msg gmp.Message) error {
	proof, ok := msg.(*gmp.FulfillmentProof)
	if !ok {
		return nil
	}
	intent, ok := h.intents.Get(proof.IntentID)
	if !ok || intent.Kind != KindOutflow || intent.FulfillmentRecorded {
		return nil
	}

	var reason string
	switch {
	case in.SrcChainID != intent.Desired.ChainID:
		reason = fmt.Sprintf("proof from chain %d, fulfillment expected on %d", in.SrcChainID, intent.Desired.ChainID)
	case proof.SolverAddr != intent.Reservation:
		reason = fmt.Sprintf("fulfilled by %s, reserved for %s", proof.SolverAddr, intent.Reservation)
	case proof.AmountFulfilled < intent.Desired.Amount:
		reason = fmt.Sprintf("fulfilled %d, required %d", proof.AmountFulfilled, intent.Desired.Amount)
	}
	if reason != "" {
		tx.Emit(EventFulfillmentRejected, &FulfillmentRejected{IntentID: intent.ID, Reason: reason})
		return nil
	}

	intent.FulfillmentRecorded = true
	intent.Fulfillment = *proof
	h.intents.Put(tx, intent.ID, intent)
	tx.Emit(EventFulfillmentRecorded, &FulfillmentRecorded{
		IntentID:  intent.ID,
		Solver:    proof.SolverAddr,
		Amount:    proof.AmountFulfilled,
		Timestamp: proof.Timestamp,
	})
	return nil
}

type EscrowConfirmed struct {
	IntentID common.Hash `json:"intent_id"`
	EscrowID common.Hash `json:"escrow_id"`
	Amount   uint64      `json:"amount"`
	Token    gmp.Address `json:"token"`
	Creator  gmp.Address `json:"creator"`
}

type EscrowRejected struct {
	IntentID common.Hash `json:"intent_id"`
	EscrowID common.Hash `json:"escrow_id"`
	Reason   string      `json:"reason"`
}

type FulfillmentRecorded struct {
	IntentID  common.Hash `json:"intent_id"`
	Solver    gmp.Address `json:"solver"`
	Amount    uint64      `json:"amount"`
	Timestamp uint64      `json:"timestamp"`
}

type FulfillmentRejected struct {
	IntentID common.Hash `json:"intent_id"`
	Reason   string      `json:"reason"`
}
