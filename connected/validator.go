package connected

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/router"
	"github.com/omni/intent-bridge/transport"
)

const EventOutflowFulfilled = "OutflowFulfilled"

var (
	ErrRequirementsNotFound = fault.Validation("requirements_not_found", "")
	ErrAlreadyFulfilled     = fault.Replay("already_fulfilled", "")
	ErrUnauthorizedSolver   = fault.Authentication("unauthorized_solver", "")
	ErrTokenMismatch        = fault.Validation("token_mismatch", "")
	ErrRequirementsExpired  = fault.Validation("requirements_expired", "")
	ErrInflowIntent         = fault.Validation("inflow_intent", "")
)

// Validator lets the reserved solver of an outflow intent deliver funds on
// the connected chain and reports the delivery back to the hub.
//
// Requirements messages do not say which direction an intent flows, so every
// record is stored. An intent that already has an escrow on this chain is an
// inflow intent and cannot be fulfilled here. A proof sent for an inflow
// intent before its escrow exists is ignored by the hub.
type Validator struct {
	ledger       *chain.Ledger
	sender       *transport.Sender
	escrows      *EscrowModule
	hubChainID   uint32
	requirements *chain.Store[common.Hash, Requirements]
}

// NewValidator creates the module. escrows is the escrow module sharing the
// ledger, if any.
func NewValidator(ledger *chain.Ledger, sender *transport.Sender, escrows *EscrowModule, hubChainID uint32) *Validator {
	return &Validator{
		ledger:       ledger,
		sender:       sender,
		escrows:      escrows,
		hubChainID:   hubChainID,
		requirements: chain.NewStore[common.Hash, Requirements](),
	}
}

func (v *Validator) RegisterHandlers(ep *router.Endpoint) {
	ep.RegisterHandler(gmp.TypeIntentRequirements, "validator.requirements", v.handleRequirements)
}

// handleRequirements stores the record once; redelivery is a no-op.
func (v *Validator) handleRequirements(tx *chain.Tx, in *router.Inbound, msg gmp.Message) error {
	req, ok := msg.(*gmp.IntentRequirements)
	if !ok || in.SrcChainID != v.hubChainID || v.requirements.Has(req.IntentID) {
		return nil
	}
	v.requirements.Put(tx, req.IntentID, requirementsFrom(in, req))
	tx.Emit(EventRequirementsStored, &RequirementsStored{Module: "validator", IntentID: req.IntentID})
	return nil
}

// Fulfill pulls exactly the required amount of token from the caller, who
// must be the solver named by the hub, and forwards it to the requester.
func (v *Validator) Fulfill(tx *chain.Tx, intentID common.Hash, token gmp.Address) error {
	req, ok := v.requirements.Get(intentID)
	if !ok {
		return ErrRequirementsNotFound.Wrapf("intent %s", intentID)
	}
	if req.Fulfilled {
		return ErrAlreadyFulfilled.Wrapf("intent %s", intentID)
	}
	if v.escrows != nil && v.escrows.escrows.Has(intentID) {
		return ErrInflowIntent.Wrapf("intent %s is escrowed on this chain", intentID)
	}
	if tx.Caller() != req.SolverAddr {
		return ErrUnauthorizedSolver.Wrapf("intent %s is reserved for %s", intentID, req.SolverAddr)
	}
	if token != req.TokenAddr {
		return ErrTokenMismatch.Wrapf("token %s, required %s", token, req.TokenAddr)
	}
	if tx.Timestamp() > req.Expiry {
		return ErrRequirementsExpired.Wrapf("intent %s expired at %d", intentID, req.Expiry)
	}

	if err := tx.Transfer(token, tx.Caller(), req.RequesterAddr, req.AmountRequired); err != nil {
		return err
	}
	req.Fulfilled = true
	v.requirements.Put(tx, intentID, req)
	tx.Emit(EventOutflowFulfilled, &OutflowFulfilled{
		IntentID:  intentID,
		Solver:    tx.Caller(),
		Requester: req.RequesterAddr,
		Token:     token,
		Amount:    req.AmountRequired,
	})

	_, err := v.sender.SendMessage(tx, v.hubChainID, &gmp.FulfillmentProof{
		IntentID:        intentID,
		SolverAddr:      tx.Caller(),
		AmountFulfilled: req.AmountRequired,
		Timestamp:       tx.Timestamp(),
	})
	return err
}

func (v *Validator) Requirements(intentID common.Hash) (*Requirements, bool) {
	var (
		res *Requirements
		ok  bool
	)
	v.ledger.View(func() {
		var req Requirements
		if req, ok = v.requirements.Get(intentID); ok {
			res = &req
		}
	})
	return res, ok
}

type OutflowFulfilled struct {
	IntentID  common.Hash `json:"intent_id"`
	Solver    gmp.Address `json:"solver"`
	Requester gmp.Address `json:"requester"`
	Token     gmp.Address `json:"token"`
	Amount    uint64      `json:"amount"`
}
