package hub

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/gmp"
)

// Session is a single-use settlement token. It is bound to the transaction
// that started it: unless FinishSession consumes it before the transaction
// ends, the whole transaction aborts.
type Session struct {
	tx       *chain.Tx
	intentID common.Hash
	solver   gmp.Address
	finished bool
}

func (s *Session) IntentID() common.Hash { return s.intentID }

func (s *Session) Solver() gmp.Address { return s.solver }

// StartSession releases hub-locked funds to solver and returns the session
// that must be finished in the same transaction.
func (h *Hub) StartSession(tx *chain.Tx, id common.Hash, solver gmp.Address) (Leg, *Session, error) {
	intent, err := h.live(id)
	if err != nil {
		return Leg{}, nil, err
	}
	if intent.Expired(tx.Timestamp()) {
		return Leg{}, nil, ErrIntentExpired.Wrapf("intent %s expired at %d", id, intent.Expiry)
	}
	if intent.Reserved() && solver != intent.Reservation {
		return Leg{}, nil, ErrSolverNotReserved.Wrapf("intent %s is reserved for %s", id, intent.Reservation)
	}
	if h.sessions.Has(id) {
		return Leg{}, nil, ErrSessionActive.Wrapf("intent %s", id)
	}

	var released Leg
	if intent.Offered.ChainID == tx.ChainID() {
		if err = tx.Transfer(intent.Offered.Asset, h.account, solver, intent.Offered.Amount); err != nil {
			return Leg{}, nil, err
		}
		released = intent.Offered
	}

	h.sessions.Put(tx, id, solver)
	s := &Session{tx: tx, intentID: id, solver: solver}
	tx.OnCommit(func() error {
		if !s.finished {
			return ErrSessionNotFinished.Wrapf("intent %s", id)
		}
		return nil
	})
	return released, s, nil
}

// FinishSession checks the settlement condition of the intent kind and
// consumes both the session and the intent.
func (h *Hub) FinishSession(tx *chain.Tx, s *Session, payment Payment, witness *Witness) error {
	if s == nil || s.finished || s.tx != tx {
		return ErrSessionConsumed
	}
	solver, ok := h.sessions.Get(s.intentID)
	if !ok || solver != s.solver {
		return ErrSessionConsumed.Wrapf("intent %s", s.intentID)
	}
	intent, err := h.live(s.intentID)
	if err != nil {
		return err
	}

	if intent.Oracle != nil {
		if err = checkWitness(&intent, witness); err != nil {
			return err
		}
	}

	switch {
	case intent.Desired.ChainID == tx.ChainID():
		if payment.Asset != intent.Desired.Asset {
			return ErrPaymentAssetMismatch.Wrapf("want %s, got %s", intent.Desired.Asset, payment.Asset)
		}
		if payment.Amount < intent.Desired.Amount {
			return ErrPaymentTooLow.Wrapf("want %d, got %d", intent.Desired.Amount, payment.Amount)
		}
		if intent.Kind == KindInflow && !intent.EscrowConfirmed {
			return ErrEscrowNotConfirmed.Wrapf("intent %s", intent.ID)
		}
		if err = tx.Transfer(payment.Asset, tx.Caller(), intent.Requester, payment.Amount); err != nil {
			return err
		}
	case intent.Oracle == nil && !intent.FulfillmentRecorded:
		return ErrFulfillmentMissing.Wrapf("intent %s", intent.ID)
	default:
		payment = Payment{}
	}

	s.finished = true
	h.sessions.Delete(tx, s.intentID)
	h.consume(tx, &intent, StatusSettled, s.solver, payment)

	var released Leg
	if intent.Offered.ChainID == tx.ChainID() {
		released = intent.Offered
	}
	tx.Emit(EventIntentSettled, &IntentSettled{
		IntentID: intent.ID,
		Kind:     intent.Kind,
		Solver:   s.solver,
		Released: released,
		Payment:  payment,
	})

	if intent.Kind == KindInflow && h.sender != nil && h.sender.HasRoute(intent.Offered.ChainID) {
		_, err = h.sender.SendMessage(tx, intent.Offered.ChainID, &gmp.FulfillmentProof{
			IntentID:        intent.ID,
			SolverAddr:      s.solver,
			AmountFulfilled: payment.Amount,
			Timestamp:       tx.Timestamp(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func checkWitness(intent *Intent, witness *Witness) error {
	if witness == nil {
		return ErrWitnessRequired.Wrapf("intent %s", intent.ID)
	}
	if err := approval.Verify(intent.Oracle.Scheme, intent.Oracle.PublicKey, intent.ID, witness.Signature); err != nil {
		return err
	}
	if witness.ReportedValue < intent.Oracle.MinReportedValue {
		return ErrReportedValueTooLow.Wrapf("want at least %d, got %d", intent.Oracle.MinReportedValue, witness.ReportedValue)
	}
	return nil
}

// Settle runs a whole session for the transaction caller acting as solver.
func (h *Hub) Settle(tx *chain.Tx, id common.Hash, payment Payment, witness *Witness) error {
	_, s, err := h.StartSession(tx, id, tx.Caller())
	if err != nil {
		return err
	}
	return h.FinishSession(tx, s, payment, witness)
}
