package hub

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/transport"
)

const (
	EventIntentCreated       = "IntentCreated"
	EventIntentSettled       = "IntentSettled"
	EventIntentRevoked       = "IntentRevoked"
	EventIntentCancelled     = "IntentCancelled"
	EventEscrowConfirmed     = "EscrowConfirmed"
	EventEscrowRejected      = "EscrowRejected"
	EventFulfillmentRecorded = "FulfillmentRecorded"
	EventFulfillmentRejected = "FulfillmentRejected"
)

var (
	ErrIntentExists         = fault.Validation("intent_exists", "")
	ErrIntentNotFound       = fault.Validation("intent_not_found", "")
	ErrIntentConsumed       = fault.Replay("intent_consumed", "")
	ErrIntentExpired        = fault.Validation("intent_expired", "")
	ErrIntentNotExpired     = fault.Validation("intent_not_expired", "")
	ErrInvalidAmount        = fault.Validation("invalid_amount", "")
	ErrInvalidAsset         = fault.Validation("invalid_asset", "")
	ErrInvalidExpiry        = fault.Validation("invalid_expiry", "")
	ErrUnsupportedRoute     = fault.Validation("unsupported_route", "")
	ErrRevocableCrossChain  = fault.Validation("revocable_cross_chain", "")
	ErrReservationRequired  = fault.Validation("reservation_required", "")
	ErrRecipientRequired    = fault.Validation("connected_recipient_required", "")
	ErrInvalidOracle        = fault.Validation("invalid_oracle_requirement", "")
	ErrNotOwner             = fault.Authentication("not_owner", "")
	ErrNotRevocable         = fault.Validation("not_revocable", "")
	ErrSolverNotReserved    = fault.Validation("solver_not_reserved", "")
	ErrSessionActive        = fault.Validation("session_active", "")
	ErrSessionNotFinished   = fault.Validation("session_not_finished", "")
	ErrSessionConsumed      = fault.Validation("session_consumed", "")
	ErrPaymentAssetMismatch = fault.Validation("payment_asset_mismatch", "")
	ErrPaymentTooLow        = fault.Validation("payment_too_low", "")
	ErrEscrowNotConfirmed   = fault.Validation("escrow_not_confirmed", "")
	ErrWitnessRequired      = fault.Validation("witness_required", "")
	ErrReportedValueTooLow  = fault.Validation("reported_value_too_low", "")
	ErrFulfillmentMissing   = fault.Validation("fulfillment_not_recorded", "")
)

// Hub keeps intents on the hub ledger. Funds offered on the hub are held by
// the module account until settlement, revocation or expiry.
type Hub struct {
	ledger   *chain.Ledger
	sender   *transport.Sender
	account  gmp.Address
	intents  *chain.Store[common.Hash, Intent]
	consumed *chain.Store[common.Hash, Settlement]
	nonces   *chain.Store[gmp.Address, uint64]
	sessions *chain.Store[common.Hash, gmp.Address]
}

func New(ledger *chain.Ledger, sender *transport.Sender) *Hub {
	return &Hub{
		ledger:   ledger,
		sender:   sender,
		account:  chain.ModuleAddress("hub.intents"),
		intents:  chain.NewStore[common.Hash, Intent](),
		consumed: chain.NewStore[common.Hash, Settlement](),
		nonces:   chain.NewStore[gmp.Address, uint64](),
		sessions: chain.NewStore[common.Hash, gmp.Address](),
	}
}

// Account is the module account holding locked hub funds.
func (h *Hub) Account() gmp.Address {
	return h.account
}

func (h *Hub) ChainID() uint32 {
	return h.ledger.ChainID()
}

// Create registers a new intent for the transaction caller and locks the
// offered funds if they live on the hub.
func (h *Hub) Create(tx *chain.Tx, p *CreateParams) (common.Hash, error) {
	intent, err := h.newIntent(tx, p)
	if err != nil {
		return common.Hash{}, err
	}
	if h.intents.Has(intent.ID) || h.consumed.Has(intent.ID) {
		return common.Hash{}, ErrIntentExists.Wrapf("%s", intent.ID)
	}

	if intent.Offered.ChainID == tx.ChainID() {
		if err = tx.Transfer(intent.Offered.Asset, intent.Requester, h.account, intent.Offered.Amount); err != nil {
			return common.Hash{}, err
		}
	}
	h.intents.Put(tx, intent.ID, *intent)
	tx.Emit(EventIntentCreated, &IntentCreated{Intent: *intent})

	if leg, ok := intent.ConnectedLeg(); ok && h.sender != nil && h.sender.HasRoute(leg.ChainID) {
		_, err = h.sender.SendMessage(tx, leg.ChainID, &gmp.IntentRequirements{
			IntentID:       intent.ID,
			RequesterAddr:  intent.RequesterOnConnected,
			AmountRequired: leg.Amount,
			TokenAddr:      leg.Asset,
			SolverAddr:     intent.Reservation,
			Expiry:         intent.Expiry,
		})
		if err != nil {
			return common.Hash{}, err
		}
	}
	return intent.ID, nil
}

func (h *Hub) newIntent(tx *chain.Tx, p *CreateParams) (*Intent, error) {
	hubID := tx.ChainID()
	offered, desired := p.Offered, p.Desired
	if offered.ChainID == 0 {
		offered.ChainID = hubID
	}
	if desired.ChainID == 0 {
		desired.ChainID = hubID
	}
	if offered.Amount == 0 || desired.Amount == 0 {
		return nil, ErrInvalidAmount.Wrapf("offered %d, desired %d", offered.Amount, desired.Amount)
	}
	if offered.Asset.IsZero() || desired.Asset.IsZero() {
		return nil, ErrInvalidAsset
	}
	if p.Expiry <= tx.Timestamp() {
		return nil, ErrInvalidExpiry.Wrapf("expiry %d is not after %d", p.Expiry, tx.Timestamp())
	}

	intent := &Intent{
		ID:                   p.IntentID,
		Offered:              offered,
		Desired:              desired,
		Requester:            tx.Caller(),
		RequesterOnConnected: p.RequesterOnConnected,
		Expiry:               p.Expiry,
		Revocable:            p.Revocable,
		Reservation:          p.Reservation,
		CreatedAt:            tx.Timestamp(),
	}
	switch {
	case offered.ChainID == hubID && desired.ChainID == hubID:
		intent.Kind = KindPlain
	case offered.ChainID == hubID:
		intent.Kind = KindOutflow
	case desired.ChainID == hubID:
		intent.Kind = KindInflow
	default:
		return nil, ErrUnsupportedRoute.Wrapf("offered on %d, desired on %d", offered.ChainID, desired.ChainID)
	}

	if p.Oracle != nil {
		if err := validateOracle(p.Oracle); err != nil {
			return nil, err
		}
		oracle := *p.Oracle
		oracle.PublicKey = append([]byte(nil), p.Oracle.PublicKey...)
		intent.Oracle = &oracle
	}
	if intent.CrossChain() && intent.Revocable {
		return nil, ErrRevocableCrossChain
	}
	if intent.Kind != KindPlain && !intent.Reserved() {
		return nil, ErrReservationRequired.Wrapf("%s intent", intent.Kind)
	}
	switch intent.Kind {
	case KindOutflow:
		if intent.RequesterOnConnected.IsZero() {
			return nil, ErrRecipientRequired
		}
	case KindInflow:
		if intent.RequesterOnConnected.IsZero() {
			intent.RequesterOnConnected = intent.Requester
		}
	default:
		intent.RequesterOnConnected = gmp.Address{}
	}

	if intent.ID == (common.Hash{}) {
		intent.ID = h.deriveID(tx)
	}
	return intent, nil
}

func validateOracle(o *OracleRequirement) error {
	if err := approval.ValidatePublicKey(o.Scheme, o.PublicKey); err != nil {
		return ErrInvalidOracle.Wrapf("%s", err)
	}
	return nil
}

func (h *Hub) deriveID(tx *chain.Tx) common.Hash {
	caller := tx.Caller()
	nonce, _ := h.nonces.Get(caller)
	h.nonces.Put(tx, caller, nonce+1)

	buf := make([]byte, 0, 4+32+8)
	buf = binary.BigEndian.AppendUint32(buf, tx.ChainID())
	buf = append(buf, caller[:]...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return crypto.Keccak256Hash(buf)
}

// Revoke returns locked funds to the owner of a revocable intent.
func (h *Hub) Revoke(tx *chain.Tx, id common.Hash) error {
	intent, err := h.live(id)
	if err != nil {
		return err
	}
	if tx.Caller() != intent.Requester {
		return ErrNotOwner.Wrapf("intent %s", id)
	}
	if !intent.Revocable || intent.CrossChain() {
		return ErrNotRevocable.Wrapf("intent %s", id)
	}
	if err = h.refund(tx, &intent); err != nil {
		return err
	}
	h.consume(tx, &intent, StatusRevoked, gmp.Address{}, Payment{})
	tx.Emit(EventIntentRevoked, &IntentClosed{IntentID: id, Requester: intent.Requester})
	return nil
}

// CancelExpired is the recovery path for every intent kind once its expiry passed.
func (h *Hub) CancelExpired(tx *chain.Tx, id common.Hash) error {
	intent, err := h.live(id)
	if err != nil {
		return err
	}
	if tx.Caller() != intent.Requester {
		return ErrNotOwner.Wrapf("intent %s", id)
	}
	if !intent.Expired(tx.Timestamp()) {
		return ErrIntentNotExpired.Wrapf("intent %s expires at %d", id, intent.Expiry)
	}
	if h.sessions.Has(id) {
		return ErrSessionActive.Wrapf("intent %s", id)
	}
	if err = h.refund(tx, &intent); err != nil {
		return err
	}
	h.consume(tx, &intent, StatusExpired, gmp.Address{}, Payment{})
	tx.Emit(EventIntentCancelled, &IntentClosed{IntentID: id, Requester: intent.Requester})
	return nil
}

func (h *Hub) refund(tx *chain.Tx, intent *Intent) error {
	if intent.Offered.ChainID != tx.ChainID() {
		return nil
	}
	return tx.Transfer(intent.Offered.Asset, h.account, intent.Requester, intent.Offered.Amount)
}

func (h *Hub) live(id common.Hash) (Intent, error) {
	intent, ok := h.intents.Get(id)
	if ok {
		return intent, nil
	}
	if h.consumed.Has(id) {
		return Intent{}, ErrIntentConsumed.Wrapf("%s", id)
	}
	return Intent{}, ErrIntentNotFound.Wrapf("%s", id)
}

func (h *Hub) consume(tx *chain.Tx, intent *Intent, outcome Status, solver gmp.Address, payment Payment) {
	h.intents.Delete(tx, intent.ID)
	h.consumed.Put(tx, intent.ID, Settlement{
		Intent:    *intent,
		Outcome:   outcome,
		Solver:    solver,
		Payment:   payment,
		Timestamp: tx.Timestamp(),
	})
}

func statusOf(intent *Intent, now uint64) Status {
	switch {
	case intent.Expired(now):
		return StatusExpired
	case intent.Reserved():
		return StatusReserved
	default:
		return StatusCreated
	}
}

// Status evaluates the intent state against the current ledger clock, so
// Expired is reported for any live intent whose expiry has passed.
func (h *Hub) Status(id common.Hash) (Status, error) {
	rec, err := h.Lookup(id)
	if err != nil {
		return 0, err
	}
	return rec.Status, nil
}

// Lookup returns a live intent or the tombstone of a consumed one.
func (h *Hub) Lookup(id common.Hash) (*Record, error) {
	var (
		rec *Record
		err error
	)
	h.ledger.View(func() {
		if intent, ok := h.intents.Get(id); ok {
			rec = &Record{Intent: intent, Status: statusOf(&intent, h.ledger.Now())}
			return
		}
		if s, ok := h.consumed.Get(id); ok {
			rec = &Record{Intent: s.Intent, Status: s.Outcome, Settlement: &s}
			return
		}
		err = ErrIntentNotFound.Wrapf("%s", id)
	})
	return rec, err
}

type IntentCreated struct {
	Intent Intent `json:"intent"`
}

type IntentSettled struct {
	IntentID common.Hash `json:"intent_id"`
	Kind     Kind        `json:"kind"`
	Solver   gmp.Address `json:"solver"`
	Released Leg         `json:"released"`
	Payment  Payment     `json:"payment"`
}

type IntentClosed struct {
	IntentID  common.Hash `json:"intent_id"`
	Requester gmp.Address `json:"requester"`
}
