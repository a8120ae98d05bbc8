package connected

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/router"
	"github.com/omni/intent-bridge/transport"
)

const (
	EventRequirementsStored = "RequirementsStored"
	EventEscrowCreated      = "EscrowCreated"
	EventEscrowReleased     = "EscrowReleased"
	EventEscrowCancelled    = "EscrowCancelled"
)

var (
	ErrEscrowExists          = fault.Validation("escrow_exists", "")
	ErrEscrowNotFound        = fault.Validation("escrow_not_found", "")
	ErrEscrowCompleted       = fault.Replay("escrow_completed", "")
	ErrEscrowCancelled       = fault.Validation("escrow_cancelled", "")
	ErrEscrowNotExpired      = fault.Validation("escrow_not_expired", "")
	ErrRequirementsMissing   = fault.Validation("requirements_missing", "")
	ErrRequirementsMismatch  = fault.Validation("requirements_mismatch", "")
	ErrSolverRequired        = fault.Validation("solver_required", "")
	ErrSolverNotReserved     = fault.Validation("solver_not_reserved", "")
	ErrInvalidAmount         = fault.Validation("invalid_amount", "")
	ErrInvalidExpiry         = fault.Validation("invalid_expiry", "")
	ErrInvalidApprover       = fault.Validation("invalid_approver", "")
	ErrNotRequester          = fault.Authentication("not_requester", "")
	ErrSessionNotFinished    = fault.Validation("session_not_finished", "")
	ErrSessionConsumed       = fault.Validation("session_consumed", "")
	ErrHubRouteNotConfigured = fault.Validation("hub_route_missing", "")
)

// Requirements is the hub supplied record an escrow or fulfillment must match.
type Requirements struct {
	IntentID       common.Hash `json:"intent_id"`
	RequesterAddr  gmp.Address `json:"requester_addr"`
	AmountRequired uint64      `json:"amount_required"`
	TokenAddr      gmp.Address `json:"token_addr"`
	SolverAddr     gmp.Address `json:"solver_addr"`
	Expiry         uint64      `json:"expiry"`
	SrcChainID     uint32      `json:"src_chain_id"`
	Fulfilled      bool        `json:"fulfilled"`
}

func requirementsFrom(in *router.Inbound, msg *gmp.IntentRequirements) Requirements {
	return Requirements{
		IntentID:       msg.IntentID,
		RequesterAddr:  msg.RequesterAddr,
		AmountRequired: msg.AmountRequired,
		TokenAddr:      msg.TokenAddr,
		SolverAddr:     msg.SolverAddr,
		Expiry:         msg.Expiry,
		SrcChainID:     in.SrcChainID,
	}
}

type EscrowParams struct {
	IntentID       common.Hash
	Asset          gmp.Address
	Amount         uint64
	ReservedSolver gmp.Address
	ApproverScheme approval.Scheme
	ApproverKey    []byte
	Expiry         uint64
	DesiredChainID uint32
}

type Escrow struct {
	EscrowID       common.Hash     `json:"escrow_id"`
	IntentID       common.Hash     `json:"intent_id"`
	Asset          gmp.Address     `json:"asset"`
	Amount         uint64          `json:"amount"`
	Requester      gmp.Address     `json:"requester"`
	ReservedSolver gmp.Address     `json:"reserved_solver"`
	ApproverScheme approval.Scheme `json:"approver_scheme"`
	ApproverKey    []byte          `json:"approver_key"`
	Expiry         uint64          `json:"expiry"`
	DesiredChainID uint32          `json:"desired_chain_id"`
	CreatedAt      uint64          `json:"created_at"`
	CreatedTx      common.Hash     `json:"created_tx"`
	Completed      bool            `json:"completed"`
	Cancelled      bool            `json:"cancelled"`
}

func (e *Escrow) Expired(now uint64) bool {
	return now > e.Expiry
}

// EscrowModule locks inflow funds on the connected chain until an approval
// signature, or a hub fulfillment proof, releases them to the reserved solver.
type EscrowModule struct {
	ledger       *chain.Ledger
	sender       *transport.Sender
	hubChainID   uint32
	strict       bool
	account      gmp.Address
	escrows      *chain.Store[common.Hash, Escrow]
	requirements *chain.Store[common.Hash, Requirements]
	sessions     *chain.Store[common.Hash, gmp.Address]
}

// NewEscrowModule creates the module. In strict mode an escrow can only be
// created once the hub requirements for its intent have been delivered.
func NewEscrowModule(ledger *chain.Ledger, sender *transport.Sender, hubChainID uint32, strict bool) *EscrowModule {
	return &EscrowModule{
		ledger:       ledger,
		sender:       sender,
		hubChainID:   hubChainID,
		strict:       strict,
		account:      chain.ModuleAddress("connected.escrow"),
		escrows:      chain.NewStore[common.Hash, Escrow](),
		requirements: chain.NewStore[common.Hash, Requirements](),
		sessions:     chain.NewStore[common.Hash, gmp.Address](),
	}
}

func (m *EscrowModule) Account() gmp.Address {
	return m.account
}

func (m *EscrowModule) RegisterHandlers(ep *router.Endpoint) {
	ep.RegisterHandler(gmp.TypeIntentRequirements, "escrow.requirements", m.handleRequirements)
	ep.RegisterHandler(gmp.TypeFulfillmentProof, "escrow.fulfillment_proof", m.handleFulfillmentProof)
}

// EscrowID derives the escrow identifier from the chain and intent id.
func EscrowID(chainID uint32, intentID common.Hash) common.Hash {
	buf := make([]byte, 0, 4+32)
	buf = binary.BigEndian.AppendUint32(buf, chainID)
	buf = append(buf, intentID[:]...)
	return crypto.Keccak256Hash(buf)
}

func (m *EscrowModule) handleRequirements(tx *chain.Tx, in *router.Inbound, msg gmp.Message) error {
	req, ok := msg.(*gmp.IntentRequirements)
	if !ok || in.SrcChainID != m.hubChainID || m.requirements.Has(req.IntentID) {
		return nil
	}
	m.requirements.Put(tx, req.IntentID, requirementsFrom(in, req))
	tx.Emit(EventRequirementsStored, &RequirementsStored{Module: "escrow", IntentID: req.IntentID})
	return nil
}

// Create locks the caller's funds for intent p.IntentID and confirms the
// escrow to the hub.
func (m *EscrowModule) Create(tx *chain.Tx, p *EscrowParams) (common.Hash, error) {
	if p.Amount == 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	if p.ReservedSolver.IsZero() {
		return common.Hash{}, ErrSolverRequired
	}
	if p.Expiry <= tx.Timestamp() {
		return common.Hash{}, ErrInvalidExpiry.Wrapf("expiry %d is not after %d", p.Expiry, tx.Timestamp())
	}
	if err := approval.ValidatePublicKey(p.ApproverScheme, p.ApproverKey); err != nil {
		return common.Hash{}, ErrInvalidApprover.Wrapf("%s", err)
	}
	if m.escrows.Has(p.IntentID) {
		return common.Hash{}, ErrEscrowExists.Wrapf("intent %s", p.IntentID)
	}

	req, ok := m.requirements.Get(p.IntentID)
	switch {
	case ok:
		if err := matchRequirements(&req, tx.Caller(), p); err != nil {
			return common.Hash{}, err
		}
	case m.strict:
		return common.Hash{}, ErrRequirementsMissing.Wrapf("intent %s", p.IntentID)
	}

	if err := tx.Transfer(p.Asset, tx.Caller(), m.account, p.Amount); err != nil {
		return common.Hash{}, err
	}
	escrow := Escrow{
		EscrowID:       EscrowID(tx.ChainID(), p.IntentID),
		IntentID:       p.IntentID,
		Asset:          p.Asset,
		Amount:         p.Amount,
		Requester:      tx.Caller(),
		ReservedSolver: p.ReservedSolver,
		ApproverScheme: p.ApproverScheme,
		ApproverKey:    append([]byte(nil), p.ApproverKey...),
		Expiry:         p.Expiry,
		DesiredChainID: p.DesiredChainID,
		CreatedAt:      tx.Timestamp(),
		CreatedTx:      tx.Hash(),
	}
	m.escrows.Put(tx, p.IntentID, escrow)
	tx.Emit(EventEscrowCreated, &EscrowCreated{Escrow: escrow})

	if !m.sender.HasRoute(m.hubChainID) {
		if m.strict {
			return common.Hash{}, ErrHubRouteNotConfigured.Wrapf("chain %d", m.hubChainID)
		}
		return escrow.EscrowID, nil
	}
	_, err := m.sender.SendMessage(tx, m.hubChainID, &gmp.EscrowConfirmation{
		IntentID:       p.IntentID,
		EscrowID:       escrow.EscrowID,
		AmountEscrowed: p.Amount,
		TokenAddr:      p.Asset,
		CreatorAddr:    tx.Caller(),
	})
	if err != nil {
		return common.Hash{}, err
	}
	return escrow.EscrowID, nil
}

func matchRequirements(req *Requirements, creator gmp.Address, p *EscrowParams) error {
	switch {
	case req.AmountRequired != p.Amount:
		return ErrRequirementsMismatch.Wrapf("amount %d, required %d", p.Amount, req.AmountRequired)
	case req.TokenAddr != p.Asset:
		return ErrRequirementsMismatch.Wrapf("token %s, required %s", p.Asset, req.TokenAddr)
	case req.SolverAddr != p.ReservedSolver:
		return ErrRequirementsMismatch.Wrapf("solver %s, required %s", p.ReservedSolver, req.SolverAddr)
	case req.RequesterAddr != creator:
		return ErrRequirementsMismatch.Wrapf("creator %s, required %s", creator, req.RequesterAddr)
	case p.Expiry > req.Expiry:
		return ErrRequirementsMismatch.Wrapf("expiry %d is after intent expiry %d", p.Expiry, req.Expiry)
	case req.SrcChainID != p.DesiredChainID:
		return ErrRequirementsMismatch.Wrapf("desired chain %d, intent lives on %d", p.DesiredChainID, req.SrcChainID)
	}
	return nil
}

// Session is a single-use completion token for one escrow, bound to the
// transaction that started it.
type Session struct {
	tx       *chain.Tx
	intentID common.Hash
	solver   gmp.Address
	finished bool
}

func (s *Session) IntentID() common.Hash { return s.intentID }

func (m *EscrowModule) live(intentID common.Hash) (Escrow, error) {
	escrow, ok := m.escrows.Get(intentID)
	switch {
	case !ok:
		return Escrow{}, ErrEscrowNotFound.Wrapf("intent %s", intentID)
	case escrow.Completed:
		return Escrow{}, ErrEscrowCompleted.Wrapf("intent %s", intentID)
	case escrow.Cancelled:
		return Escrow{}, ErrEscrowCancelled.Wrapf("intent %s", intentID)
	}
	return escrow, nil
}

func (m *EscrowModule) StartSession(tx *chain.Tx, intentID common.Hash, solver gmp.Address) (*Session, error) {
	escrow, err := m.live(intentID)
	if err != nil {
		return nil, err
	}
	if solver != escrow.ReservedSolver {
		return nil, ErrSolverNotReserved.Wrapf("escrow for %s is reserved for %s", intentID, escrow.ReservedSolver)
	}
	if m.sessions.Has(intentID) {
		return nil, ErrSessionConsumed.Wrapf("session for %s already open", intentID)
	}
	m.sessions.Put(tx, intentID, solver)
	s := &Session{tx: tx, intentID: intentID, solver: solver}
	tx.OnCommit(func() error {
		if !s.finished {
			return ErrSessionNotFinished.Wrapf("intent %s", intentID)
		}
		return nil
	})
	return s, nil
}

// Complete verifies the approval signature over the intent id, forwards the
// optional payment to the requester and releases the escrow to the reserved solver.
func (m *EscrowModule) Complete(tx *chain.Tx, s *Session, payment uint64, signature []byte) error {
	if s == nil || s.finished || s.tx != tx || !m.sessions.Has(s.intentID) {
		return ErrSessionConsumed
	}
	escrow, err := m.live(s.intentID)
	if err != nil {
		return err
	}
	if err = approval.Verify(escrow.ApproverScheme, escrow.ApproverKey, escrow.IntentID, signature); err != nil {
		return err
	}
	if err = tx.Transfer(escrow.Asset, tx.Caller(), escrow.Requester, payment); err != nil {
		return err
	}
	s.finished = true
	m.sessions.Delete(tx, s.intentID)
	return m.release(tx, &escrow, "signature")
}

// CompleteEscrow runs a whole completion session on behalf of the reserved solver.
func (m *EscrowModule) CompleteEscrow(tx *chain.Tx, intentID common.Hash, payment uint64, signature []byte) error {
	escrow, err := m.live(intentID)
	if err != nil {
		return err
	}
	s, err := m.StartSession(tx, intentID, escrow.ReservedSolver)
	if err != nil {
		return err
	}
	return m.Complete(tx, s, payment, signature)
}

func (m *EscrowModule) release(tx *chain.Tx, escrow *Escrow, via string) error {
	if err := tx.Transfer(escrow.Asset, m.account, escrow.ReservedSolver, escrow.Amount); err != nil {
		return err
	}
	escrow.Completed = true
	m.escrows.Put(tx, escrow.IntentID, *escrow)
	tx.Emit(EventEscrowReleased, &EscrowReleased{
		IntentID: escrow.IntentID,
		EscrowID: escrow.EscrowID,
		Solver:   escrow.ReservedSolver,
		Amount:   escrow.Amount,
		Via:      via,
	})
	return nil
}

// handleFulfillmentProof releases the escrow when the hub reports that the
// reserved solver fulfilled the intent. Anything else is ignored.
func (m *EscrowModule) handleFulfillmentProof(tx *chain.Tx, in *router.Inbound, msg gmp.Message) error {
	proof, ok := msg.(*gmp.FulfillmentProof)
	if !ok {
		return nil
	}
	escrow, ok := m.escrows.Get(proof.IntentID)
	if !ok || escrow.Completed || escrow.Cancelled {
		return nil
	}
	if in.SrcChainID != escrow.DesiredChainID || proof.SolverAddr != escrow.ReservedSolver {
		return nil
	}
	return m.release(tx, &escrow, "fulfillment_proof")
}

// Cancel refunds the requester once the escrow expired without being completed.
func (m *EscrowModule) Cancel(tx *chain.Tx, intentID common.Hash) error {
	escrow, err := m.live(intentID)
	if err != nil {
		return err
	}
	if tx.Caller() != escrow.Requester {
		return ErrNotRequester.Wrapf("intent %s", intentID)
	}
	if !escrow.Expired(tx.Timestamp()) {
		return ErrEscrowNotExpired.Wrapf("intent %s expires at %d", intentID, escrow.Expiry)
	}
	if err = tx.Transfer(escrow.Asset, m.account, escrow.Requester, escrow.Amount); err != nil {
		return err
	}
	escrow.Cancelled = true
	m.escrows.Put(tx, intentID, escrow)
	tx.Emit(EventEscrowCancelled, &EscrowCancelled{IntentID: intentID, EscrowID: escrow.EscrowID, Requester: escrow.Requester})
	return nil
}

func (m *EscrowModule) Escrow(intentID common.Hash) (*Escrow, error) {
	var (
		res *Escrow
		err error
	)
	m.ledger.View(func() {
		escrow, ok := m.escrows.Get(intentID)
		if !ok {
			err = ErrEscrowNotFound.Wrapf("intent %s", intentID)
			return
		}
		res = &escrow
	})
	return res, err
}

func (m *EscrowModule) Requirements(intentID common.Hash) (*Requirements, bool) {
	var (
		res *Requirements
		ok  bool
	)
	m.ledger.View(func() {
		var req Requirements
		if req, ok = m.requirements.Get(intentID); ok {
			res = &req
		}
	})
	return res, ok
}

type RequirementsStored struct {
	Module   string      `json:"module"`
	IntentID common.Hash `json:"intent_id"`
}

type EscrowCreated struct {
	Escrow Escrow `json:"escrow"`
}

type EscrowReleased struct {
	IntentID common.Hash `json:"intent_id"`
	EscrowID common.Hash `json:"escrow_id"`
	Solver   gmp.Address `json:"solver"`
	Amount   uint64      `json:"amount"`
	Via      string      `json:"via"`
}

type EscrowCancelled struct {
	IntentID  common.Hash `json:"intent_id"`
	EscrowID  common.Hash `json:"escrow_id"`
	Requester gmp.Address `json:"requester"`
}
