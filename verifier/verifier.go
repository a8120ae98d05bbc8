package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/hub"
	"github.com/omni/intent-bridge/logging"
)

var (
	ErrIntentNotFound      = fault.Validation("intent_not_found", "")
	ErrWrongIntentKind     = fault.Validation("wrong_intent_kind", "")
	ErrRevocableIntent     = fault.Validation("revocable_intent", "")
	ErrIntentClosed        = fault.Validation("intent_closed", "")
	ErrApproverMismatch    = fault.Validation("approver_mismatch", "")
	ErrUnknownChain        = fault.Validation("unknown_chain", "")
	ErrChainTypeMismatch   = fault.Validation("chain_type_mismatch", "")
	ErrTransactionNotFound = fault.Validation("transaction_not_found", "")
	ErrTransactionFailed   = fault.Validation("transaction_failed", "")
	ErrNotConfirmed        = fault.Validation("not_confirmed", "")
	ErrTransferNotFound    = fault.Validation("transfer_not_found", "")
	ErrAmountOutOfRange    = fault.Validation("amount_out_of_range", "")
	ErrIntentIDMismatch    = fault.Validation("intent_id_mismatch", "")
	ErrSenderMismatch      = fault.Validation("sender_mismatch", "")
	ErrRecipientMismatch   = fault.Validation("recipient_mismatch", "")
	ErrTokenMismatch       = fault.Validation("token_mismatch", "")
	ErrAmountTooLow        = fault.Validation("amount_too_low", "")
	ErrTransferTooLate     = fault.Validation("transfer_after_expiry", "")
	ErrEscrowNotFound      = fault.Validation("escrow_not_found", "")
	ErrEscrowMismatch      = fault.Validation("escrow_mismatch", "")
	ErrEscrowClosed        = fault.Validation("escrow_closed", "")
	ErrHubNotFulfilled     = fault.Validation("hub_not_fulfilled", "")
	ErrApprovalConflict    = fault.Validation("approval_conflict", "")
)

// OutflowRequest references the direct transfer a solver made on the
// connected chain for an outflow intent.
type OutflowRequest struct {
	IntentID  common.Hash
	TxHash    common.Hash
	ChainType config.ChainType
}

// Service checks connected chain evidence against hub intents and signs the
// intent id of every intent whose evidence holds. Approvals are persisted so
// that the same evidence always yields the same signature. They are scoped by
// network, the genesis of the hub ledger, since intent ids restart with it.
type Service struct {
	logger    logging.Logger
	network   common.Hash
	signer    approval.Signer
	hub       HubReader
	escrows   map[uint32]EscrowReader
	readers   map[uint32]TransactionReader
	approvals entity.ApprovalsRepo
}

func NewService(logger logging.Logger, network common.Hash, signer approval.Signer, hub HubReader, approvals entity.ApprovalsRepo) *Service {
	return &Service{
		logger:    logger.WithField("network", network),
		network:   network,
		signer:    signer,
		hub:       hub,
		escrows:   make(map[uint32]EscrowReader),
		readers:   make(map[uint32]TransactionReader),
		approvals: approvals,
	}
}

// AddEscrowReader must be called before the service is used.
func (s *Service) AddEscrowReader(chainID uint32, r EscrowReader) {
	s.escrows[chainID] = r
}

// AddTransactionReader must be called before the service is used.
func (s *Service) AddTransactionReader(chainID uint32, r TransactionReader) {
	s.readers[chainID] = r
}

func (s *Service) Scheme() approval.Scheme {
	return s.signer.Scheme()
}

func (s *Service) PublicKey() []byte {
	return s.signer.PublicKey()
}

func (s *Service) Approval(ctx context.Context, intentID common.Hash) (*entity.Approval, error) {
	return s.approvals.GetByIntentID(ctx, s.network, intentID)
}

// ValidateOutflowFulfillment checks that the referenced transaction paid the
// requester on the connected chain on behalf of the reserved solver.
func (s *Service) ValidateOutflowFulfillment(ctx context.Context, req *OutflowRequest) (*entity.Approval, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"path":      entity.ApprovalPathOutflow,
		"intent_id": req.IntentID,
		"tx_hash":   req.TxHash,
	})
	res, err := s.validateOutflow(ctx, req)
	observeValidation(entity.ApprovalPathOutflow, err)
	if err != nil {
		logger.WithError(err).Info("outflow fulfillment rejected")
		return nil, err
	}
	logger.Info("outflow fulfillment approved")
	return res, nil
}

func (s *Service) validateOutflow(ctx context.Context, req *OutflowRequest) (*entity.Approval, error) {
	intent, status, err := s.lookup(req.IntentID, hub.KindOutflow)
	if err != nil {
		return nil, err
	}
	reader, ok := s.readers[intent.Desired.ChainID]
	if !ok {
		return nil, ErrUnknownChain.Wrapf("no transaction reader for chain %d", intent.Desired.ChainID)
	}
	if req.ChainType != "" && req.ChainType != reader.ChainType() {
		return nil, ErrChainTypeMismatch.Wrapf("chain %d is %s, got %s", intent.Desired.ChainID, reader.ChainType(), req.ChainType)
	}
	transfer, err := reader.ReadTransfer(ctx, req.TxHash)
	if err != nil {
		return nil, err
	}

	if err = s.checkOracle(intent); err != nil {
		return nil, err
	}
	if !bytes.Equal(transfer.Memo, req.IntentID.Bytes()) {
		return nil, ErrIntentIDMismatch.Wrapf("tx %s carries %x", transfer.TxHash, transfer.Memo)
	}
	if transfer.Sender != intent.Reservation {
		return nil, ErrSenderMismatch.Wrapf("sent by %s, reserved solver is %s", transfer.Sender, intent.Reservation)
	}
	if transfer.To != intent.RequesterOnConnected {
		return nil, ErrRecipientMismatch.Wrapf("paid %s, requester is %s", transfer.To, intent.RequesterOnConnected)
	}
	if transfer.Token != intent.Desired.Asset {
		return nil, ErrTokenMismatch.Wrapf("paid in %s, desired %s", transfer.Token, intent.Desired.Asset)
	}
	if transfer.Amount < intent.Desired.Amount {
		return nil, ErrAmountTooLow.Wrapf("paid %d, desired %d", transfer.Amount, intent.Desired.Amount)
	}
	if intent.Expired(transfer.Timestamp) {
		return nil, ErrTransferTooLate.Wrapf("transfer at %d, intent expired at %d", transfer.Timestamp, intent.Expiry)
	}

	// the evidence holds; a settled intent may still fetch its approval again
	claim := claimHash(entity.ApprovalPathOutflow, req.IntentID, transfer.TxHash.Bytes())
	if existing, err2 := s.existing(ctx, req.IntentID, claim); existing != nil || err2 != nil {
		return existing, err2
	}
	if status.Terminal() {
		return nil, ErrIntentClosed.Wrapf("intent %s is %s", req.IntentID, status)
	}
	return s.sign(ctx, entity.ApprovalPathOutflow, req.IntentID, claim)
}

// ValidateInflowEscrow checks that the connected chain escrow matches the hub
// intent and that the hub intent was settled by the reserved solver.
func (s *Service) ValidateInflowEscrow(ctx context.Context, intentID common.Hash) (*entity.Approval, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"path":      entity.ApprovalPathInflow,
		"intent_id": intentID,
	})
	res, err := s.validateInflow(ctx, intentID)
	observeValidation(entity.ApprovalPathInflow, err)
	if err != nil {
		logger.WithError(err).Info("inflow escrow rejected")
		return nil, err
	}
	logger.Info("inflow escrow approved")
	return res, nil
}

func (s *Service) validateInflow(ctx context.Context, intentID common.Hash) (*entity.Approval, error) {
	rec, err := s.hub.Lookup(intentID)
	if err != nil {
		if errors.Is(err, hub.ErrIntentNotFound) {
			return nil, ErrIntentNotFound.Wrapf("%s", intentID)
		}
		return nil, fmt.Errorf("can't lookup hub intent: %w", err)
	}
	intent := &rec.Intent
	if err = checkIntent(intent, hub.KindInflow); err != nil {
		return nil, err
	}
	reader, ok := s.escrows[intent.Offered.ChainID]
	if !ok {
		return nil, ErrUnknownChain.Wrapf("no escrow reader for chain %d", intent.Offered.ChainID)
	}
	escrow, err := reader.Escrow(intentID)
	if err != nil {
		return nil, ErrEscrowNotFound.Wrapf("intent %s on chain %d", intentID, intent.Offered.ChainID)
	}
	if rec.Status != hub.StatusSettled || rec.Settlement == nil {
		return nil, ErrHubNotFulfilled.Wrapf("intent %s is %s", intentID, rec.Status)
	}
	if rec.Settlement.Solver != intent.Reservation {
		return nil, ErrHubNotFulfilled.Wrapf("settled by %s, reserved solver is %s", rec.Settlement.Solver, intent.Reservation)
	}

	switch {
	case escrow.Amount != intent.Offered.Amount:
		return nil, ErrEscrowMismatch.Wrapf("escrow amount %d, intent offers %d", escrow.Amount, intent.Offered.Amount)
	case escrow.Asset != intent.Offered.Asset:
		return nil, ErrEscrowMismatch.Wrapf("escrow asset %s, intent offers %s", escrow.Asset, intent.Offered.Asset)
	case escrow.ReservedSolver != intent.Reservation:
		return nil, ErrEscrowMismatch.Wrapf("escrow solver %s, intent reserved for %s", escrow.ReservedSolver, intent.Reservation)
	case escrow.Requester != intent.RequesterOnConnected:
		return nil, ErrEscrowMismatch.Wrapf("escrow requester %s, intent requester %s", escrow.Requester, intent.RequesterOnConnected)
	case escrow.ApproverScheme != s.signer.Scheme() || !bytes.Equal(escrow.ApproverKey, s.signer.PublicKey()):
		return nil, ErrApproverMismatch.Wrapf("escrow %s names another approver", escrow.EscrowID)
	}

	claim := claimHash(entity.ApprovalPathInflow, intentID, escrow.EscrowID.Bytes(), escrow.CreatedTx.Bytes(), rec.Settlement.Solver.Bytes())
	if existing, err2 := s.existing(ctx, intentID, claim); existing != nil || err2 != nil {
		return existing, err2
	}
	if escrow.Completed || escrow.Cancelled {
		return nil, ErrEscrowClosed.Wrapf("escrow %s", escrow.EscrowID)
	}
	return s.sign(ctx, entity.ApprovalPathInflow, intentID, claim)
}

func (s *Service) lookup(intentID common.Hash, kind hub.Kind) (*hub.Intent, hub.Status, error) {
	rec, err := s.hub.Lookup(intentID)
	if err != nil {
		if errors.Is(err, hub.ErrIntentNotFound) {
			return nil, 0, ErrIntentNotFound.Wrapf("%s", intentID)
		}
		return nil, 0, fmt.Errorf("can't lookup hub intent: %w", err)
	}
	if err = checkIntent(&rec.Intent, kind); err != nil {
		return nil, 0, err
	}
	return &rec.Intent, rec.Status, nil
}

func checkIntent(intent *hub.Intent, kind hub.Kind) error {
	if intent.Kind != kind {
		return ErrWrongIntentKind.Wrapf("intent %s is %s, expected %s", intent.ID, intent.Kind, kind)
	}
	if intent.Revocable {
		return ErrRevocableIntent.Wrapf("intent %s", intent.ID)
	}
	return nil
}

// checkOracle refuses to sign for intents that would not accept our signature.
func (s *Service) checkOracle(intent *hub.Intent) error {
	if intent.Oracle == nil {
		return ErrApproverMismatch.Wrapf("intent %s has no oracle requirement", intent.ID)
	}
	if intent.Oracle.Scheme != s.signer.Scheme() || !bytes.Equal(intent.Oracle.PublicKey, s.signer.PublicKey()) {
		return ErrApproverMismatch.Wrapf("intent %s names another approver", intent.ID)
	}
	return nil
}

// existing returns the stored approval when it was issued for the same claim.
func (s *Service) existing(ctx context.Context, intentID, claim common.Hash) (*entity.Approval, error) {
	a, err := s.approvals.GetByIntentID(ctx, s.network, intentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("can't get approval: %w", err)
	}
	if a.ClaimHash != claim {
		return nil, ErrApprovalConflict.Wrapf("intent %s was approved for different evidence", intentID)
	}
	return a, nil
}

func (s *Service) sign(ctx context.Context, path entity.ApprovalPath, intentID, claim common.Hash) (*entity.Approval, error) {
	sig, err := s.signer.Sign(intentID)
	if err != nil {
		return nil, fmt.Errorf("can't sign intent id: %w", err)
	}
	stored, err := s.approvals.Ensure(ctx, &entity.Approval{
		Network:   s.network,
		IntentID:  intentID,
		Path:      path,
		ClaimHash: claim,
		Scheme:    string(s.signer.Scheme()),
		Signature: sig,
	})
	if err != nil {
		return nil, fmt.Errorf("can't store approval: %w", err)
	}
	if stored.ClaimHash != claim {
		return nil, ErrApprovalConflict.Wrapf("intent %s was approved for different evidence", intentID)
	}
	return stored, nil
}

func claimHash(path entity.ApprovalPath, intentID common.Hash, parts ...[]byte) common.Hash {
	data := make([][]byte, 0, len(parts)+2)
	data = append(data, []byte(path), intentID.Bytes())
	data = append(data, parts...)
	return crypto.Keccak256Hash(data...)
}
