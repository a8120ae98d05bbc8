package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/connected"
	"github.com/omni/intent-bridge/contract"
	"github.com/omni/intent-bridge/ethclient"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/hub"
)

type HubReader interface {
	Lookup(intentID common.Hash) (*hub.Record, error)
}

type EscrowReader interface {
	Escrow(intentID common.Hash) (*connected.Escrow, error)
}

// Transfer is a token movement extracted from a connected chain transaction.
type Transfer struct {
	TxHash    common.Hash
	Sender    gmp.Address
	Token     gmp.Address
	From      gmp.Address
	To        gmp.Address
	Amount    uint64
	Memo      []byte
	Timestamp uint64
}

type TransactionReader interface {
	ChainType() config.ChainType
	ReadTransfer(ctx context.Context, txHash common.Hash) (*Transfer, error)
}

// LedgerReader reads transfers from an in-process ledger. The intent id is
// taken from a Memo event or from an OutflowFulfilled event of the validator.
type LedgerReader struct {
	ledger *chain.Ledger
}

func NewLedgerReader(ledger *chain.Ledger) *LedgerReader {
	return &LedgerReader{ledger: ledger}
}

func (r *LedgerReader) ChainType() config.ChainType {
	return config.ChainTypeLocalnet
}

func (r *LedgerReader) ReadTransfer(_ context.Context, txHash common.Hash) (*Transfer, error) {
	rec, err := r.ledger.Transaction(txHash)
	if err != nil {
		return nil, ErrTransactionNotFound.Wrapf("%s on chain %d", txHash, r.ledger.ChainID())
	}
	res := &Transfer{TxHash: rec.Hash, Sender: rec.Sender, Timestamp: rec.Timestamp}
	found := false
	for _, e := range rec.Events {
		switch data := e.Data.(type) {
		case *chain.MemoEvent:
			if res.Memo == nil {
				res.Memo = data.Data
			}
		case *connected.OutflowFulfilled:
			if res.Memo == nil {
				res.Memo = data.IntentID.Bytes()
			}
		case *chain.TransferEvent:
			if !found && data.From == rec.Sender {
				res.Token, res.From, res.To, res.Amount = data.Asset, data.From, data.To, data.Amount
				found = true
			}
		}
	}
	if !found {
		return nil, ErrTransferNotFound.Wrapf("tx %s", txHash)
	}
	return res, nil
}

// EVMReader reads ERC20 transfer(address,uint256) calls with the intent id
// appended to the calldata.
type EVMReader struct {
	client        ethclient.Client
	confirmations uint64
}

func NewEVMReader(client ethclient.Client, confirmations uint64) *EVMReader {
	return &EVMReader{client: client, confirmations: confirmations}
}

func (r *EVMReader) ChainType() config.ChainType {
	return config.ChainTypeEVM
}

func (r *EVMReader) ReadTransfer(ctx context.Context, txHash common.Hash) (*Transfer, error) {
	tx, err := r.client.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) || errors.Is(err, ethclient.ErrPendingTransaction) {
			return nil, ErrTransactionNotFound.Wrapf("%s: %s", txHash, err)
		}
		return nil, fmt.Errorf("can't get transaction: %w", err)
	}
	receipt, err := r.client.TransactionReceiptByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTransactionNotFound.Wrapf("receipt for %s", txHash)
		}
		return nil, fmt.Errorf("can't get transaction receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrTransactionFailed.Wrapf("%s", txHash)
	}
	if r.confirmations > 0 {
		head, err2 := r.client.BlockNumber(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("can't get block number: %w", err2)
		}
		if head+1 < receipt.BlockNumber.Uint64()+r.confirmations {
			return nil, ErrNotConfirmed.Wrapf("tx %s in block %s, head %d", txHash, receipt.BlockNumber, head)
		}
	}
	header, err := r.client.HeaderByNumber(ctx, receipt.BlockNumber.Uint64())
	if err != nil {
		return nil, fmt.Errorf("can't get block header: %w", err)
	}

	sender, err := r.client.TransactionSender(tx)
	if err != nil {
		return nil, fmt.Errorf("can't recover transaction sender: %w", err)
	}
	if tx.To() == nil {
		return nil, ErrTransferNotFound.Wrapf("tx %s is a contract creation", txHash)
	}
	call, err := contract.ParseTransferCall(tx.Data())
	if err != nil {
		return nil, ErrTransferNotFound.Wrapf("tx %s: %s", txHash, err)
	}
	token := *tx.To()
	for _, log := range receipt.Logs {
		if log.Address != token {
			continue
		}
		transfer, err2 := contract.ParseTransferLog(log)
		if err2 != nil || transfer.From != sender || transfer.To != call.To {
			continue
		}
		if !transfer.Value.IsUint64() || transfer.Value.Cmp(big.NewInt(0)) <= 0 {
			return nil, ErrAmountOutOfRange.Wrapf("tx %s transfers %s", txHash, transfer.Value)
		}
		return &Transfer{
			TxHash:    txHash,
			Sender:    gmp.EVMAddress(sender),
			Token:     gmp.EVMAddress(token),
			From:      gmp.EVMAddress(transfer.From),
			To:        gmp.EVMAddress(transfer.To),
			Amount:    transfer.Value.Uint64(),
			Memo:      call.Memo,
			Timestamp: header.Time,
		}, nil
	}
	return nil, ErrTransferNotFound.Wrapf("tx %s has no matching Transfer log", txHash)
}
