package chain

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
)

var (
	ErrInsufficientBalance = fault.Validation("insufficient_balance", "")
	ErrZeroAddress         = fault.Validation("zero_address", "")
	ErrTxNotFound          = fault.Validation("tx_not_found", "")
)

type Clock func() time.Time

type balanceKey struct {
	asset   gmp.Address
	account gmp.Address
}

type Event struct {
	Index     uint64      `json:"index"`
	TxHash    common.Hash `json:"tx_hash"`
	Timestamp uint64      `json:"timestamp"`
	Name      string      `json:"name"`
	Data      interface{} `json:"data"`
}

type Transaction struct {
	Hash      common.Hash
	Sender    gmp.Address
	Timestamp uint64
	Events    []*Event
}

// Ledger is an in-process ledger with whole-transaction atomicity. All state
// owned by modules deployed on it lives in Stores guarded by the ledger lock.
type Ledger struct {
	chainID  uint32
	genesis  common.Hash
	clock    Clock
	mu       sync.Mutex
	nonce    uint64
	balances map[balanceKey]uint64
	events   []*Event
	txs      map[common.Hash]*Transaction
}

func NewLedger(chainID uint32, clock Clock) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	id := uuid.New()
	return &Ledger{
		chainID:  chainID,
		genesis:  crypto.Keccak256Hash(id[:]),
		clock:    clock,
		balances: make(map[balanceKey]uint64, 64),
		txs:      make(map[common.Hash]*Transaction, 64),
	}
}

func (l *Ledger) ChainID() uint32 {
	return l.chainID
}

// Genesis identifies this ledger instance. Ledgers are not persisted, so
// every process start produces a new one; state kept outside the ledger must
// be scoped by it.
func (l *Ledger) Genesis() common.Hash {
	return l.genesis
}

func (l *Ledger) Now() uint64 {
	return uint64(l.clock().Unix())
}

// Execute runs fn as a single transaction submitted by caller. If fn or any
// commit check fails, every mutation made through tx is undone and no events
// are published.
func (l *Ledger) Execute(caller gmp.Address, fn func(tx *Tx) error) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nonce++
	tx := &Tx{
		ledger:    l,
		caller:    caller,
		timestamp: l.Now(),
		hash:      l.txHash(caller, l.nonce),
	}
	err := fn(tx)
	if err == nil {
		err = tx.runCommitChecks()
	}
	if err != nil {
		tx.rollback()
		return tx.hash, err
	}
	l.commit(tx)
	return tx.hash, nil
}

// View runs fn under the ledger lock without a transaction.
func (l *Ledger) View(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Mint credits an account outside of any transaction; used for genesis allocations.
func (l *Ledger) Mint(asset, account gmp.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey{asset, account}] += amount
}

func (l *Ledger) BalanceOf(asset, account gmp.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{asset, account}]
}

// Events returns up to limit committed events with index >= from.
func (l *Ledger) Events(from uint64, limit int) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from >= uint64(len(l.events)) {
		return nil
	}
	end := uint64(len(l.events))
	if limit > 0 && from+uint64(limit) < end {
		end = from + uint64(limit)
	}
	res := make([]*Event, end-from)
	copy(res, l.events[from:end])
	return res
}

func (l *Ledger) EventCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events))
}

func (l *Ledger) Transaction(hash common.Hash) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[hash]
	if !ok {
		return nil, ErrTxNotFound.Wrapf("%s", hash)
	}
	return tx, nil
}

func (l *Ledger) txHash(caller gmp.Address, nonce uint64) common.Hash {
	buf := make([]byte, 0, 4+32+8)
	buf = binary.BigEndian.AppendUint32(buf, l.chainID)
	buf = append(buf, caller[:]...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return crypto.Keccak256Hash(buf)
}

func (l *Ledger) commit(tx *Tx) {
	record := &Transaction{
		Hash:      tx.hash,
		Sender:    tx.caller,
		Timestamp: tx.timestamp,
		Events:    make([]*Event, 0, len(tx.events)),
	}
	for _, e := range tx.events {
		e.Index = uint64(len(l.events))
		l.events = append(l.events, e)
		record.Events = append(record.Events, e)
	}
	l.txs[tx.hash] = record
}

func (l *Ledger) String() string {
	return fmt.Sprintf("ledger(%d)", l.chainID)
}

// ModuleAddress derives the account that holds funds locked by an on-chain module.
func ModuleAddress(name string) gmp.Address {
	return gmp.Address(crypto.Keccak256Hash([]byte("module:" + name)))
}
