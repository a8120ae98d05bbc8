package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/gmp"
)

type Tx struct {
	ledger       *Ledger
	caller       gmp.Address
	timestamp    uint64
	hash         common.Hash
	undo         []func()
	events       []*Event
	commitChecks []func() error
}

func (tx *Tx) Caller() gmp.Address { return tx.caller }

func (tx *Tx) Timestamp() uint64 { return tx.timestamp }

func (tx *Tx) Hash() common.Hash { return tx.hash }

func (tx *Tx) ChainID() uint32 { return tx.ledger.chainID }

// OnRollback registers an undo step, run in reverse order if the transaction aborts.
func (tx *Tx) OnRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

// OnCommit registers a check evaluated after the transaction body succeeded.
// A failing check aborts the whole transaction.
func (tx *Tx) OnCommit(check func() error) {
	tx.commitChecks = append(tx.commitChecks, check)
}

func (tx *Tx) Emit(name string, data interface{}) {
	tx.events = append(tx.events, &Event{
		TxHash:    tx.hash,
		Timestamp: tx.timestamp,
		Name:      name,
		Data:      data,
	})
}

func (tx *Tx) Balance(asset, account gmp.Address) uint64 {
	return tx.ledger.balances[balanceKey{asset, account}]
}

func (tx *Tx) Transfer(asset, from, to gmp.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if to.IsZero() {
		return ErrZeroAddress.Wrapf("transfer of %d %s to zero address", amount, asset)
	}
	fromKey, toKey := balanceKey{asset, from}, balanceKey{asset, to}
	fromBalance := tx.ledger.balances[fromKey]
	if fromBalance < amount {
		return ErrInsufficientBalance.Wrapf("account %s holds %d of %s, needs %d", from, fromBalance, asset, amount)
	}
	toBalance := tx.ledger.balances[toKey]
	if toBalance+amount < toBalance {
		return fmt.Errorf("balance overflow for account %s", to)
	}
	tx.setBalance(fromKey, fromBalance-amount)
	tx.setBalance(toKey, tx.ledger.balances[toKey]+amount)
	tx.Emit(EventTransfer, &TransferEvent{Asset: asset, From: from, To: to, Amount: amount})
	return nil
}

func (tx *Tx) setBalance(key balanceKey, value uint64) {
	prev, existed := tx.ledger.balances[key]
	tx.OnRollback(func() {
		if existed {
			tx.ledger.balances[key] = prev
		} else {
			delete(tx.ledger.balances, key)
		}
	})
	tx.ledger.balances[key] = value
}

func (tx *Tx) runCommitChecks() error {
	for _, check := range tx.commitChecks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.events = nil
}

// Memo attaches opaque data to the transaction, e.g. the intent id a
// direct transfer pays for.
func (tx *Tx) Memo(data []byte) {
	tx.Emit(EventMemo, &MemoEvent{Data: append([]byte(nil), data...)})
}

const (
	EventTransfer = "Transfer"
	EventMemo     = "Memo"
)

type MemoEvent struct {
	Data []byte `json:"data"`
}

type TransferEvent struct {
	Asset  gmp.Address `json:"asset"`
	From   gmp.Address `json:"from"`
	To     gmp.Address `json:"to"`
	Amount uint64      `json:"amount"`
}

// Store is a keyed map whose writes are journaled on the enclosing transaction.
// Reads must happen inside Ledger.Execute or Ledger.View.
type Store[K comparable, V any] struct {
	m map[K]V
}

func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{m: make(map[K]V)}
}

func (s *Store[K, V]) Get(key K) (V, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *Store[K, V]) Has(key K) bool {
	_, ok := s.m[key]
	return ok
}

func (s *Store[K, V]) Len() int {
	return len(s.m)
}

func (s *Store[K, V]) Put(tx *Tx, key K, value V) {
	prev, existed := s.m[key]
	tx.OnRollback(func() {
		if existed {
			s.m[key] = prev
		} else {
			delete(s.m, key)
		}
	})
	s.m[key] = value
}

func (s *Store[K, V]) Delete(tx *Tx, key K) {
	prev, existed := s.m[key]
	if !existed {
		return
	}
	tx.OnRollback(func() {
		s.m[key] = prev
	})
	delete(s.m, key)
}

func (s *Store[K, V]) Range(fn func(key K, value V) bool) {
	for k, v := range s.m {
		if !fn(k, v) {
			return
		}
	}
}
