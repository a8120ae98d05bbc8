// Package memory keeps repository state in process, for localnet runs
// without postgres and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
)

type approvalKey struct {
	network  common.Hash
	intentID common.Hash
}

type approvalsRepo struct {
	mu   sync.RWMutex
	rows map[approvalKey]entity.Approval
}

func NewApprovalsRepo() entity.ApprovalsRepo {
	return &approvalsRepo{rows: make(map[approvalKey]entity.Approval)}
}

func (r *approvalsRepo) Ensure(_ context.Context, a *entity.Approval) (*entity.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := approvalKey{network: a.Network, intentID: a.IntentID}
	stored, ok := r.rows[key]
	if !ok {
		now := time.Now()
		stored = *a
		stored.Signature = append([]byte(nil), a.Signature...)
		stored.CreatedAt, stored.UpdatedAt = &now, &now
		r.rows[key] = stored
	}
	return &stored, nil
}

func (r *approvalsRepo) GetByIntentID(_ context.Context, network, intentID common.Hash) (*entity.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[approvalKey{network: network, intentID: intentID}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &a, nil
}

type relayCursorsRepo struct {
	mu   sync.RWMutex
	rows map[string]entity.RelayCursor
}

func NewRelayCursorsRepo() entity.RelayCursorsRepo {
	return &relayCursorsRepo{rows: make(map[string]entity.RelayCursor)}
}

func (r *relayCursorsRepo) Ensure(_ context.Context, cursor *entity.RelayCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	row, ok := r.rows[cursor.Route]
	if !ok {
		row = entity.RelayCursor{Route: cursor.Route, CreatedAt: &now}
	}
	row.NextEvent = cursor.NextEvent
	row.UpdatedAt = &now
	r.rows[cursor.Route] = row
	return nil
}

func (r *relayCursorsRepo) GetByRoute(_ context.Context, route string) (*entity.RelayCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[route]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &row, nil
}

type deliveryKey struct {
	route    string
	sequence uint64
}

type relayDeliveriesRepo struct {
	mu   sync.RWMutex
	rows map[deliveryKey]entity.RelayDelivery
}

func NewRelayDeliveriesRepo() entity.RelayDeliveriesRepo {
	return &relayDeliveriesRepo{rows: make(map[deliveryKey]entity.RelayDelivery)}
}

func (r *relayDeliveriesRepo) Ensure(_ context.Context, d *entity.RelayDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	key := deliveryKey{route: d.Route, sequence: d.Sequence}
	row := *d
	if old, ok := r.rows[key]; ok {
		row.CreatedAt = old.CreatedAt
	} else {
		row.CreatedAt = &now
	}
	row.UpdatedAt = &now
	r.rows[key] = row
	return nil
}

func (r *relayDeliveriesRepo) FindByIntentID(_ context.Context, intentID common.Hash) ([]*entity.RelayDelivery, error) {
	res := r.find(func(d *entity.RelayDelivery) bool { return d.IntentID == intentID })
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(*res[j].CreatedAt) })
	return res, nil
}

func (r *relayDeliveriesRepo) find(match func(d *entity.RelayDelivery) bool) []*entity.RelayDelivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*entity.RelayDelivery, 0, 4)
	for _, row := range r.rows {
		row := row
		if match(&row) {
			res = append(res, &row)
		}
	}
	return res
}
