package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
)

type approvalsRepo basePostgresRepo

func NewApprovalsRepo(table string, db *db.DB) entity.ApprovalsRepo {
	return (*approvalsRepo)(newBasePostgresRepo(table, db))
}

func (r *approvalsRepo) Ensure(ctx context.Context, a *entity.Approval) (*entity.Approval, error) {
	q, args, err := sq.Insert(r.table).
		Columns("network", "intent_id", "path", "claim_hash", "scheme", "signature").
		Values(a.Network, a.IntentID, a.Path, a.ClaimHash, a.Scheme, a.Signature).
		Suffix("ON CONFLICT (network, intent_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't insert approval: %w", err)
	}
	return r.GetByIntentID(ctx, a.Network, a.IntentID)
}

func (r *approvalsRepo) GetByIntentID(ctx context.Context, network, intentID common.Hash) (*entity.Approval, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"network": network, "intent_id": intentID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	a := new(entity.Approval)
	err = r.db.GetContext(ctx, a, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get approval by intent id: %w", err)
	}
	return a, nil
}
