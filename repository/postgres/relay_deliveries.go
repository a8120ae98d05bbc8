package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
)

type relayDeliveriesRepo basePostgresRepo

func NewRelayDeliveriesRepo(table string, db *db.DB) entity.RelayDeliveriesRepo {
	return (*relayDeliveriesRepo)(newBasePostgresRepo(table, db))
}

func (r *relayDeliveriesRepo) Ensure(ctx context.Context, d *entity.RelayDelivery) error {
	q, args, err := sq.Insert(r.table).
		Columns("route", "src_chain_id", "dst_chain_id", "sequence", "message_type", "intent_id", "tx_hash", "status", "attempts", "error").
		Values(d.Route, d.SrcChainID, d.DstChainID, d.Sequence, d.MessageType, d.IntentID, d.TxHash, d.Status, d.Attempts, d.Error).
		Suffix("ON CONFLICT (route, sequence) DO UPDATE SET updated_at = NOW(), tx_hash = EXCLUDED.tx_hash, status = EXCLUDED.status, attempts = EXCLUDED.attempts, error = EXCLUDED.error").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't ensure relay delivery: %w", err)
	}
	return nil
}

func (r *relayDeliveriesRepo) FindByIntentID(ctx context.Context, intentID common.Hash) ([]*entity.RelayDelivery, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"intent_id": intentID}).
		OrderBy("created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	res := make([]*entity.RelayDelivery, 0, 4)
	err = r.db.SelectContext(ctx, &res, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get relay deliveries by intent id: %w", err)
	}
	return res, nil
}
