package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
)

type relayCursorsRepo basePostgresRepo

func NewRelayCursorsRepo(table string, db *db.DB) entity.RelayCursorsRepo {
	return (*relayCursorsRepo)(newBasePostgresRepo(table, db))
}

func (r *relayCursorsRepo) Ensure(ctx context.Context, cursor *entity.RelayCursor) error {
	q, args, err := sq.Insert(r.table).
		Columns("route", "next_event").
		Values(cursor.Route, cursor.NextEvent).
		Suffix("ON CONFLICT (route) DO UPDATE SET updated_at = NOW(), next_event = EXCLUDED.next_event").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert relay cursor: %w", err)
	}
	return nil
}

func (r *relayCursorsRepo) GetByRoute(ctx context.Context, route string) (*entity.RelayCursor, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"route": route}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	cursor := new(entity.RelayCursor)
	err = r.db.GetContext(ctx, cursor, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get relay cursor by route: %w", err)
	}
	return cursor, nil
}
