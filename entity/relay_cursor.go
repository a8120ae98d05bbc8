package entity

import (
	"context"
	"time"
)

type RelayCursor struct {
	Route     string     `db:"route"`
	NextEvent uint64     `db:"next_event"`
	CreatedAt *time.Time `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
}

type RelayCursorsRepo interface {
	Ensure(ctx context.Context, cursor *RelayCursor) error
	GetByRoute(ctx context.Context, route string) (*RelayCursor, error)
}
