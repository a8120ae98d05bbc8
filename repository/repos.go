package repository

import (
	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/repository/memory"
	"github.com/omni/intent-bridge/repository/postgres"
)

type Repo struct {
	Approvals       entity.ApprovalsRepo
	RelayCursors    entity.RelayCursorsRepo
	RelayDeliveries entity.RelayDeliveriesRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		Approvals:       postgres.NewApprovalsRepo("approvals", db),
		RelayCursors:    postgres.NewRelayCursorsRepo("relay_cursors", db),
		RelayDeliveries: postgres.NewRelayDeliveriesRepo("relay_deliveries", db),
	}
}

// NewMemoryRepo is used when no postgres database is configured.
func NewMemoryRepo() *Repo {
	return &Repo{
		Approvals:       memory.NewApprovalsRepo(),
		RelayCursors:    memory.NewRelayCursorsRepo(),
		RelayDeliveries: memory.NewRelayDeliveriesRepo(),
	}
}
