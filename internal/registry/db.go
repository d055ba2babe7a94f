package registry

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the registry services use.
// Tests substitute a mock; production passes *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Services bundles the three registries behind one constructor.
type Services struct {
	Instances *InstanceRegistry
	Graphs    *GraphRegistry
	Volumes   *VolumeRegistry
}

func NewServices(db DB) *Services {
	return &Services{
		Instances: NewInstanceRegistry(db),
		Graphs:    NewGraphRegistry(db),
		Volumes:   NewVolumeRegistry(db),
	}
}
