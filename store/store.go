package store

import (
	"context"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tenant"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	tenant.Store
	dlq.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
