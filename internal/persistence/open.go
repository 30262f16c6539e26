// Package persistence selects a run ledger backend by driver name.
package persistence

import (
	"context"
	"dispensecore/internal/infra/persistence/memory"
	"dispensecore/internal/infra/persistence/postgres"
	"dispensecore/internal/infra/persistence/sqlite"
	"dispensecore/pkg/domain"
	"fmt"
	"strings"
)

// Driver identifies a concrete run ledger implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// UnknownDriverError is returned for driver names Open does not recognise.
type UnknownDriverError struct {
	Driver string
}

func (e UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown storage driver %q", e.Driver)
}

// Open returns the ledger for driver. dsn is the sqlite path or the postgres
// connection string and is ignored by the memory driver. An empty driver
// selects sqlite.
func Open(ctx context.Context, driver, dsn string) (domain.RunStore, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(driver)))
	if d == "" {
		d = DriverSQLite
	}
	switch d {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, dsn)
	case DriverPostgres:
		return postgres.NewStore(ctx, dsn)
	default:
		return nil, UnknownDriverError{Driver: driver}
	}
}
