package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Open connects to the Entry Store named by driver and applies its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "pgx", "postgresql":
		return OpenPostgres(ctx, dsn)
	case DriverSQLite, "sqlite":
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
	return nil, fmt.Errorf("unsupported store driver %q", driver)
}
