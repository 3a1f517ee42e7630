//go:build !cgo_sqlite

package sqlite

import (
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	driverName    = "sqlite"
	driverType    = "purego"
	driverPackage = "modernc.org/sqlite"
)

// connParams are modernc DSN parameters, applied to each new connection.
func connParams(wal bool) []string {
	params := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", BusyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if wal {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return params
}
