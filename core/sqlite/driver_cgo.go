//go:build cgo_sqlite

// Build with: CGO_ENABLED=1 go build -tags cgo_sqlite
package sqlite

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName    = "sqlite3"
	driverType    = "cgo"
	driverPackage = "github.com/mattn/go-sqlite3"
)

// connParams are mattn DSN parameters, applied to each new connection.
func connParams(wal bool) []string {
	params := []string{
		"_foreign_keys=on",
		fmt.Sprintf("_busy_timeout=%d", BusyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if wal {
		params = append(params, "_journal_mode=WAL")
	}
	return params
}
