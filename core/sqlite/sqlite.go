// Package sqlite opens SQLite databases through either the pure Go
// modernc.org/sqlite driver (default) or mattn/go-sqlite3 (-tags cgo_sqlite).
//
// Use Open instead of sql.Open so the configured driver and connection
// pragmas are applied consistently.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// BusyTimeout is how long a connection waits on a locked database.
const BusyTimeout = 5 * time.Second

// DriverName returns the registered database/sql driver name.
func DriverName() string {
	return driverName
}

// DriverType returns "cgo" for mattn/go-sqlite3 and "purego" for modernc.
func DriverType() string {
	return driverType
}

// IsCGO reports whether the CGO implementation is compiled in.
func IsCGO() bool {
	return driverType == "cgo"
}

// Open opens path with foreign keys, a busy timeout and immediate write
// transactions on every pooled connection, and switches file databases to
// WAL. ":memory:" databases are pinned to one connection so every query
// sees the same schema.
func Open(path string) (*sql.DB, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	db, err := sql.Open(driverName, withParams(path, connParams(!memory)))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return db, nil
}

// OpenReadOnly opens a SQLite database in read-only mode.
func OpenReadOnly(path string) (*sql.DB, error) {
	return sql.Open(driverName, withParams("file:"+path+"?mode=ro", connParams(false)))
}

// MustOpen is Open for tests and init code where failure is unrecoverable.
func MustOpen(path string) *sql.DB {
	db, err := Open(path)
	if err != nil {
		panic(err)
	}
	return db
}

// withParams appends DSN query parameters to path.
func withParams(path string, params []string) string {
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// Info describes the compiled-in driver.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns information about the current SQLite configuration.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}
