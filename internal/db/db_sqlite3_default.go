//go:build !sqlite3_cgo

package db

import (
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const driverID = "ncruces/go-sqlite3"
const driverName = "sqlite3"

func fileDSN(path, txLock string) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=%s&_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)",
		path, txLock, busyTimeoutMillis, journalMode)
}

func readOnlyDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(%d)", path, busyTimeoutMillis)
}
