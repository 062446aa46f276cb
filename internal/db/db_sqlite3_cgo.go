//go:build cgo && sqlite3_cgo

package db

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const driverID = "mattn/go-sqlite3"
const driverName = "sqlite3"

func fileDSN(path, txLock string) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=%s&_busy_timeout=%d&_journal_mode=%s",
		path, txLock, busyTimeoutMillis, journalMode)
}

func readOnlyDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, busyTimeoutMillis)
}
