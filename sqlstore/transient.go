package sqlstore

import (
	"errors"

	"github.com/deepnoodle-ai/swflow/retry"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Postgres error codes worth retrying outside the connection exception
// class.
const (
	pqTooManyConnections = "53300"
	pqCannotConnectNow   = "57P03"
)

// isTransient reports whether a database error may clear up on retry:
// Postgres connection exceptions and startup refusals, a busy or locked
// SQLite database, and whatever retry.IsRecoverable accepts.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08",
			pqErr.Code == pqTooManyConnections,
			pqErr.Code == pqCannotConnectNow:
			return true
		default:
			return false
		}
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		default:
			return false
		}
	}
	return retry.IsRecoverable(err)
}
